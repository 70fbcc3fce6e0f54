package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"postboard/internal/domain"
	"postboard/internal/featureflag"
	"postboard/internal/jobs"
	"postboard/internal/repository"
)

type setFlagRequest struct {
	Enabled *bool   `json:"enabled" binding:"required"`
	Actors  []int64 `json:"actors"`
}

func (h *Handler) listFlags(c *gin.Context) {
	flags, err := h.flags.List()
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feature_flags": flags})
}

func (h *Handler) getFlag(c *gin.Context) {
	flag, err := h.flags.Get(c.Param("name"))
	if err != nil {
		h.renderFlagError(c, err)
		return
	}
	c.JSON(http.StatusOK, flag)
}

func (h *Handler) setFlag(c *gin.Context) {
	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderMessages(c, http.StatusBadRequest, "enabled is required")
		return
	}
	flag, err := h.flags.Set(c.Param("name"), *req.Enabled, req.Actors)
	if err != nil {
		h.renderFlagError(c, err)
		return
	}
	h.logger.WithField("flag", flag.Name).Infof("feature flag set: enabled=%t actors=%v", flag.Enabled, flag.Actors)
	c.JSON(http.StatusOK, flag)
}

func (h *Handler) deleteFlag(c *gin.Context) {
	if err := h.flags.Delete(c.Param("name")); err != nil {
		h.renderFlagError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Feature flag deleted"})
}

func (h *Handler) renderFlagError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, featureflag.ErrNotFound):
		renderMessages(c, http.StatusNotFound, fmt.Sprintf("Couldn't find feature flag %q", c.Param("name")))
	case errors.Is(err, featureflag.ErrInvalidName):
		renderMessages(c, http.StatusUnprocessableEntity, "Name must contain only lowercase letters, digits, dashes and underscores")
	default:
		h.renderError(c, err)
	}
}

func (h *Handler) listJobs(c *gin.Context) {
	var statuses []domain.JobStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := domain.JobStatus(strings.TrimSpace(s))
			switch status {
			case domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusCompleted, domain.JobStatusFailed:
				statuses = append(statuses, status)
			default:
				renderMessages(c, http.StatusBadRequest, fmt.Sprintf("unknown job status %q", s))
				return
			}
		}
	}

	list, err := h.jobs.List(c.Request.Context(), statuses...)
	if err != nil {
		h.renderError(c, err)
		return
	}
	resp := make([]JobResponse, len(list))
	for i := range list {
		resp[i] = jobToResponse(list[i])
	}
	c.JSON(http.StatusOK, gin.H{"jobs": resp})
}

func (h *Handler) getJob(c *gin.Context) {
	id, ok := parseID(c, "Job")
	if !ok {
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		h.renderJobError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(*job))
}

func (h *Handler) retryJob(c *gin.Context) {
	id, ok := parseID(c, "Job")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	job, err := h.jobs.Retry(ctx, id)
	if err != nil {
		h.renderJobError(c, id, err)
		return
	}
	c.JSON(http.StatusAccepted, jobToResponse(*job))
}

func (h *Handler) deleteJob(c *gin.Context) {
	id, ok := parseID(c, "Job")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.jobs.Delete(ctx, id); err != nil {
		h.renderJobError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) renderJobError(c *gin.Context, id int64, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		renderNotFound(c, "Job", id)
	case errors.Is(err, jobs.ErrJobActive):
		renderMessages(c, http.StatusConflict, fmt.Sprintf("Job %d has not finished yet", id))
	default:
		h.renderError(c, err)
	}
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		renderMessages(c, http.StatusServiceUnavailable, "storage service not configured")
		return
	}

	prefix := c.Query("prefix")
	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, prefix)
	if err != nil {
		h.renderError(c, err)
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, gin.H{"objects": resp})
}
