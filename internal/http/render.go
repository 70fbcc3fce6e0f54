package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"postboard/internal/auth"
	"postboard/internal/domain"
	"postboard/internal/repository"
	"postboard/internal/service"
	"postboard/internal/storage"
)

const internalErrorMessage = "Internal server error"

type errorResponse struct {
	Errors []string `json:"errors"`
}

type PostResponse struct {
	ID        int64   `json:"id"`
	Title     *string `json:"title"`
	Content   *string `json:"content"`
	UserID    int64   `json:"user_id"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type PaginationResponse struct {
	Page  int  `json:"page"`
	Items int  `json:"items"`
	Count int  `json:"count"`
	Pages int  `json:"pages"`
	Prev  *int `json:"prev"`
	Next  *int `json:"next"`
}

type PostListResponse struct {
	Posts      []PostResponse     `json:"posts"`
	Pagination PaginationResponse `json:"pagination"`
}

type UserResponse struct {
	ID        int64   `json:"id"`
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type JobResponse struct {
	ID           int64            `json:"id"`
	Kind         string           `json:"kind"`
	Status       domain.JobStatus `json:"status"`
	Attempts     int              `json:"attempts"`
	ErrorMessage string           `json:"error_message"`
	CreatedAt    string           `json:"created_at"`
	UpdatedAt    string           `json:"updated_at"`
	StartedAt    *string          `json:"started_at,omitempty"`
	FinishedAt   *string          `json:"finished_at,omitempty"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func postToResponse(post domain.Post) PostResponse {
	return PostResponse{
		ID:        post.ID,
		Title:     post.Title,
		Content:   post.Content,
		UserID:    post.UserID,
		CreatedAt: formatTime(post.CreatedAt),
		UpdatedAt: formatTime(post.UpdatedAt),
	}
}

func pageToResponse(page *service.PostPage) PostListResponse {
	resp := PostListResponse{
		Posts: make([]PostResponse, len(page.Posts)),
		Pagination: PaginationResponse{
			Page:  page.Pagination.Page,
			Items: page.Pagination.Items,
			Count: page.Pagination.Count,
			Pages: page.Pagination.Pages,
			Prev:  page.Pagination.Prev,
			Next:  page.Pagination.Next,
		},
	}
	for i := range page.Posts {
		resp.Posts[i] = postToResponse(page.Posts[i])
	}
	return resp
}

func userToResponse(user *domain.User, avatarURL string) UserResponse {
	resp := UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: formatTime(user.CreatedAt),
		UpdatedAt: formatTime(user.UpdatedAt),
	}
	if avatarURL != "" {
		resp.AvatarURL = &avatarURL
	}
	return resp
}

func jobToResponse(job domain.Job) JobResponse {
	return JobResponse{
		ID:           job.ID,
		Kind:         job.Kind,
		Status:       job.Status,
		Attempts:     job.Attempts,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
		StartedAt:    formatTimePtr(job.StartedAt),
		FinishedAt:   formatTimePtr(job.FinishedAt),
	}
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	return StorageObjectResponse{
		Key:          obj.Key,
		Size:         obj.Size,
		LastModified: formatTimePtr(obj.LastModified),
	}
}

func renderMessages(c *gin.Context, status int, messages ...string) {
	if messages == nil {
		messages = []string{}
	}
	c.AbortWithStatusJSON(status, errorResponse{Errors: messages})
}

func renderNotFound(c *gin.Context, model string, id int64) {
	renderMessages(c, http.StatusNotFound, fmt.Sprintf("Couldn't find %s with 'id'=%d", model, id))
}

// renderError maps service and repository errors onto status codes. Causes
// of unexpected errors are logged, never rendered.
func (h *Handler) renderError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var deleteErr *service.DeleteError
	switch {
	case errors.As(err, &validationErr):
		renderMessages(c, http.StatusUnprocessableEntity, validationErr.Messages...)
	case errors.As(err, &deleteErr):
		renderMessages(c, http.StatusUnprocessableEntity, deleteErr.Messages...)
	case errors.Is(err, repository.ErrNotFound):
		renderMessages(c, http.StatusNotFound, "Record not found")
	case errors.Is(err, auth.ErrUnauthenticated):
		renderMessages(c, http.StatusUnauthorized, auth.UnauthenticatedMessage)
	case errors.Is(err, service.ErrStorageDisabled):
		renderMessages(c, http.StatusUnprocessableEntity, "Avatar uploads are not available")
	default:
		_ = c.Error(err)
		h.logger.WithField("request_id", c.GetString("request_id")).Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		renderMessages(c, http.StatusInternalServerError, internalErrorMessage)
	}
}

// parseID reads the :id route parameter. Ids that are not positive integers
// cannot match a record and render the model's not-found message.
func parseID(c *gin.Context, model string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		renderMessages(c, http.StatusNotFound, fmt.Sprintf("Couldn't find %s with 'id'=%s", model, c.Param("id")))
		return 0, false
	}
	return id, true
}
