package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"postboard/internal/auth"
	"postboard/internal/repository"
	"postboard/internal/search"
	"postboard/internal/service"
)

const missingPostMessage = "param is missing or the value is empty: post"

// maxPostBodySize bounds the JSON body of post writes.
const maxPostBodySize = 1 << 20

// nullableString remembers whether the key was present at all.
type nullableString struct {
	Set   bool
	Value *string
}

func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected a string or null: %w", err)
	}
	n.Value = &s
	return nil
}

// postParams holds the permitted post attributes; everything else in the
// body, user_id and id included, is dropped.
type postParams struct {
	Title   nullableString `json:"title"`
	Content nullableString `json:"content"`
}

func (p postParams) attributes() service.PostAttributes {
	return service.PostAttributes{
		Title:   service.OptionalString{Set: p.Title.Set, Value: p.Title.Value},
		Content: service.OptionalString{Set: p.Content.Set, Value: p.Content.Value},
	}
}

var errMissingPost = errors.New(missingPostMessage)

// bindPostParams requires a non-empty "post" object in the JSON body.
func bindPostParams(c *gin.Context) (postParams, error) {
	var params postParams
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPostBodySize))
	if err != nil {
		return params, err
	}
	var envelope struct {
		Post json.RawMessage `json:"post"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return params, err
	}
	var raw map[string]json.RawMessage
	if len(envelope.Post) == 0 || json.Unmarshal(envelope.Post, &raw) != nil || len(raw) == 0 {
		return params, errMissingPost
	}
	if err := json.Unmarshal(envelope.Post, &params); err != nil {
		return params, err
	}
	return params, nil
}

func (h *Handler) listPosts(c *gin.Context) {
	filter := search.ParseQuery(c.Request.URL.Query())
	page, _ := strconv.Atoi(c.Query("page"))
	items, _ := strconv.Atoi(c.Query("items"))

	result, err := h.posts.ListPosts(c.Request.Context(), filter, page, items)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageToResponse(result))
}

func (h *Handler) getPost(c *gin.Context) {
	id, ok := parseID(c, "Post")
	if !ok {
		return
	}
	post, err := h.posts.GetPost(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			renderNotFound(c, "Post", id)
			return
		}
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, postToResponse(*post))
}

func (h *Handler) createPost(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		h.renderError(c, auth.ErrUnauthenticated)
		return
	}
	params, err := bindPostParams(c)
	if err != nil {
		renderBindError(c, err)
		return
	}

	post, err := h.posts.CreatePost(c.Request.Context(), user.ID, params.attributes())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, postToResponse(*post))
}

func (h *Handler) updatePost(c *gin.Context) {
	id, ok := parseID(c, "Post")
	if !ok {
		return
	}
	// a missing record wins over a bad body
	if _, err := h.posts.GetPost(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			renderNotFound(c, "Post", id)
			return
		}
		h.renderError(c, err)
		return
	}
	params, err := bindPostParams(c)
	if err != nil {
		renderBindError(c, err)
		return
	}

	post, err := h.posts.UpdatePost(c.Request.Context(), id, params.attributes())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			renderNotFound(c, "Post", id)
			return
		}
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, postToResponse(*post))
}

func (h *Handler) deletePost(c *gin.Context) {
	id, ok := parseID(c, "Post")
	if !ok {
		return
	}
	if err := h.posts.DeletePost(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			renderNotFound(c, "Post", id)
			return
		}
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}

func renderBindError(c *gin.Context, err error) {
	if errors.Is(err, errMissingPost) {
		renderMessages(c, http.StatusBadRequest, missingPostMessage)
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		renderMessages(c, http.StatusRequestEntityTooLarge, "Request body is too large")
		return
	}
	renderMessages(c, http.StatusBadRequest, "Malformed request body")
}
