package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"postboard/internal/auth"
	"postboard/internal/domain"
	"postboard/internal/service"
)

const invalidLoginMessage = "Invalid email or password."

type credentialsRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type signUpRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Name     string `json:"name" form:"name"`
}

type updateUserRequest struct {
	User struct {
		Name *string `json:"name"`
	} `json:"user"`
}

func (h *Handler) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBind(&req); err != nil {
		renderMessages(c, http.StatusBadRequest, "Malformed request body")
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if err := h.auth.SignIn(c, user); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": userToResponse(user, "")})
}

func (h *Handler) webSignIn(c *gin.Context) {
	user, ok := h.authenticate(c)
	if !ok {
		return
	}
	if err := h.auth.SignIn(c, user); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": h.userResponse(c, user)})
}

func (h *Handler) signOut(c *gin.Context) {
	h.auth.SignOut(c)
	c.JSON(http.StatusOK, gin.H{"message": "Signed out successfully."})
}

// apiSignIn hands out a bearer token. The session is skipped for /api, so
// SignIn only sets the principal for this request.
func (h *Handler) apiSignIn(c *gin.Context) {
	user, ok := h.authenticate(c)
	if !ok {
		return
	}
	if err := h.auth.SignIn(c, user); err != nil {
		h.renderError(c, err)
		return
	}
	token, expires, err := h.auth.Tokens().Issue(user.ID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": formatTime(expires),
		"user":       h.userResponse(c, user),
	})
}

func (h *Handler) authenticate(c *gin.Context) (*domain.User, bool) {
	var req credentialsRequest
	if err := c.ShouldBind(&req); err != nil {
		renderMessages(c, http.StatusBadRequest, "Malformed request body")
		return nil, false
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			renderMessages(c, http.StatusUnauthorized, invalidLoginMessage)
			return nil, false
		}
		h.renderError(c, err)
		return nil, false
	}
	return user, true
}

func (h *Handler) showUser(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		h.renderError(c, auth.ErrUnauthenticated)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": h.userResponse(c, user)})
}

// updateUser accepts {"user":{"name":...}} as JSON, or a multipart form with
// user[name] and an optional avatar file.
func (h *Handler) updateUser(c *gin.Context) {
	current, ok := auth.CurrentUser(c)
	if !ok {
		h.renderError(c, auth.ErrUnauthenticated)
		return
	}

	var name *string
	var staged *service.StagedAvatar
	multipart := strings.HasPrefix(c.ContentType(), "multipart/")
	if multipart {
		if v, ok := c.GetPostForm("user[name]"); ok {
			name = &v
		}
		// the avatar is checked before anything is saved
		header, err := c.FormFile("avatar")
		switch {
		case err == nil:
			file, err := header.Open()
			if err != nil {
				h.renderError(c, err)
				return
			}
			staged, err = h.avatars.Stage(current.ID, header.Filename, file)
			file.Close()
			if err != nil {
				h.renderError(c, err)
				return
			}
		case !errors.Is(err, http.ErrMissingFile):
			renderMessages(c, http.StatusBadRequest, "Malformed request body")
			return
		}
	} else {
		var req updateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			renderMessages(c, http.StatusBadRequest, "Malformed request body")
			return
		}
		name = req.User.Name
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), current.ID, name)
	if err != nil {
		h.avatars.Discard(staged)
		h.renderError(c, err)
		return
	}

	resp := gin.H{}
	if staged != nil {
		job, err := h.avatars.Schedule(c.Request.Context(), staged)
		if err != nil {
			h.renderError(c, err)
			return
		}
		resp["avatar_job"] = jobToResponse(*job)
	}

	resp["user"] = h.userResponse(c, user)
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) userResponse(c *gin.Context, user *domain.User) UserResponse {
	url, err := h.avatars.URL(c.Request.Context(), user)
	if err != nil {
		h.logger.WithField("user_id", user.ID).Warnf("presign avatar: %v", err)
		url = ""
	}
	return userToResponse(user, url)
}
