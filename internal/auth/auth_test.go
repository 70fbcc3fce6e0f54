package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postboard/internal/domain"
	"postboard/internal/repository"
	"postboard/internal/session"
)

type fakeUsers map[int64]*domain.User

func (f fakeUsers) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, repository.ErrNotFound)
	}
	return user, nil
}

func TestTokens(t *testing.T) {
	tokens := NewTokens("secret", AudienceAPI, time.Hour)

	raw, expires, err := tokens.Issue(5)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	id, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewTokens("other", AudienceAPI, time.Hour).Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		_, err := NewTokens("secret", AudienceSession, time.Hour).Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewTokens("secret", AudienceAPI, time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		stale, _, err := old.Issue(5)
		require.NoError(t, err)
		_, err = tokens.Parse(stale)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Parse("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func setupAuth(t *testing.T) (*gin.Engine, *Authenticator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sessions := session.NewStore(session.Config{}, NewTokens("secret", AudienceSession, time.Hour))
	users := fakeUsers{1: {ID: 1, Email: "ann@example.com"}}
	a := NewAuthenticator(NewTokens("secret", AudienceAPI, time.Hour), sessions, users, logger)

	me := func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": user.ID})
	}

	r := gin.New()
	r.GET("/web/me", a.RequireUser(), me)
	api := r.Group("/api", session.SkipSessionStorage())
	api.GET("/me", a.RequireUser(), me)
	return r, a
}

func TestRequireUser(t *testing.T) {
	r, a := setupAuth(t)
	token, _, err := a.Tokens().Issue(1)
	require.NoError(t, err)

	t.Run("no credentials", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var body map[string][]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, []string{UnauthenticatedMessage}, body["errors"])
	})

	t.Run("bearer token on api does not set cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":1}`, w.Body.String())
		assert.Empty(t, w.Header().Values("Set-Cookie"))
	})

	t.Run("bearer token on web signs in", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/web/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Set-Cookie"), session.DefaultCookieName+"=")
	})

	t.Run("session cookie", func(t *testing.T) {
		cookieValue, _, err := NewTokens("secret", AudienceSession, time.Hour).Issue(1)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: cookieValue})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Values("Set-Cookie"))
	})

	t.Run("api token is not a session cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		ghost, _, err := a.Tokens().Issue(99)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", "Bearer "+ghost)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
