package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"postboard/internal/domain"
	"postboard/internal/repository"
	"postboard/internal/session"
)

const currentUserKey = "auth.current_user"

// UnauthenticatedMessage is rendered whenever a protected route has no principal.
const UnauthenticatedMessage = "You need to sign in or sign up before continuing."

var ErrUnauthenticated = errors.New("unauthenticated")

// UserLookup loads the principal behind a verified token.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// Authenticator resolves the current user from a bearer token or the
// session cookie.
type Authenticator struct {
	tokens   *Tokens
	sessions *session.Store
	users    UserLookup
	logger   *logrus.Logger
}

func NewAuthenticator(tokens *Tokens, sessions *session.Store, users UserLookup, logger *logrus.Logger) *Authenticator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Authenticator{
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		logger:   logger,
	}
}

// RequireUser aborts with 401 unless a principal can be resolved. On success
// the principal is signed in through the session store and made available via
// CurrentUser.
func (a *Authenticator) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.authenticate(c)
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				a.logger.WithError(err).Error("resolve principal")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": []string{UnauthenticatedMessage}})
			return
		}
		if err := a.SignIn(c, user); err != nil {
			a.logger.WithError(err).Error("sign in")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"errors": []string{"Internal server error"}})
			return
		}
		c.Next()
	}
}

// SignIn records user as the request's principal and persists it in the
// session unless session storage is skipped for the request.
func (a *Authenticator) SignIn(c *gin.Context, user *domain.User) error {
	c.Set(currentUserKey, user)
	return a.sessions.Save(c, user.ID)
}

func (a *Authenticator) SignOut(c *gin.Context) {
	a.sessions.Clear(c)
}

func (a *Authenticator) Tokens() *Tokens {
	return a.tokens
}

func (a *Authenticator) authenticate(c *gin.Context) (*domain.User, error) {
	id, ok := a.bearerUserID(c)
	if !ok {
		id, ok = a.sessions.UserID(c)
	}
	if !ok {
		return nil, ErrUnauthenticated
	}

	user, err := a.users.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return user, nil
}

func (a *Authenticator) bearerUserID(c *gin.Context) (int64, bool) {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return 0, false
	}
	id, err := a.tokens.Parse(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
	if err != nil {
		return 0, false
	}
	return id, true
}

// CurrentUser returns the principal set by RequireUser or SignIn.
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*domain.User)
	return user, ok && user != nil
}
