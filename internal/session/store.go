package session

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultCookieName = "_postboard_session"

	skipKey = "session.skip"
)

// Codec turns a user id into a signed cookie value and back.
type Codec interface {
	Issue(userID int64) (string, time.Time, error)
	Parse(value string) (int64, error)
	TTL() time.Duration
}

type Config struct {
	CookieName string
	Secure     bool
}

// Store keeps the signed-in user id in a cookie.
type Store struct {
	cfg   Config
	codec Codec
}

func NewStore(cfg Config, codec Codec) *Store {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	return &Store{cfg: cfg, codec: codec}
}

// SkipSessionStorage marks every request in the group so that Save and Clear
// never write a cookie. Reading an existing session is unaffected.
func SkipSessionStorage() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(skipKey, true)
		c.Next()
	}
}

func Skipped(c *gin.Context) bool {
	return c.GetBool(skipKey)
}

// UserID returns the user id held by the request's session cookie.
func (s *Store) UserID(c *gin.Context) (int64, bool) {
	value, err := c.Cookie(s.cfg.CookieName)
	if err != nil || value == "" {
		return 0, false
	}
	id, err := s.codec.Parse(value)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Save persists userID in the session cookie unless storage is skipped.
func (s *Store) Save(c *gin.Context, userID int64) error {
	if Skipped(c) {
		return nil
	}
	value, _, err := s.codec.Issue(userID)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.CookieName, value, int(s.codec.TTL().Seconds()), "/", "", s.cfg.Secure, true)
	return nil
}

func (s *Store) Clear(c *gin.Context) {
	if Skipped(c) {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.CookieName, "", -1, "/", "", s.cfg.Secure, true)
}
