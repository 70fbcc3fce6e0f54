package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"postboard/internal/auth"
	"postboard/internal/featureflag"
	"postboard/internal/jobs"
	"postboard/internal/service"
	"postboard/internal/session"
	"postboard/internal/storage"
)

const requestIDHeader = "X-Request-ID"

// Config collects the services the HTTP layer talks to.
type Config struct {
	Posts   service.PostService
	Users   service.UserService
	Avatars service.AvatarService
	Jobs    jobs.Manager
	Flags   *featureflag.Store
	Storage storage.Service
	Bucket  string
	Auth    *auth.Authenticator
	// Admins are the basic auth accounts for /admin. No accounts, no console.
	Admins     gin.Accounts
	MinVersion string
	Logger     *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	posts      service.PostService
	users      service.UserService
	avatars    service.AvatarService
	jobs       jobs.Manager
	flags      *featureflag.Store
	storage    storage.Service
	bucket     string
	auth       *auth.Authenticator
	admins     gin.Accounts
	minVersion string
	docs       *apiDocs
	logger     *logrus.Logger
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	docs, err := loadAPIDocs()
	if err != nil {
		return nil, err
	}
	return &Handler{
		posts:      cfg.Posts,
		users:      cfg.Users,
		avatars:    cfg.Avatars,
		jobs:       cfg.Jobs,
		flags:      cfg.Flags,
		storage:    cfg.Storage,
		bucket:     cfg.Bucket,
		auth:       cfg.Auth,
		admins:     cfg.Admins,
		minVersion: cfg.MinVersion,
		docs:       docs,
		logger:     cfg.Logger,
	}, nil
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger), corsMiddleware())

	web := router.Group("/users")
	{
		web.POST("", h.signUp)
		web.POST("/sign_in", h.webSignIn)
		web.DELETE("/sign_out", h.signOut)
	}

	api := router.Group("/api", session.SkipSessionStorage())
	v1 := api.Group("/v1")
	{
		v1.GET("/status", h.status)
		v1.POST("/users/sign_in", h.apiSignIn)

		authed := v1.Group("", h.auth.RequireUser())
		authed.GET("/user", h.showUser)
		authed.PATCH("/user", h.updateUser)
		authed.PUT("/user", h.updateUser)
		authed.GET("/settings/must_update", h.mustUpdate)

		authed.GET("/posts", h.listPosts)
		authed.POST("/posts", h.createPost)
		authed.GET("/posts/:id", h.getPost)
		authed.PATCH("/posts/:id", h.updatePost)
		authed.PUT("/posts/:id", h.updatePost)
		authed.DELETE("/posts/:id", h.deletePost)
	}

	if len(h.admins) > 0 {
		admin := router.Group("/admin", gin.BasicAuth(h.admins))
		admin.GET("/feature-flags", h.listFlags)
		admin.GET("/feature-flags/:name", h.getFlag)
		admin.PUT("/feature-flags/:name", h.setFlag)
		admin.DELETE("/feature-flags/:name", h.deleteFlag)

		admin.GET("/jobs", h.listJobs)
		admin.GET("/jobs/:id", h.getJob)
		admin.POST("/jobs/:id/retry", h.retryJob)
		admin.DELETE("/jobs/:id", h.deleteJob)

		admin.GET("/storage/objects", h.listObjects)
	}

	router.GET("/api-docs", h.docsYAML)
	router.GET("/api-docs/v1/openapi.json", h.docsJSON)
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": true})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Info("request")
	}
}
