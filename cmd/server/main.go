package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"postboard/internal/auth"
	"postboard/internal/config"
	"postboard/internal/featureflag"
	apphttp "postboard/internal/http"
	"postboard/internal/jobs"
	"postboard/internal/repository/sqlite"
	"postboard/internal/service"
	"postboard/internal/session"
	"postboard/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	configureLogger(logger, cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	postRepo := sqlite.NewPostRepository(db)
	jobRepo := sqlite.NewJobRepository(db)

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := postRepo.Init(ctx); err != nil {
		logger.Fatalf("init post repository: %v", err)
	}
	if err := jobRepo.Init(ctx); err != nil {
		logger.Fatalf("init job repository: %v", err)
	}

	flagDB, err := featureflag.Open(cfg.Flags.Path)
	if err != nil {
		logger.Fatalf("open flags: %v", err)
	}
	defer flagDB.Close()

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	userService := service.NewUserService(userRepo)
	postService := service.NewPostService(postRepo)

	manager := jobs.NewManager(jobs.Config{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		Logger:        logger,
	}, jobRepo)

	avatarService := service.NewAvatarService(service.AvatarConfig{
		Bucket:     cfg.Storage.Bucket,
		KeyPrefix:  cfg.Storage.KeyPrefix,
		StagingDir: cfg.Jobs.StagingDir,
		Logger:     logger,
	}, userService, manager, storageSvc)
	manager.Register(service.AvatarUploadJob, avatarService)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start job manager: %v", err)
	}
	if err := manager.Resume(ctx); err != nil {
		logger.Warnf("resume jobs: %v", err)
	}

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, auth.AudienceAPI, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
	sessions := session.NewStore(session.Config{Secure: cfg.Auth.CookieSecure},
		auth.NewTokens(cfg.Auth.JWTSecret, auth.AudienceSession, time.Duration(cfg.Auth.SessionTTLMinutes)*time.Minute))
	authenticator := auth.NewAuthenticator(tokens, sessions, userService, logger)

	admins := gin.Accounts{}
	if cfg.Admin.Username != "" {
		admins[cfg.Admin.Username] = cfg.Admin.Password
	} else {
		logger.Warn("no admin account configured, /admin is disabled")
	}

	handler, err := apphttp.NewHandler(apphttp.Config{
		Posts:      postService,
		Users:      userService,
		Avatars:    avatarService,
		Jobs:       manager,
		Flags:      featureflag.NewStore(flagDB),
		Storage:    storageSvc,
		Bucket:     cfg.Storage.Bucket,
		Auth:       authenticator,
		Admins:     admins,
		MinVersion: cfg.Settings.MinVersion,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("build handler: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// buildStorage returns nil when no bucket is configured; avatar uploads are
// then rejected.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Warn("no storage bucket configured, avatar uploads are disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
