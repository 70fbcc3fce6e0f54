package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"postboard/internal/domain"
	"postboard/internal/jobs"
	"postboard/internal/storage"
)

// AvatarUploadJob is the job kind that moves a staged avatar into object storage.
const AvatarUploadJob = "avatar_upload"

// MaxAvatarSize caps accepted avatar uploads.
const MaxAvatarSize = 5 * 1024 * 1024

var allowedAvatarTypes = map[string]bool{
	".gif":  true,
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".webp": true,
}

var allowedAvatarMIME = []string{"image/gif", "image/jpeg", "image/png", "image/webp"}

// JobEnqueuer schedules background work.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) (*domain.Job, error)
}

// AvatarService stages avatar uploads, moves them to object storage in the
// background and hands out short-lived download URLs.
//
// Stage validates and stores the file locally without touching the user, so
// callers can reject a request before committing anything else. Schedule
// queues a staged file for upload; Discard drops it.
type AvatarService interface {
	Stage(userID int64, filename string, content io.Reader) (*StagedAvatar, error)
	Schedule(ctx context.Context, staged *StagedAvatar) (*domain.Job, error)
	Discard(staged *StagedAvatar)
	Upload(ctx context.Context, userID int64, filename string, content io.Reader) (*domain.Job, error)
	URL(ctx context.Context, user *domain.User) (string, error)
	Run(ctx context.Context, job domain.Job) error
}

// StagedAvatar is a validated avatar waiting on local disk.
type StagedAvatar struct {
	UserID int64
	Path   string
}

type AvatarConfig struct {
	Bucket     string
	KeyPrefix  string
	StagingDir string
	URLExpiry  time.Duration
	Logger     *logrus.Logger
}

type avatarPayload struct {
	UserID int64  `json:"user_id"`
	Path   string `json:"path"`
}

type avatarService struct {
	cfg     AvatarConfig
	users   UserService
	jobs    JobEnqueuer
	storage storage.Service

	userLocks sync.Map
}

// NewAvatarService returns an avatar service. A nil store disables uploads.
func NewAvatarService(cfg AvatarConfig, users UserService, jobs JobEnqueuer, store storage.Service) AvatarService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 15 * time.Minute
	}
	return &avatarService{
		cfg:     cfg,
		users:   users,
		jobs:    jobs,
		storage: store,
	}
}

func (s *avatarService) enabled() bool {
	return s.storage != nil && s.cfg.Bucket != ""
}

func (s *avatarService) Stage(userID int64, filename string, content io.Reader) (*StagedAvatar, error) {
	if !s.enabled() {
		return nil, ErrStorageDisabled
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedAvatarTypes[ext] {
		return nil, invalid("Avatar has an invalid content type")
	}

	if err := os.MkdirAll(s.cfg.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	staged := filepath.Join(s.cfg.StagingDir, fmt.Sprintf("avatar-%s%s", uuid.NewString(), ext))

	f, err := os.Create(staged)
	if err != nil {
		return nil, fmt.Errorf("create staged avatar: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(content, MaxAvatarSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(staged)
		return nil, fmt.Errorf("stage avatar: %w", err)
	}
	if n > MaxAvatarSize {
		os.Remove(staged)
		return nil, invalid("Avatar is too big (maximum is 5 MB)")
	}
	detected, err := mimetype.DetectFile(staged)
	if err != nil {
		os.Remove(staged)
		return nil, fmt.Errorf("detect avatar type: %w", err)
	}
	if !mimetype.EqualsAny(detected.String(), allowedAvatarMIME...) {
		os.Remove(staged)
		return nil, invalid("Avatar has an invalid content type")
	}
	return &StagedAvatar{UserID: userID, Path: staged}, nil
}

func (s *avatarService) Schedule(ctx context.Context, staged *StagedAvatar) (*domain.Job, error) {
	job, err := s.jobs.Enqueue(ctx, AvatarUploadJob, avatarPayload{UserID: staged.UserID, Path: staged.Path})
	if err != nil {
		s.Discard(staged)
		return nil, err
	}
	return job, nil
}

func (s *avatarService) Discard(staged *StagedAvatar) {
	if staged == nil {
		return
	}
	if err := os.Remove(staged.Path); err != nil && !os.IsNotExist(err) {
		s.cfg.Logger.Warnf("discard staged avatar: %v", err)
	}
}

func (s *avatarService) Upload(ctx context.Context, userID int64, filename string, content io.Reader) (*domain.Job, error) {
	staged, err := s.Stage(userID, filename, content)
	if err != nil {
		return nil, err
	}
	return s.Schedule(ctx, staged)
}

func (s *avatarService) URL(ctx context.Context, user *domain.User) (string, error) {
	if user == nil || user.Avatar == "" || !s.enabled() {
		return "", nil
	}
	return s.storage.GetObjectURL(ctx, s.cfg.Bucket, user.Avatar, s.cfg.URLExpiry)
}

// Run uploads a staged avatar, points the user at it and then removes the
// user's previous avatar objects.
func (s *avatarService) Run(ctx context.Context, job domain.Job) error {
	if !s.enabled() {
		return ErrStorageDisabled
	}
	var payload avatarPayload
	if err := jobs.DecodePayload(job, &payload); err != nil {
		return err
	}
	logger := s.cfg.Logger.WithFields(logrus.Fields{"job_id": job.ID, "user_id": payload.UserID})

	// one replacement per user at a time, so a prune never races another
	// job's fresh upload
	userLock, _ := s.userLocks.LoadOrStore(payload.UserID, &sync.Mutex{})
	userLock.(*sync.Mutex).Lock()
	defer userLock.(*sync.Mutex).Unlock()

	detected, err := mimetype.DetectFile(payload.Path)
	if err != nil {
		return fmt.Errorf("detect avatar type: %w", err)
	}
	userPrefix := path.Join(strings.Trim(s.cfg.KeyPrefix, "/"), "avatars", fmt.Sprint(payload.UserID)) + "/"
	key := userPrefix + uuid.NewString() + detected.Extension()

	location, err := s.storage.UploadFile(ctx, payload.Path, storage.UploadOptions{
		Bucket:           s.cfg.Bucket,
		Key:              key,
		ContentType:      detected.String(),
		ProgressCallback: newUploadProgressLogger(logger),
	})
	if err != nil {
		return err
	}

	if _, err := s.users.SetAvatar(ctx, payload.UserID, key); err != nil {
		if pruneErr := s.storage.Prune(ctx, s.cfg.Bucket, key); pruneErr != nil {
			logger.Warnf("remove unreferenced avatar %s: %v", key, pruneErr)
		}
		return fmt.Errorf("store avatar key: %w", err)
	}

	// older avatars go only once the new key is stored
	if err := s.storage.Prune(ctx, s.cfg.Bucket, userPrefix, key); err != nil {
		logger.Warnf("remove previous avatars: %v", err)
	}

	if err := os.Remove(payload.Path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("cleanup staged avatar: %v", err)
	}
	logger.Infof("avatar uploaded to %s", location)
	return nil
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		if total == 0 {
			logger.Debugf("upload progress: %s uploaded", formatBytes(done))
			return
		}
		percent := float64(done) / float64(total) * 100
		logger.Debugf("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}
