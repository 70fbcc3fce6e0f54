package repository

import (
	"context"
	"time"

	"postboard/internal/domain"
)

// JobRepository persists background jobs.
type JobRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, job *domain.Job) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error)
	MarkRunning(ctx context.Context, id int64, startedAt time.Time) error
	MarkFinished(ctx context.Context, id int64, status domain.JobStatus, errorMessage string, finishedAt time.Time) error
	Reset(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}
