package jobs

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postboard/internal/domain"
	"postboard/internal/repository"
	"postboard/internal/repository/sqlite"
)

func setupTestRepo(t *testing.T) repository.JobRepository {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewJobRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestManager(t *testing.T, workers int) (Manager, repository.JobRepository) {
	t.Helper()
	repo := setupTestRepo(t)
	m := NewManager(Config{MaxConcurrent: workers, Logger: quietLogger()}, repo)
	return m, repo
}

func waitForStatus(t *testing.T, m Manager, id int64, status domain.JobStatus) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		got, err := m.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("runs enqueued job", func(t *testing.T) {
		m, _ := setupTestManager(t, 2)
		var got struct {
			UserID int64 `json:"user_id"`
		}
		m.Register("echo", HandlerFunc(func(ctx context.Context, job domain.Job) error {
			return DecodePayload(job, &got)
		}))
		require.NoError(t, m.Start(ctx))
		defer m.Shutdown()

		job, err := m.Enqueue(ctx, "echo", map[string]int64{"user_id": 7})
		require.NoError(t, err)

		done := waitForStatus(t, m, job.ID, domain.JobStatusCompleted)
		assert.Equal(t, int64(7), got.UserID)
		assert.Equal(t, 1, done.Attempts)
		assert.NotNil(t, done.FinishedAt)
	})

	t.Run("unknown kind", func(t *testing.T) {
		m, _ := setupTestManager(t, 1)
		require.NoError(t, m.Start(ctx))
		defer m.Shutdown()

		_, err := m.Enqueue(ctx, "nope", nil)
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("failure and retry", func(t *testing.T) {
		m, _ := setupTestManager(t, 1)
		var calls atomic.Int32
		m.Register("flaky", HandlerFunc(func(ctx context.Context, job domain.Job) error {
			if calls.Add(1) == 1 {
				return errors.New("first attempt fails")
			}
			return nil
		}))
		require.NoError(t, m.Start(ctx))
		defer m.Shutdown()

		job, err := m.Enqueue(ctx, "flaky", nil)
		require.NoError(t, err)
		failed := waitForStatus(t, m, job.ID, domain.JobStatusFailed)
		assert.Equal(t, "first attempt fails", failed.ErrorMessage)

		_, err = m.Retry(ctx, job.ID)
		require.NoError(t, err)
		done := waitForStatus(t, m, job.ID, domain.JobStatusCompleted)
		assert.Equal(t, 2, done.Attempts)
		assert.Empty(t, done.ErrorMessage)
	})

	t.Run("panicking handler fails the job", func(t *testing.T) {
		m, _ := setupTestManager(t, 1)
		m.Register("panic", HandlerFunc(func(ctx context.Context, job domain.Job) error {
			panic("kaboom")
		}))
		require.NoError(t, m.Start(ctx))
		defer m.Shutdown()

		job, err := m.Enqueue(ctx, "panic", nil)
		require.NoError(t, err)
		failed := waitForStatus(t, m, job.ID, domain.JobStatusFailed)
		assert.Contains(t, failed.ErrorMessage, "kaboom")
	})

	t.Run("cancel running job", func(t *testing.T) {
		m, _ := setupTestManager(t, 1)
		started := make(chan struct{})
		m.Register("block", HandlerFunc(func(ctx context.Context, job domain.Job) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}))
		require.NoError(t, m.Start(ctx))
		defer m.Shutdown()

		job, err := m.Enqueue(ctx, "block", nil)
		require.NoError(t, err)
		<-started

		cancelCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, m.Cancel(cancelCtx, job.ID))

		failed := waitForStatus(t, m, job.ID, domain.JobStatusFailed)
		assert.Equal(t, "cancelled", failed.ErrorMessage)
	})

	t.Run("delete removes job", func(t *testing.T) {
		m, _ := setupTestManager(t, 1)
		m.Register("noop", HandlerFunc(func(ctx context.Context, job domain.Job) error { return nil }))
		require.NoError(t, m.Start(ctx))
		defer m.Shutdown()

		job, err := m.Enqueue(ctx, "noop", nil)
		require.NoError(t, err)
		waitForStatus(t, m, job.ID, domain.JobStatusCompleted)

		require.NoError(t, m.Delete(ctx, job.ID))
		_, err = m.Get(ctx, job.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("resume picks up pending jobs", func(t *testing.T) {
		m, repo := setupTestManager(t, 1)
		var ran atomic.Bool
		m.Register("later", HandlerFunc(func(ctx context.Context, job domain.Job) error {
			ran.Store(true)
			return nil
		}))

		job := &domain.Job{Kind: "later", Payload: "{}"}
		_, err := repo.Create(ctx, job)
		require.NoError(t, err)

		require.NoError(t, m.Start(ctx))
		defer m.Shutdown()
		require.NoError(t, m.Resume(ctx))

		waitForStatus(t, m, job.ID, domain.JobStatusCompleted)
		assert.True(t, ran.Load())
	})

	t.Run("bounded concurrency", func(t *testing.T) {
		m, _ := setupTestManager(t, 1)
		var running, peak atomic.Int32
		m.Register("slow", HandlerFunc(func(ctx context.Context, job domain.Job) error {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return nil
		}))
		require.NoError(t, m.Start(ctx))
		defer m.Shutdown()

		var ids []int64
		for i := 0; i < 3; i++ {
			job, err := m.Enqueue(ctx, "slow", nil)
			require.NoError(t, err)
			ids = append(ids, job.ID)
		}
		for _, id := range ids {
			waitForStatus(t, m, id, domain.JobStatusCompleted)
		}
		assert.Equal(t, int32(1), peak.Load())
	})
}
