package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"postboard/internal/domain"
	"postboard/internal/repository"
)

var (
	// ErrUnknownKind is returned when no handler is registered for a job kind.
	ErrUnknownKind = errors.New("unknown job kind")
	// ErrJobActive is returned when retrying a job that has not finished.
	ErrJobActive = errors.New("job has not finished")
)

// Handler performs the work of one job kind.
type Handler interface {
	Run(ctx context.Context, job domain.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job domain.Job) error

func (f HandlerFunc) Run(ctx context.Context, job domain.Job) error {
	return f(ctx, job)
}

// Manager runs persisted background jobs on a bounded pool of goroutines.
type Manager interface {
	Register(kind string, handler Handler)
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, kind string, payload any) (*domain.Job, error)
	Resume(ctx context.Context) error
	Retry(ctx context.Context, id int64) (*domain.Job, error)
	Cancel(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error)
	Delete(ctx context.Context, id int64) error
}

type Config struct {
	MaxConcurrent int
	Logger        *logrus.Logger
}

type manager struct {
	cfg  Config
	jobs repository.JobRepository

	sem      chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	active   map[int64]*jobHandle
	handlers map[string]Handler
}

type jobHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, jobs repository.JobRepository) Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:      cfg,
		jobs:     jobs,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		active:   make(map[int64]*jobHandle),
		handlers: make(map[string]Handler),
	}
}

func (m *manager) Register(kind string, handler Handler) {
	m.mu.Lock()
	m.handlers[kind] = handler
	m.mu.Unlock()
}

func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return fmt.Errorf("job manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cfg.Logger.Infof("job manager started, %d workers", m.cfg.MaxConcurrent)
	return nil
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("job manager stopped")
}

// Enqueue persists a job and schedules it. Jobs enqueued before Start are
// picked up by Resume.
func (m *manager) Enqueue(ctx context.Context, kind string, payload any) (*domain.Job, error) {
	if !m.hasHandler(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}

	job := &domain.Job{
		Kind:    kind,
		Payload: string(data),
		Status:  domain.JobStatusPending,
	}
	if _, err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	m.spawnJob(*job)
	return job, nil
}

// Resume reschedules jobs left pending or interrupted mid-run by a previous
// process.
func (m *manager) Resume(ctx context.Context) error {
	jobs, err := m.jobs.List(ctx, domain.JobStatusPending, domain.JobStatusRunning)
	if err != nil {
		return err
	}
	for i := range jobs {
		m.spawnJob(jobs[i])
	}
	return nil
}

func (m *manager) Retry(ctx context.Context, id int64) (*domain.Job, error) {
	current, err := m.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if handle, ok := m.getJobHandle(id); ok {
		if current.Status == domain.JobStatusPending || current.Status == domain.JobStatusRunning {
			return nil, fmt.Errorf("job %d is %s: %w", id, current.Status, ErrJobActive)
		}
		// finished; wait for the worker to let go of it
		select {
		case <-handle.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.jobs.Reset(ctx, id); err != nil {
		return nil, err
	}
	job, err := m.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.spawnJob(*job)
	return job, nil
}

func (m *manager) Cancel(ctx context.Context, id int64) error {
	handle, ok := m.getJobHandle(id)
	if !ok {
		return nil
	}

	handle.cancel()

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) Get(ctx context.Context, id int64) (*domain.Job, error) {
	return m.jobs.Get(ctx, id)
}

func (m *manager) List(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error) {
	return m.jobs.List(ctx, statuses...)
}

func (m *manager) Delete(ctx context.Context, id int64) error {
	if err := m.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return m.jobs.Delete(ctx, id)
}

func (m *manager) spawnJob(job domain.Job) {
	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return
	}
	if _, running := m.active[job.ID]; running {
		m.mu.Unlock()
		return
	}
	jobCtx, cancel := context.WithCancel(m.ctx)
	handle := &jobHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.active[job.ID] = handle
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.unregisterJob(job.ID)
			close(handle.done)
		}()
		select {
		case <-m.ctx.Done():
			return
		case <-jobCtx.Done():
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.runJob(jobCtx, job)
		}
	}()
}

func (m *manager) unregisterJob(id int64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *manager) getJobHandle(id int64) (*jobHandle, bool) {
	m.mu.Lock()
	handle, ok := m.active[id]
	m.mu.Unlock()
	return handle, ok
}

func (m *manager) hasHandler(kind string) bool {
	m.mu.Lock()
	_, ok := m.handlers[kind]
	m.mu.Unlock()
	return ok
}

func (m *manager) runJob(ctx context.Context, job domain.Job) {
	logger := m.cfg.Logger.WithFields(logrus.Fields{"job_id": job.ID, "kind": job.Kind})
	// bookkeeping must outlive a cancelled job
	store := context.WithoutCancel(ctx)

	m.mu.Lock()
	handler, ok := m.handlers[job.Kind]
	m.mu.Unlock()
	if !ok {
		m.failJob(store, logger, job.ID, fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind))
		return
	}

	if err := m.jobs.MarkRunning(store, job.ID, time.Now()); err != nil {
		logger.Errorf("mark running: %v", err)
		return
	}
	logger.Info("job started")
	started := time.Now()

	err := runSafely(ctx, handler, job)
	switch {
	case err == nil:
		if err := m.jobs.MarkFinished(store, job.ID, domain.JobStatusCompleted, "", time.Now()); err != nil {
			logger.Errorf("mark completed: %v", err)
			return
		}
		logger.WithField("duration", time.Since(started)).Info("job completed")
	case m.ctx.Err() != nil:
		// shutting down; Resume picks the job up on the next start
		logger.Warn("job interrupted by shutdown")
	case ctx.Err() != nil:
		m.failJob(store, logger, job.ID, errors.New("cancelled"))
	default:
		m.failJob(store, logger, job.ID, err)
	}
}

func (m *manager) failJob(ctx context.Context, logger *logrus.Entry, id int64, failErr error) {
	msg := failErr.Error()
	if err := m.jobs.MarkFinished(ctx, id, domain.JobStatusFailed, msg, time.Now()); err != nil {
		logger.Errorf("persist failure status: %v", err)
	}
	logger.Error(msg)
}

func runSafely(ctx context.Context, handler Handler, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler.Run(ctx, job)
}

// DecodePayload unmarshals a job's JSON payload into v.
func DecodePayload(job domain.Job, v any) error {
	if err := json.Unmarshal([]byte(job.Payload), v); err != nil {
		return fmt.Errorf("decode job %d payload: %w", job.ID, err)
	}
	return nil
}

var _ Manager = (*manager)(nil)
