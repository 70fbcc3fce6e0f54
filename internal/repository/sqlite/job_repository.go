package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"postboard/internal/domain"
	"postboard/internal/repository"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	started_at DATETIME NULL,
	finished_at DATETIME NULL
);
CREATE INDEX IF NOT EXISTS index_jobs_on_status ON jobs(status);
`

const jobColumns = `id, kind, payload, status, attempts, error_message, created_at, updated_at, started_at, finished_at`

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) repository.JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) (int64, error) {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (kind, payload, status, attempts, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.Kind,
		job.Payload,
		string(job.Status),
		job.Attempts,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	job.ID = id
	return id, nil
}

func (r *JobRepository) Get(ctx context.Context, id int64) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE id=?`,
		id,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("job %d: %w", id, repository.ErrNotFound)
		}
		return nil, err
	}
	return job, nil
}

// List returns jobs with any of the given statuses (all jobs when none are
// given), oldest first.
func (r *JobRepository) List(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs`
	args := make([]any, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args[i] = string(status)
		}
		query += fmt.Sprintf("\nWHERE status IN (%s)", strings.Join(placeholders, ","))
	}
	query += "\nORDER BY id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

func (r *JobRepository) MarkRunning(ctx context.Context, id int64, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status=?, attempts=attempts+1, error_message='', started_at=?, finished_at=NULL, updated_at=?
WHERE id=?`,
		string(domain.JobStatusRunning),
		startedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

func (r *JobRepository) MarkFinished(ctx context.Context, id int64, status domain.JobStatus, errorMessage string, finishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status=?, error_message=?, finished_at=?, updated_at=?
WHERE id=?`,
		string(status),
		errorMessage,
		finishedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}
	return nil
}

// Reset puts a job back into the pending state so it can run again.
func (r *JobRepository) Reset(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status=?, error_message='', started_at=NULL, finished_at=NULL, updated_at=?
WHERE id=?`,
		string(domain.JobStatusPending),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("reset job: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job reset rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("job %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job delete rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("job %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

func scanJob(scanner interface {
	Scan(dest ...any) error
}) (*domain.Job, error) {
	var (
		job        domain.Job
		status     string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	if err := scanner.Scan(
		&job.ID,
		&job.Kind,
		&job.Payload,
		&status,
		&job.Attempts,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Status = domain.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.StartedAt = timePtr(startedAt)
	job.FinishedAt = timePtr(finishedAt)
	return &job, nil
}
