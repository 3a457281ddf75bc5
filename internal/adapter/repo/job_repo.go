package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. The
// conditional UPDATE in TryTransition is the pipeline's only lock: a
// transition applies exactly when the current status matches, so concurrent
// workers racing on one job resolve to a single winner.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record in pending state.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, prompt, parameters, status, retry_count, max_retries, error_message, webhook_url, metadata, run_after)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now());
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Prompt,
		job.Parameters,
		job.Status,
		job.RetryCount,
		job.MaxRetries,
		job.ErrorMessage,
		job.WebhookURL,
		job.Metadata,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `
SELECT id, prompt, parameters, status, retry_count, max_retries, error_message, webhook_url, metadata,
       created_at, updated_at, started_at, completed_at, run_after
FROM jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Prompt,
		&job.Parameters,
		&job.Status,
		&job.RetryCount,
		&job.MaxRetries,
		&job.ErrorMessage,
		&job.WebhookURL,
		&job.Metadata,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.RunAfter,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// List returns a page of jobs, newest first, with the total matching count.
func (r *JobRepositoryPG) List(ctx context.Context, opts domain.JobListOptions) ([]domain.Job, int64, error) {
	countQuery := `
SELECT count(*)
FROM jobs
WHERE ($1::text = '' OR status = $1::text);
`
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, string(opts.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
SELECT id, prompt, parameters, status, retry_count, max_retries, error_message, webhook_url, metadata,
       created_at, updated_at, started_at, completed_at, run_after
FROM jobs
WHERE ($1::text = '' OR status = $1::text)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3;
`
	rows, err := r.pool.Query(ctx, query, string(opts.Status), opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var job domain.Job
		if err := rows.Scan(
			&job.ID,
			&job.Prompt,
			&job.Parameters,
			&job.Status,
			&job.RetryCount,
			&job.MaxRetries,
			&job.ErrorMessage,
			&job.WebhookURL,
			&job.Metadata,
			&job.CreatedAt,
			&job.UpdatedAt,
			&job.StartedAt,
			&job.CompletedAt,
			&job.RunAfter,
		); err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// TryTransition atomically moves a job from one status to another, applying
// optional fields in the same statement. It reports whether the update took
// effect; a false result means another worker or a cancellation won the race.
func (r *JobRepositoryPG) TryTransition(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.TransitionFields) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	query := `
UPDATE jobs
SET status = $3,
    updated_at = now(),
    started_at = COALESCE($4, started_at),
    completed_at = COALESCE($5, completed_at),
    error_message = COALESCE($6, error_message),
    retry_count = COALESCE($7, retry_count),
    run_after = COALESCE($8, run_after)
WHERE id = $1 AND status = $2;
`
	tag, err := r.pool.Exec(ctx, query, id, from, to,
		fields.StartedAt,
		fields.CompletedAt,
		fields.ErrorMessage,
		fields.RetryCount,
		fields.RunAfter,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RequeueStale returns processing jobs not touched since cutoff to pending.
// The status guard keeps it from disturbing jobs a live worker advanced in
// the meantime.
func (r *JobRepositoryPG) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
UPDATE jobs
SET status = 'pending',
    run_after = now(),
    updated_at = now()
WHERE status = 'processing'
  AND updated_at < $1;
`
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteTerminalBefore removes terminal jobs completed before the cutoff.
// Media rows cascade with their job.
func (r *JobRepositoryPG) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
DELETE FROM jobs
WHERE status IN ('completed', 'failed', 'cancelled')
  AND completed_at < $1;
`
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
