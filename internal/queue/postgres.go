package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres realizes delivery on the jobs table itself: a pending job whose
// run_after has elapsed is deliverable. Claiming pushes run_after forward by
// a visibility window, so a worker that dies mid-attempt causes redelivery
// rather than a stuck job. SKIP LOCKED keeps concurrent workers from
// claiming the same row in the same instant.
type Postgres struct {
	pool       *pgxpool.Pool
	visibility time.Duration
}

// NewPostgres creates a Postgres queue. visibility bounds how long a claimed
// id stays invisible to other workers before redelivery.
func NewPostgres(pool *pgxpool.Pool, visibility time.Duration) *Postgres {
	if visibility <= 0 {
		visibility = 10 * time.Minute
	}
	return &Postgres{pool: pool, visibility: visibility}
}

// Submit schedules jobID for delivery after delay. The job row must already
// exist; submission only moves its run_after.
func (q *Postgres) Submit(ctx context.Context, jobID uuid.UUID, delay time.Duration) error {
	query := `
UPDATE jobs
SET run_after = now() + make_interval(secs => $2),
    updated_at = now()
WHERE id = $1;
`
	if _, err := q.pool.Exec(ctx, query, jobID, delay.Seconds()); err != nil {
		return fmt.Errorf("queue: submit job: %w", err)
	}
	return nil
}

// Next claims the oldest deliverable job id, pushing its run_after past the
// visibility window. Returns ErrNoJob when nothing is ready.
func (q *Postgres) Next(ctx context.Context) (uuid.UUID, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM jobs
    WHERE status = 'pending' AND run_after <= now()
    ORDER BY run_after ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE jobs
SET run_after = now() + make_interval(secs => $1),
    updated_at = now()
WHERE id IN (SELECT id FROM next_job)
RETURNING id;
`
	var id uuid.UUID
	if err := q.pool.QueryRow(ctx, query, q.visibility.Seconds()).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNoJob
		}
		return uuid.Nil, fmt.Errorf("queue: claim job: %w", err)
	}
	return id, nil
}
