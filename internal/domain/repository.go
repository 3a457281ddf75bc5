package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransitionFields carries the optional columns a guarded transition may set
// alongside the status change. Nil fields are left untouched.
type TransitionFields struct {
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	RetryCount   *int
	RunAfter     *time.Time
}

// JobListOptions filters and pages a job listing. A zero Status means no
// status filter.
type JobListOptions struct {
	Status JobStatus
	Limit  int
	Offset int
}

// JobRepository defines persistence for job entities. TryTransition is the
// single serialization point of the pipeline: it must apply atomically and
// only when the current status matches from.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	List(ctx context.Context, opts JobListOptions) ([]Job, int64, error)
	TryTransition(ctx context.Context, id uuid.UUID, from, to JobStatus, fields TransitionFields) (bool, error)
	// RequeueStale moves processing jobs not touched since cutoff back to
	// pending, making them deliverable again after a worker crash.
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MediaRepository handles persistence for generated artifacts. AddForJob
// applies only while the owning job is still processing, so artifacts of an
// attempt that lost a cancellation race are never persisted.
type MediaRepository interface {
	AddForJob(ctx context.Context, jobID uuid.UUID, media []Media) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Media, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]Media, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
