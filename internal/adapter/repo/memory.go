package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
)

// memoryState is the shared backing store for the in-memory repositories.
// One mutex guards jobs and media together so the media-insert status
// re-check observes the same serialization the PostgreSQL row lock provides.
type memoryState struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*domain.Job
	media map[uuid.UUID]*domain.Media
}

// JobRepositoryMem implements domain.JobRepository in process, with the same
// compare-and-set semantics as the PostgreSQL version. It backs tests and
// database-less development.
type JobRepositoryMem struct {
	state *memoryState
}

// MediaRepositoryMem implements domain.MediaRepository on the same state.
type MediaRepositoryMem struct {
	state *memoryState
}

// NewMemory creates a linked pair of in-memory repositories.
func NewMemory() (*JobRepositoryMem, *MediaRepositoryMem) {
	state := &memoryState{
		jobs:  make(map[uuid.UUID]*domain.Job),
		media: make(map[uuid.UUID]*domain.Media),
	}
	return &JobRepositoryMem{state: state}, &MediaRepositoryMem{state: state}
}

// Create inserts a new job record.
func (r *JobRepositoryMem) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if _, exists := r.state.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	now := time.Now().UTC()
	stored := cloneJob(job)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.RunAfter.IsZero() {
		stored.RunAfter = now
	}
	r.state.jobs[job.ID] = stored
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryMem) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	job, ok := r.state.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

// List returns a page of jobs, newest first, with the total matching count.
func (r *JobRepositoryMem) List(ctx context.Context, opts domain.JobListOptions) ([]domain.Job, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	var matched []*domain.Job
	for _, job := range r.state.jobs {
		if opts.Status != "" && job.Status != opts.Status {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	if opts.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	out := make([]domain.Job, 0, len(matched))
	for _, job := range matched {
		out = append(out, *cloneJob(job))
	}
	return out, total, nil
}

// TryTransition applies a guarded status change under the repository mutex.
func (r *JobRepositoryMem) TryTransition(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.TransitionFields) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	job, ok := r.state.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	if fields.StartedAt != nil {
		job.StartedAt = fields.StartedAt
	}
	if fields.CompletedAt != nil {
		job.CompletedAt = fields.CompletedAt
	}
	if fields.ErrorMessage != nil {
		job.ErrorMessage = *fields.ErrorMessage
	}
	if fields.RetryCount != nil {
		job.RetryCount = *fields.RetryCount
	}
	if fields.RunAfter != nil {
		job.RunAfter = *fields.RunAfter
	}
	return true, nil
}

// RequeueStale returns processing jobs not touched since cutoff to pending.
func (r *JobRepositoryMem) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	now := time.Now().UTC()
	var requeued int64
	for _, job := range r.state.jobs {
		if job.Status != domain.JobStatusProcessing || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		job.Status = domain.JobStatusPending
		job.RunAfter = now
		job.UpdatedAt = now
		requeued++
	}
	return requeued, nil
}

// DeleteTerminalBefore removes terminal jobs completed before the cutoff,
// cascading their media.
func (r *JobRepositoryMem) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	var removed int64
	for id, job := range r.state.jobs {
		if !job.IsTerminal() || job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		delete(r.state.jobs, id)
		removed++
		for mid, med := range r.state.media {
			if med.JobID == id {
				delete(r.state.media, mid)
			}
		}
	}
	return removed, nil
}

// AddForJob persists media records if the owning job is still processing.
func (r *MediaRepositoryMem) AddForJob(ctx context.Context, jobID uuid.UUID, media []domain.Media) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(media) == 0 {
		return false, errors.New("media batch is empty")
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	job, ok := r.state.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	now := time.Now().UTC()
	for i := range media {
		rec := media[i]
		rec.JobID = jobID
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		r.state.media[rec.ID] = &rec
	}
	return true, nil
}

// GetByID fetches a media record by its identifier.
func (r *MediaRepositoryMem) GetByID(ctx context.Context, id uuid.UUID) (*domain.Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	med, ok := r.state.media[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *med
	return &clone, nil
}

// ListByJob returns all media owned by the given job, oldest first.
func (r *MediaRepositoryMem) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	var out []domain.Media
	for _, med := range r.state.media {
		if med.JobID == jobID {
			out = append(out, *med)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete removes one media record.
func (r *MediaRepositoryMem) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if _, ok := r.state.media[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.state.media, id)
	return nil
}

func cloneJob(job *domain.Job) *domain.Job {
	clone := *job
	if job.Parameters != nil {
		clone.Parameters = make(map[string]any, len(job.Parameters))
		for k, v := range job.Parameters {
			clone.Parameters[k] = v
		}
	}
	if job.Metadata != nil {
		clone.Metadata = make(map[string]any, len(job.Metadata))
		for k, v := range job.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
