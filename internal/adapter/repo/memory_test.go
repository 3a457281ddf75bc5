package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
)

func newPendingJob(t *testing.T, jobs *JobRepositoryMem) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:         uuid.New(),
		Prompt:     "a lighthouse at dusk",
		Status:     domain.JobStatusPending,
		MaxRetries: 3,
	}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestTryTransitionGuards(t *testing.T) {
	jobs, _ := NewMemory()
	job := newPendingJob(t, jobs)
	ctx := context.Background()

	ok, err := jobs.TryTransition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{})
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}

	// Same guard again must lose.
	ok, err = jobs.TryTransition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{})
	if err != nil {
		t.Fatalf("second transition err: %v", err)
	}
	if ok {
		t.Fatalf("duplicate transition should not apply")
	}

	// Illegal edge is an error, not a silent no-op.
	if _, err := jobs.TryTransition(ctx, job.ID, domain.JobStatusCompleted, domain.JobStatusPending, domain.TransitionFields{}); err == nil {
		t.Fatalf("expected error for illegal transition")
	}
}

func TestTryTransitionConcurrentSingleWinner(t *testing.T) {
	jobs, _ := NewMemory()
	job := newPendingJob(t, jobs)

	const racers = 16
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := jobs.TryTransition(context.Background(), job.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{})
			if err != nil {
				t.Errorf("transition: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestTryTransitionAppliesFields(t *testing.T) {
	jobs, _ := NewMemory()
	job := newPendingJob(t, jobs)
	ctx := context.Background()

	started := time.Now().UTC()
	if _, err := jobs.TryTransition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{StartedAt: &started}); err != nil {
		t.Fatalf("to processing: %v", err)
	}

	msg := "provider exploded"
	completed := time.Now().UTC()
	retries := 2
	if _, err := jobs.TryTransition(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusFailed, domain.TransitionFields{
		CompletedAt:  &completed,
		ErrorMessage: &msg,
		RetryCount:   &retries,
	}); err != nil {
		t.Fatalf("to failed: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobStatusFailed || got.ErrorMessage != msg || got.RetryCount != 2 {
		t.Fatalf("job = %+v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("timestamps not applied: %+v", got)
	}
}

func TestAddForJobRequiresProcessing(t *testing.T) {
	jobs, media := NewMemory()
	job := newPendingJob(t, jobs)
	ctx := context.Background()

	batch := []domain.Media{{ID: uuid.New(), Type: domain.MediaTypeImage, StoragePath: "generated/a.png"}}

	// Pending: guard refuses.
	ok, err := media.AddForJob(ctx, job.ID, batch)
	if err != nil || ok {
		t.Fatalf("pending insert: ok=%v err=%v", ok, err)
	}

	if _, err := jobs.TryTransition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{}); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	ok, err = media.AddForJob(ctx, job.ID, batch)
	if err != nil || !ok {
		t.Fatalf("processing insert: ok=%v err=%v", ok, err)
	}

	records, err := media.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].JobID != job.ID {
		t.Fatalf("records = %+v", records)
	}
}

func TestAddForJobAfterCancellationIsNoop(t *testing.T) {
	jobs, media := NewMemory()
	job := newPendingJob(t, jobs)
	ctx := context.Background()

	if _, err := jobs.TryTransition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{}); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	now := time.Now().UTC()
	if _, err := jobs.TryTransition(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusCancelled, domain.TransitionFields{CompletedAt: &now}); err != nil {
		t.Fatalf("to cancelled: %v", err)
	}

	ok, err := media.AddForJob(ctx, job.ID, []domain.Media{{ID: uuid.New()}})
	if err != nil || ok {
		t.Fatalf("cancelled insert: ok=%v err=%v", ok, err)
	}
	records, _ := media.ListByJob(ctx, job.ID)
	if len(records) != 0 {
		t.Fatalf("media persisted for cancelled job")
	}
}

func TestDeleteTerminalBefore(t *testing.T) {
	jobs, media := NewMemory()
	ctx := context.Background()

	old := newPendingJob(t, jobs)
	fresh := newPendingJob(t, jobs)

	if _, err := jobs.TryTransition(ctx, old.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{}); err != nil {
		t.Fatalf("old to processing: %v", err)
	}
	if ok, _ := media.AddForJob(ctx, old.ID, []domain.Media{{ID: uuid.New()}}); !ok {
		t.Fatalf("old media insert refused")
	}
	past := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := jobs.TryTransition(ctx, old.ID, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.TransitionFields{CompletedAt: &past}); err != nil {
		t.Fatalf("old to completed: %v", err)
	}

	removed, err := jobs.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := jobs.GetByID(ctx, old.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("old job should be gone, got %v", err)
	}
	if _, err := jobs.GetByID(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh job should survive: %v", err)
	}
	if records, _ := media.ListByJob(ctx, old.ID); len(records) != 0 {
		t.Fatalf("media should cascade with job")
	}
}

func TestRequeueStale(t *testing.T) {
	jobs, _ := NewMemory()
	ctx := context.Background()

	stale := newPendingJob(t, jobs)
	if _, err := jobs.TryTransition(ctx, stale.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{}); err != nil {
		t.Fatalf("stale to processing: %v", err)
	}
	untouched := newPendingJob(t, jobs)

	time.Sleep(2 * time.Millisecond)
	live := newPendingJob(t, jobs)
	if _, err := jobs.TryTransition(ctx, live.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{}); err != nil {
		t.Fatalf("live to processing: %v", err)
	}

	// Cutoff falls between the two claims: only the first counts as stale.
	staleJob, _ := jobs.GetByID(ctx, stale.ID)
	liveJob, _ := jobs.GetByID(ctx, live.ID)
	cutoff := staleJob.UpdatedAt.Add(time.Millisecond)
	if !cutoff.Before(liveJob.UpdatedAt) {
		cutoff = liveJob.UpdatedAt
	}

	requeued, err := jobs.RequeueStale(ctx, cutoff)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued = %d, want 1", requeued)
	}

	got, _ := jobs.GetByID(ctx, stale.ID)
	if got.Status != domain.JobStatusPending {
		t.Fatalf("stale status = %s, want pending", got.Status)
	}
	if got, _ := jobs.GetByID(ctx, live.ID); got.Status != domain.JobStatusProcessing {
		t.Fatalf("live job disturbed: %s", got.Status)
	}
	if got, _ := jobs.GetByID(ctx, untouched.ID); got.Status != domain.JobStatusPending {
		t.Fatalf("pending job disturbed: %s", got.Status)
	}
}

func TestListJobs(t *testing.T) {
	jobs, _ := NewMemory()
	ctx := context.Background()

	var created []*domain.Job
	for i := 0; i < 5; i++ {
		created = append(created, newPendingJob(t, jobs))
		time.Sleep(time.Millisecond)
	}
	cancelledID := created[2].ID
	if _, err := jobs.TryTransition(ctx, cancelledID, domain.JobStatusPending, domain.JobStatusCancelled, domain.TransitionFields{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	all, total, err := jobs.List(ctx, domain.JobListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(all) != 5 {
		t.Fatalf("total = %d len = %d, want 5/5", total, len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatalf("listing not newest-first at %d", i)
		}
	}

	page, total, err := jobs.List(ctx, domain.JobListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("page total = %d len = %d, want 5/2", total, len(page))
	}

	cancelled, total, err := jobs.List(ctx, domain.JobListOptions{Status: domain.JobStatusCancelled, Limit: 10})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if total != 1 || len(cancelled) != 1 || cancelled[0].ID != cancelledID {
		t.Fatalf("filtered = %+v total = %d", cancelled, total)
	}

	none, total, err := jobs.List(ctx, domain.JobListOptions{Limit: 10, Offset: 99})
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if total != 5 || len(none) != 0 {
		t.Fatalf("past-end page = %d items, total = %d", len(none), total)
	}
}

func TestMediaDelete(t *testing.T) {
	jobs, media := NewMemory()
	ctx := context.Background()

	job := newPendingJob(t, jobs)
	if _, err := jobs.TryTransition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.TransitionFields{}); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	rec := domain.Media{ID: uuid.New(), JobID: job.ID, Type: domain.MediaTypeImage}
	if ok, err := media.AddForJob(ctx, job.ID, []domain.Media{rec}); err != nil || !ok {
		t.Fatalf("add media: ok=%v err=%v", ok, err)
	}

	if err := media.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := media.GetByID(ctx, rec.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("media should be gone, got %v", err)
	}
	if err := media.Delete(ctx, rec.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}
