// Package cleanup runs the background sweeps the pipeline needs: purging
// terminal jobs past their retention window, and returning jobs orphaned in
// processing by a dead worker to the queue. Media rows go with purged jobs
// through the repository cascade.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"mediagen/internal/domain"
)

// reclaimSchedule is how often orphaned processing jobs are swept back to
// pending. Frequent by design: a stuck job stays stuck until the next sweep.
const reclaimSchedule = "@every 1m"

// Janitor deletes completed, failed, and cancelled jobs older than the
// retention window, and requeues processing jobs whose worker died.
type Janitor struct {
	jobs       domain.JobRepository
	schedule   string
	retention  time.Duration
	staleAfter time.Duration
	logger     zerolog.Logger
	cron       *cron.Cron
}

// NewJanitor builds a Janitor. schedule is standard 5-field cron syntax;
// retentionDays bounds how long terminal jobs are kept; staleAfter bounds how
// long a job may sit untouched in processing before it is considered
// abandoned. staleAfter must exceed the longest legitimate attempt (provider
// timeout plus artifact persistence), or live jobs get requeued mid-flight.
func NewJanitor(jobs domain.JobRepository, schedule string, retentionDays int, staleAfter time.Duration, logger zerolog.Logger) *Janitor {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Janitor{
		jobs:       jobs,
		schedule:   schedule,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start registers both sweeps and begins running them in the background.
func (j *Janitor) Start() error {
	c := cron.New()
	_, err := c.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error().Err(err).Msg("cleanup: purge sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register cleanup schedule %q: %w", j.schedule, err)
	}
	if _, err := c.AddFunc(reclaimSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := j.ReclaimStale(ctx); err != nil {
			j.logger.Error().Err(err).Msg("cleanup: reclaim sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("register reclaim schedule: %w", err)
	}
	c.Start()
	j.cron = c
	j.logger.Info().
		Str("schedule", j.schedule).
		Dur("retention", j.retention).
		Dur("stale_after", j.staleAfter).
		Msg("cleanup: janitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.logger.Info().Msg("cleanup: janitor stopped")
}

// ReclaimStale performs a single orphan sweep, returning processing jobs not
// touched within the stale window to pending.
func (j *Janitor) ReclaimStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-j.staleAfter)
	requeued, err := j.jobs.RequeueStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if requeued > 0 {
		j.logger.Warn().
			Int64("requeued", requeued).
			Time("cutoff", cutoff).
			Msg("cleanup: requeued abandoned jobs")
	}
	return requeued, nil
}

// RunOnce performs a single sweep and reports how many jobs were deleted.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-j.retention)
	deleted, err := j.jobs.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if deleted > 0 {
		j.logger.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("cleanup: purged terminal jobs")
	}
	return deleted, nil
}
