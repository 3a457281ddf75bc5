// Package worker runs a fixed-size pool of goroutines that drain the job
// queue into the processing pipeline.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediagen/internal/queue"
)

// Processor handles one delivery of a job id.
type Processor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

// Pool fans a queue consumer out over a fixed number of workers. Each worker
// claims one job at a time; an idle worker backs off for the poll interval
// before asking the queue again.
type Pool struct {
	consumer  queue.Consumer
	processor Processor
	size      int
	poll      time.Duration
	logger    zerolog.Logger
}

// NewPool builds a Pool with size workers polling every poll interval.
func NewPool(consumer queue.Consumer, processor Processor, size int, poll time.Duration, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Pool{
		consumer:  consumer,
		processor: processor,
		size:      size,
		poll:      poll,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs to finish.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("workers", p.size).Msg("worker: pool starting")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		id := i + 1
		g.Go(func() error {
			return p.runWorker(ctx, id)
		})
	}
	err := g.Wait()
	p.logger.Info().Msg("worker: pool stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (p *Pool) runWorker(ctx context.Context, id int) error {
	log := p.logger.With().Int("worker_id", id).Logger()
	for {
		jobID, err := p.consumer.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrNoJob):
			if !p.sleep(ctx) {
				return ctx.Err()
			}
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			log.Error().Err(err).Msg("worker: queue poll failed")
			if !p.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if err := p.processor.Process(ctx, jobID); err != nil {
			// Process only errors on infrastructure faults. A still-pending
			// job is redelivered after its visibility window; one wedged in
			// processing is recovered by the janitor's stale sweep.
			log.Error().Err(err).Str("job_id", jobID.String()).Msg("worker: processing error")
		}
	}
}

func (p *Pool) sleep(ctx context.Context) bool {
	t := time.NewTimer(p.poll)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
