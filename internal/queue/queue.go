// Package queue defines the enqueue/dequeue boundary between the API layer
// and the orchestration workers. Delivery is at-least-once: a job id may be
// handed to more than one worker, and the orchestrator's guarded transitions
// are what make that safe.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoJob is returned by Next when nothing is ready for delivery.
var ErrNoJob = errors.New("queue: no job available")

// Queue accepts job ids for delivery to workers. A non-zero delay defers
// delivery, which is how retry backoff is realized.
type Queue interface {
	Submit(ctx context.Context, jobID uuid.UUID, delay time.Duration) error
}

// Consumer hands out the next deliverable job id. Implementations must
// tolerate redelivery of ids that were already processed.
type Consumer interface {
	Next(ctx context.Context) (uuid.UUID, error)
}
