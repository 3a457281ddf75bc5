package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process queue used by tests and database-less development.
// Delayed submissions are scheduled with timers; ready ids are buffered on a
// channel that Next drains.
type Memory struct {
	ready chan uuid.UUID

	mu     sync.Mutex
	timers []*time.Timer
	closed bool
}

// NewMemory creates a Memory queue buffering up to size ready job ids.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 128
	}
	return &Memory{ready: make(chan uuid.UUID, size)}
}

// Submit enqueues jobID for delivery after delay.
func (m *Memory) Submit(ctx context.Context, jobID uuid.UUID, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return m.push(jobID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	t := time.AfterFunc(delay, func() {
		_ = m.push(jobID)
	})
	m.timers = append(m.timers, t)
	return nil
}

func (m *Memory) push(jobID uuid.UUID) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil
	}
	select {
	case m.ready <- jobID:
	default:
		// Buffer full; drop on the floor. The periodic reaper side of the
		// postgres queue has no equivalent here, so tests should size the
		// buffer generously.
	}
	return nil
}

// Next blocks until a job id is deliverable or ctx is done.
func (m *Memory) Next(ctx context.Context) (uuid.UUID, error) {
	select {
	case id := <-m.ready:
		return id, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// Close stops pending timers. Ids already buffered remain deliverable.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}
