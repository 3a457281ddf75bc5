package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryImmediateDelivery(t *testing.T) {
	q := NewMemory(4)
	defer q.Close()

	id := uuid.New()
	if err := q.Submit(context.Background(), id, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != id {
		t.Fatalf("delivered %s, want %s", got, id)
	}
}

func TestMemoryDelayedDelivery(t *testing.T) {
	q := NewMemory(4)
	defer q.Close()

	id := uuid.New()
	if err := q.Submit(context.Background(), id, 30*time.Millisecond); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Not deliverable before the delay elapses.
	quick, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := q.Next(quick); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline before delay elapsed, got %v", err)
	}

	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	got, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("next after delay: %v", err)
	}
	if got != id {
		t.Fatalf("delivered %s, want %s", got, id)
	}
}

func TestMemoryNextHonorsContext(t *testing.T) {
	q := NewMemory(1)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryCloseStopsTimers(t *testing.T) {
	q := NewMemory(1)
	if err := q.Submit(context.Background(), uuid.New(), time.Hour); err != nil {
		t.Fatalf("submit: %v", err)
	}
	q.Close()

	if err := q.Submit(context.Background(), uuid.New(), 0); err != nil {
		t.Fatalf("submit after close: %v", err)
	}
	quick, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Next(quick); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("closed queue should not deliver, got %v", err)
	}
}
