package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// transitions is the adjacency list of the job state machine. A status absent
// from the map is terminal. processing->pending is the retry re-queue edge.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusPending},
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted out of s.
func (s JobStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s names one of the lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job encapsulates one generation request and its lifecycle state. The
// orchestrator mutates it exclusively through guarded status transitions.
type Job struct {
	ID           uuid.UUID
	Prompt       string
	Parameters   map[string]any
	Status       JobStatus
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	WebhookURL   string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	// RunAfter gates queue delivery; retries push it into the future.
	RunAfter time.Time
}

// IsTerminal reports whether the job reached a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// CanRetry reports whether the retry budget permits another attempt.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}
