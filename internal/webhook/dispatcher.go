// Package webhook delivers best-effort notifications when a job reaches a
// terminal state. Delivery failure is logged and swallowed; it never rolls
// back or retries the job's own status.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
)

// CompletedPayload is posted when a job finishes successfully.
type CompletedPayload struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	MediaURL string `json:"media_url"`
	MediaID  string `json:"media_id"`
}

// FailedPayload is posted when a job fails permanently or exhausts retries.
type FailedPayload struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// CancelledPayload is posted on cancellation when the policy enables it.
type CancelledPayload struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Dispatcher performs one outbound delivery attempt per terminal outcome.
type Dispatcher struct {
	client          *http.Client
	logger          zerolog.Logger
	notifyCancelled bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithNotifyCancelled enables cancellation notifications. Off by default;
// the terminal webhook contract only requires completed and failed.
func WithNotifyCancelled(enabled bool) Option {
	return func(d *Dispatcher) { d.notifyCancelled = enabled }
}

// NewDispatcher creates a Dispatcher with a bounded outbound client.
func NewDispatcher(logger zerolog.Logger, timeout time.Duration, opts ...Option) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// JobCompleted notifies the job's webhook URL of a successful outcome.
// media describes the primary artifact of the batch.
func (d *Dispatcher) JobCompleted(ctx context.Context, job *domain.Job, media *domain.Media) {
	if job.WebhookURL == "" {
		return
	}
	payload := CompletedPayload{
		JobID:  job.ID.String(),
		Status: string(domain.JobStatusCompleted),
	}
	if media != nil {
		payload.MediaID = media.ID.String()
		payload.MediaURL = media.URL
	}
	d.deliver(ctx, job, payload)
}

// JobFailed notifies the job's webhook URL of a terminal failure.
func (d *Dispatcher) JobFailed(ctx context.Context, job *domain.Job) {
	if job.WebhookURL == "" {
		return
	}
	d.deliver(ctx, job, FailedPayload{
		JobID:      job.ID.String(),
		Status:     string(domain.JobStatusFailed),
		Error:      job.ErrorMessage,
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
	})
}

// JobCancelled notifies the job's webhook URL of cancellation when the
// dispatcher policy enables it.
func (d *Dispatcher) JobCancelled(ctx context.Context, job *domain.Job) {
	if !d.notifyCancelled || job.WebhookURL == "" {
		return
	}
	d.deliver(ctx, job, CancelledPayload{
		JobID:  job.ID.String(),
		Status: string(domain.JobStatusCancelled),
	})
}

func (d *Dispatcher) deliver(ctx context.Context, job *domain.Job, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("webhook: encode payload failed")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.WebhookURL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("webhook: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID.String()).Str("url", job.WebhookURL).Msg("webhook: delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.logger.Error().
			Str("job_id", job.ID.String()).
			Str("url", job.WebhookURL).
			Err(fmt.Errorf("webhook: status %d", resp.StatusCode)).
			Msg("webhook: delivery rejected")
		return
	}
	d.logger.Info().Str("job_id", job.ID.String()).Str("url", job.WebhookURL).Msg("webhook: delivered")
}
