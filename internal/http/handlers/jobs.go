package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mediagen/internal/domain"
)

const (
	maxPromptLength = 4000
	maxRetryCap     = 10
)

type createJobRequest struct {
	Prompt     string         `json:"prompt"`
	Parameters map[string]any `json:"parameters"`
	WebhookURL string         `json:"webhook_url"`
	Metadata   map[string]any `json:"metadata"`
	MaxRetries *int           `json:"max_retries"`
}

type jobResponse struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	Prompt     string          `json:"prompt,omitempty"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Error      string          `json:"error,omitempty"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	DoneAt     *time.Time      `json:"completed_at,omitempty"`
	Media      []mediaResponse `json:"media,omitempty"`
}

func (a *App) jobResponse(job *domain.Job, media []domain.Media) jobResponse {
	resp := jobResponse{
		JobID:      job.ID.String(),
		Status:     string(job.Status),
		Prompt:     job.Prompt,
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		Error:      job.ErrorMessage,
		WebhookURL: job.WebhookURL,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		StartedAt:  job.StartedAt,
		DoneAt:     job.CompletedAt,
	}
	for _, m := range media {
		resp.Media = append(resp.Media, a.mediaResponse(m))
	}
	return resp
}

// CreateJob accepts a generation request, persists it as pending, and
// enqueues it for the worker pool.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	if len(req.Prompt) > maxPromptLength {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt too long")
		return
	}
	if req.WebhookURL != "" {
		u, err := url.Parse(req.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			a.error(w, http.StatusBadRequest, "bad_request", "webhook_url must be an http(s) url")
			return
		}
	}
	maxRetries := a.Cfg.MaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 || *req.MaxRetries > maxRetryCap {
			a.error(w, http.StatusBadRequest, "bad_request", "max_retries out of range")
			return
		}
		maxRetries = *req.MaxRetries
	}

	job := &domain.Job{
		ID:         uuid.New(),
		Prompt:     req.Prompt,
		Parameters: req.Parameters,
		Status:     domain.JobStatusPending,
		MaxRetries: maxRetries,
		WebhookURL: req.WebhookURL,
		Metadata:   a.requestMetadata(r, req.Metadata),
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Log.Error().Err(err).Msg("handlers: create job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	if err := a.Queue.Submit(r.Context(), job.ID, 0); err != nil {
		// The job is already pending with run_after set, so a polling
		// consumer will still find it.
		a.Log.Error().Err(err).Str("job_id", job.ID.String()).Msg("handlers: enqueue failed")
	}

	a.json(w, http.StatusAccepted, jobResponse{
		JobID:      job.ID.String(),
		Status:     string(job.Status),
		MaxRetries: job.MaxRetries,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	})
}

type jobListResponse struct {
	Jobs    []jobResponse `json:"jobs"`
	Total   int64         `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// ListJobs returns a page of jobs, newest first, optionally filtered by
// status.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parsePositiveInt(q.Get("page"), 1)
	perPage := parsePositiveInt(q.Get("per_page"), 20)
	if perPage > 100 {
		perPage = 100
	}

	var status domain.JobStatus
	if raw := q.Get("status"); raw != "" {
		status = domain.JobStatus(raw)
		if !status.Valid() {
			a.error(w, http.StatusBadRequest, "bad_request", "unknown status filter")
			return
		}
	}

	jobs, total, err := a.Jobs.List(r.Context(), domain.JobListOptions{
		Status: status,
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		a.Log.Error().Err(err).Msg("handlers: list jobs failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}

	resp := jobListResponse{
		Jobs:    make([]jobResponse, 0, len(jobs)),
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, a.jobResponse(&jobs[i], nil))
	}
	a.json(w, http.StatusOK, resp)
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// JobStatus returns the current view of a job, including its media once
// completed.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Log.Error().Err(err).Str("job_id", jobID.String()).Msg("handlers: load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	var media []domain.Media
	if job.Status == domain.JobStatusCompleted {
		media, err = a.Media.ListByJob(r.Context(), job.ID)
		if err != nil {
			a.Log.Error().Err(err).Str("job_id", jobID.String()).Msg("handlers: list media failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load media")
			return
		}
	}
	a.json(w, http.StatusOK, a.jobResponse(job, media))
}

// CancelJob cancels a pending or processing job. The guarded transitions mean
// a cancellation that races a worker resolves cleanly either way.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Log.Error().Err(err).Str("job_id", jobID.String()).Msg("handlers: load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	now := time.Now().UTC()
	fields := domain.TransitionFields{CompletedAt: &now}
	for _, from := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing} {
		ok, err := a.Jobs.TryTransition(r.Context(), jobID, from, domain.JobStatusCancelled, fields)
		if err != nil {
			a.Log.Error().Err(err).Str("job_id", jobID.String()).Msg("handlers: cancel transition failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
			return
		}
		if ok {
			job.Status = domain.JobStatusCancelled
			job.CompletedAt = &now
			a.Log.Info().Str("job_id", jobID.String()).Str("from", string(from)).Msg("handlers: job cancelled")
			a.Hooks.JobCancelled(r.Context(), job)
			a.json(w, http.StatusOK, jobResponse{
				JobID:  job.ID.String(),
				Status: string(job.Status),
				DoneAt: job.CompletedAt,
			})
			return
		}
	}

	a.error(w, http.StatusConflict, "conflict", "job already in a terminal state")
}

// requestMetadata merges caller-supplied metadata with request provenance.
// The provenance keys win on collision.
func (a *App) requestMetadata(r *http.Request, custom map[string]any) map[string]any {
	meta := make(map[string]any, len(custom)+3)
	for k, v := range custom {
		meta[k] = v
	}
	meta["client_ip"] = clientIP(r)
	meta["user_agent"] = r.UserAgent()
	if a.GeoIP != nil {
		if code, err := a.GeoIP.CountryCode(clientIP(r)); err == nil && code != "" {
			meta["country"] = code
		}
	}
	return meta
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
