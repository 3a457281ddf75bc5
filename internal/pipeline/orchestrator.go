// Package pipeline drives a submitted generation job through its state
// machine: claim, provider call, artifact persistence, terminal transition,
// webhook. Every transition is a guarded compare-and-set against the job
// repository, which makes the whole pipeline safe under at-least-once queue
// delivery and concurrent workers.
package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediagen/internal/backoff"
	"mediagen/internal/domain"
	"mediagen/internal/providers/generation"
	"mediagen/internal/queue"
	"mediagen/internal/storage"
	"mediagen/internal/webhook"
)

// Config bounds the orchestrator's external calls.
type Config struct {
	// ProviderTimeout caps one generation attempt end to end.
	ProviderTimeout time.Duration
	// DownloadTimeout caps fetching a single artifact URL.
	DownloadTimeout time.Duration
	// MediaBaseURL is the public prefix media download links are built from.
	MediaBaseURL string
}

// Orchestrator consumes job identifiers and runs the processing algorithm to
// completion. It is safe to invoke concurrently, including for the same job
// id: the guarded transitions resolve every race to a single winner.
type Orchestrator struct {
	jobs     domain.JobRepository
	media    domain.MediaRepository
	provider generation.Generator
	store    storage.Store
	queue    queue.Queue
	hooks    *webhook.Dispatcher
	policy   backoff.Policy
	cfg      Config

	httpClient *http.Client
	logger     zerolog.Logger
}

// NewOrchestrator wires an Orchestrator from its collaborators.
func NewOrchestrator(
	jobs domain.JobRepository,
	media domain.MediaRepository,
	provider generation.Generator,
	store storage.Store,
	q queue.Queue,
	hooks *webhook.Dispatcher,
	policy backoff.Policy,
	cfg Config,
	logger zerolog.Logger,
) *Orchestrator {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 300 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	return &Orchestrator{
		jobs:       jobs,
		media:      media,
		provider:   provider,
		store:      store,
		queue:      q,
		hooks:      hooks,
		policy:     policy,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.DownloadTimeout},
		logger:     logger,
	}
}

// Process handles one delivery of a job id. Redeliveries and duplicate
// concurrent invocations are normal; any attempt that loses its guarded
// transition returns nil without side effects.
func (o *Orchestrator) Process(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn().Str("job_id", jobID.String()).Msg("pipeline: job not found, dropping delivery")
			return nil
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != domain.JobStatusPending {
		o.logger.Debug().
			Str("job_id", jobID.String()).
			Str("status", string(job.Status)).
			Msg("pipeline: job not pending, dropping delivery")
		return nil
	}

	fields := domain.TransitionFields{}
	if job.StartedAt == nil {
		now := time.Now().UTC()
		fields.StartedAt = &now
	}
	claimed, err := o.jobs.TryTransition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, fields)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		// Another worker owns this job, or it was cancelled.
		return nil
	}
	job.Status = domain.JobStatusProcessing

	o.logger.Info().
		Str("job_id", job.ID.String()).
		Int("retry_count", job.RetryCount).
		Msg("pipeline: processing job")

	sources, err := o.generate(ctx, job)
	if err == nil {
		err = o.complete(ctx, job, sources)
	}
	if err == nil {
		return nil
	}

	if domain.IsPermanent(err) {
		o.fail(ctx, job, err)
		return nil
	}
	o.retryOrFail(ctx, job, err)
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, job *domain.Job) ([]generation.ArtifactSource, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()

	sources, err := o.provider.Generate(ctx, job.Prompt, job.Parameters)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, domain.Permanent(errors.New("provider returned no artifacts"))
	}
	return sources, nil
}

// complete persists the artifact batch and performs the terminal transition.
// Any storage or download failure surfaces as transient so the whole batch is
// retried; nothing partial is ever recorded.
func (o *Orchestrator) complete(ctx context.Context, job *domain.Job, sources []generation.ArtifactSource) error {
	records := make([]domain.Media, 0, len(sources))
	for idx, src := range sources {
		data, mime, err := o.fetchArtifact(ctx, src)
		if err != nil {
			return domain.Transient(fmt.Errorf("fetch artifact %d: %w", idx, err))
		}
		rec := o.buildMedia(job, data, mime, idx)
		key, err := o.store.Write(ctx, rec.StoragePath, data)
		if err != nil {
			return domain.Transient(fmt.Errorf("store artifact %d: %w", idx, err))
		}
		rec.StoragePath = key
		records = append(records, rec)
	}

	// Re-validate status right before persisting: a cancellation that landed
	// mid-attempt makes the insert a no-op and the artifacts are discarded.
	applied, err := o.media.AddForJob(ctx, job.ID, records)
	if err != nil {
		return domain.Transient(fmt.Errorf("persist media: %w", err))
	}
	if !applied {
		o.logger.Info().Str("job_id", job.ID.String()).Msg("pipeline: job no longer processing, discarding artifacts")
		return nil
	}

	now := time.Now().UTC()
	done, err := o.jobs.TryTransition(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.TransitionFields{CompletedAt: &now})
	if err != nil {
		return domain.Transient(fmt.Errorf("complete job: %w", err))
	}
	if !done {
		// Cancellation won between the media insert and the transition.
		o.logger.Info().Str("job_id", job.ID.String()).Msg("pipeline: completion lost to cancellation")
		return nil
	}

	job.Status = domain.JobStatusCompleted
	job.CompletedAt = &now
	o.logger.Info().
		Str("job_id", job.ID.String()).
		Int("media_count", len(records)).
		Msg("pipeline: job completed")
	o.hooks.JobCompleted(ctx, job, &records[0])
	return nil
}

// retryOrFail consumes one unit of retry budget, or marks the job failed when
// the budget is spent.
func (o *Orchestrator) retryOrFail(ctx context.Context, job *domain.Job, cause error) {
	if !job.CanRetry() {
		o.fail(ctx, job, cause)
		return
	}

	newCount := job.RetryCount + 1
	delay := o.policy.Delay(newCount)
	runAfter := time.Now().UTC().Add(delay)
	requeued, err := o.jobs.TryTransition(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusPending, domain.TransitionFields{
		RetryCount: &newCount,
		RunAfter:   &runAfter,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("pipeline: requeue transition failed")
		return
	}
	if !requeued {
		o.logger.Info().Str("job_id", job.ID.String()).Msg("pipeline: retry lost to cancellation")
		return
	}

	o.logger.Warn().
		Err(cause).
		Str("job_id", job.ID.String()).
		Int("retry_count", newCount).
		Int("max_retries", job.MaxRetries).
		Dur("delay", delay).
		Msg("pipeline: transient failure, retrying")

	if err := o.queue.Submit(ctx, job.ID, delay); err != nil {
		// The job stays pending with run_after set; a polling queue will
		// still pick it up once the delay elapses.
		o.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("pipeline: re-enqueue failed")
	}
}

func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, cause error) {
	msg := cause.Error()
	now := time.Now().UTC()
	failed, err := o.jobs.TryTransition(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusFailed, domain.TransitionFields{
		CompletedAt:  &now,
		ErrorMessage: &msg,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("pipeline: fail transition errored")
		return
	}
	if !failed {
		o.logger.Info().Str("job_id", job.ID.String()).Msg("pipeline: failure lost to cancellation")
		return
	}

	job.Status = domain.JobStatusFailed
	job.CompletedAt = &now
	job.ErrorMessage = msg
	o.logger.Error().
		Str("job_id", job.ID.String()).
		Str("error", msg).
		Int("retry_count", job.RetryCount).
		Msg("pipeline: job failed")
	o.hooks.JobFailed(ctx, job)
}

// fetchArtifact resolves an artifact source to raw bytes and a mime type.
// Sources carry inline bytes, data: URLs, or http(s) URLs.
func (o *Orchestrator) fetchArtifact(ctx context.Context, src generation.ArtifactSource) ([]byte, string, error) {
	if len(src.Data) > 0 {
		mime := src.MIME
		if mime == "" {
			mime = "image/png"
		}
		return src.Data, mime, nil
	}
	if strings.HasPrefix(src.URL, "data:") {
		return decodeDataURL(src.URL)
	}
	if src.URL == "" {
		return nil, "", errors.New("artifact source has no data or url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download artifact: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact body: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = src.MIME
	}
	if mime == "" {
		mime = "image/png"
	}
	return data, mime, nil
}

func (o *Orchestrator) buildMedia(job *domain.Job, data []byte, mime string, index int) domain.Media {
	id := uuid.New()
	ext := extensionForMIME(mime)
	rec := domain.Media{
		ID:            id,
		JobID:         job.ID,
		Type:          mediaTypeForMIME(mime),
		StoragePath:   fmt.Sprintf("generated/%s/artifact-%02d%s", job.ID, index+1, ext),
		MimeType:      mime,
		FileExtension: ext,
		FileSizeBytes: int64(len(data)),
	}
	if base := strings.TrimRight(o.cfg.MediaBaseURL, "/"); base != "" {
		rec.URL = fmt.Sprintf("%s/%s/download", base, id)
	}
	if strings.HasPrefix(mime, "image/") {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			rec.Width = cfg.Width
			rec.Height = cfg.Height
		}
	}
	return rec
}

// decodeDataURL parses data:<mime>;base64,<payload> URLs, the shape some
// providers use for inline artifacts.
func decodeDataURL(u string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data url")
	}
	mime, _, _ := strings.Cut(meta, ";")
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("unsupported data url encoding")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	if mime == "" {
		mime = "image/png"
	}
	return data, mime, nil
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".bin"
	}
}

func mediaTypeForMIME(mime string) domain.MediaType {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return domain.MediaTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return domain.MediaTypeAudio
	default:
		return domain.MediaTypeImage
	}
}
