package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mediagen/internal/domain"
	"mediagen/pkg/zip"
)

type mediaResponse struct {
	MediaID       string    `json:"media_id"`
	JobID         string    `json:"job_id"`
	Type          string    `json:"type"`
	URL           string    `json:"url,omitempty"`
	MimeType      string    `json:"mime_type"`
	FileExtension string    `json:"file_extension"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}

func (a *App) mediaResponse(m domain.Media) mediaResponse {
	return mediaResponse{
		MediaID:       m.ID.String(),
		JobID:         m.JobID.String(),
		Type:          string(m.Type),
		URL:           m.URL,
		MimeType:      m.MimeType,
		FileExtension: m.FileExtension,
		Width:         m.Width,
		Height:        m.Height,
		FileSizeBytes: m.FileSizeBytes,
		CreatedAt:     m.CreatedAt,
	}
}

// MediaMeta returns the metadata for one media record.
func (a *App) MediaMeta(w http.ResponseWriter, r *http.Request) {
	media, ok := a.loadMedia(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, a.mediaResponse(*media))
}

// MediaDownload streams the stored artifact bytes.
func (a *App) MediaDownload(w http.ResponseWriter, r *http.Request) {
	media, ok := a.loadMedia(w, r)
	if !ok {
		return
	}
	data, err := a.Store.Read(r.Context(), media.StoragePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.error(w, http.StatusNotFound, "not_found", "artifact missing from storage")
			return
		}
		a.Log.Error().Err(err).Str("media_id", media.ID.String()).Msg("handlers: read artifact failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read artifact")
		return
	}

	w.Header().Set("Content-Type", media.MimeType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", media.ID.String()+media.FileExtension))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DeleteMedia permanently removes a media record and its stored bytes.
func (a *App) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	media, ok := a.loadMedia(w, r)
	if !ok {
		return
	}
	if err := a.Store.Remove(r.Context(), media.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.Log.Error().Err(err).Str("media_id", media.ID.String()).Msg("handlers: remove artifact failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete artifact")
		return
	}
	if err := a.Media.Delete(r.Context(), media.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.Log.Error().Err(err).Str("media_id", media.ID.String()).Msg("handlers: delete media failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete media")
		return
	}
	a.Log.Info().Str("media_id", media.ID.String()).Msg("handlers: media deleted")
	w.WriteHeader(http.StatusNoContent)
}

// JobMediaArchive bundles every artifact of a completed job into one zip.
func (a *App) JobMediaArchive(w http.ResponseWriter, r *http.Request) {
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
	if job.Status != domain.JobStatusCompleted {
		a.error(w, http.StatusConflict, "conflict", "job has no completed media")
		return
	}
	records, err := a.Media.ListByJob(r.Context(), jobID)
	if err != nil || len(records) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no media for job")
		return
	}

	assets := make([]zip.Asset, 0, len(records))
	for _, m := range records {
		data, err := a.Store.Read(r.Context(), m.StoragePath)
		if err != nil {
			a.Log.Error().Err(err).Str("media_id", m.ID.String()).Msg("handlers: read artifact failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to read artifacts")
			return
		}
		assets = append(assets, zip.Asset{
			Filename: m.ID.String() + m.FileExtension,
			MIME:     m.MimeType,
			Data:     data,
		})
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.Log.Error().Err(err).Str("job_id", jobID.String()).Msg("handlers: archive failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID.String()+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) loadMedia(w http.ResponseWriter, r *http.Request) (*domain.Media, bool) {
	mediaID, err := uuid.Parse(chi.URLParam(r, "media_id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid media id")
		return nil, false
	}
	media, err := a.Media.GetByID(r.Context(), mediaID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "media not found")
			return nil, false
		}
		a.Log.Error().Err(err).Str("media_id", mediaID.String()).Msg("handlers: load media failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load media")
		return nil, false
	}
	return media, true
}
