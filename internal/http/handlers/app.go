// Package handlers exposes the job submission and media retrieval API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/infra/geoip"
	"mediagen/internal/queue"
	"mediagen/internal/storage"
	"mediagen/internal/webhook"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Jobs  domain.JobRepository
	Media domain.MediaRepository
	Queue queue.Queue
	Store storage.Store
	GeoIP *geoip.Resolver
	Hooks *webhook.Dispatcher
	Cfg   *infra.Config
	Log   zerolog.Logger

	// Ping reports backend health; nil means no backing store to check.
	Ping func(ctx context.Context) error
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, msg string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
