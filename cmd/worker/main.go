package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/backoff"
	"mediagen/internal/cleanup"
	"mediagen/internal/infra"
	"mediagen/internal/pipeline"
	"mediagen/internal/providers/replicate"
	"mediagen/internal/queue"
	"mediagen/internal/storage"
	"mediagen/internal/webhook"
	"mediagen/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("worker: schema bootstrap failed")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	provider, err := replicate.NewClient(replicate.Options{
		APIToken:   cfg.ReplicateAPIToken,
		BaseURL:    cfg.ReplicateBaseURL,
		Model:      cfg.ReplicateModel,
		HTTPClient: &http.Client{Timeout: cfg.ProviderTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure provider")
	}
	if cfg.ReplicateAPIToken == "" {
		logger.Warn().Str("model", provider.Model()).Msg("worker: replicate token missing, using synthetic generation")
	}

	jobs := repo.NewJobRepository(pool)
	media := repo.NewMediaRepository(pool)
	q := queue.NewPostgres(pool, cfg.QueueVisibility)
	hooks := webhook.NewDispatcher(logger, cfg.WebhookTimeout, webhook.WithNotifyCancelled(cfg.WebhookNotifyCancelled))

	orch := pipeline.NewOrchestrator(
		jobs, media, provider, store, q, hooks,
		backoff.Policy{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		pipeline.Config{
			ProviderTimeout: cfg.ProviderTimeout,
			DownloadTimeout: 60 * time.Second,
			MediaBaseURL:    cfg.StorageBaseURL,
		},
		logger,
	)

	workers := worker.NewPool(q, orch, cfg.WorkerConcurrency, cfg.QueuePollInterval, logger)

	janitor := cleanup.NewJanitor(jobs, cfg.CleanupSchedule, cfg.CleanupRetentionDays, cfg.QueueVisibility, logger)
	if err := janitor.Start(); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to start cleanup janitor")
	}
	defer janitor.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workers.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
