// Package app wires configuration into a running herald instance:
// storage, platforms, the probe runner, the posting pipeline, and the
// scheduler handle that drives them.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"herald/internal/announce"
	"herald/internal/config"
	"herald/internal/correlate"
	"herald/internal/platforms"
	"herald/internal/probe"
	"herald/internal/scheduler"
	"herald/internal/storage"
	"herald/internal/storage/sqlite"
	"herald/internal/types"
)

type App struct {
	scheduler  *scheduler.Scheduler
	pipeline   *announce.Pipeline
	resolver   *announce.Resolver
	store      storage.Store
	correlator correlate.Store
	logger     *slog.Logger
}

func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	bluesky, err := platforms.NewBlueskyPlatform(&cfg.Platforms.Bluesky)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}
	if err := bluesky.Initialize(ctx); err != nil {
		store.Close(ctx)
		return nil, err
	}

	var generator announce.Generator
	if cfg.Platforms.Ollama.Enabled {
		ollama, err := platforms.NewOllamaPlatform(cfg.Platforms.Ollama.Model)
		if err != nil {
			store.Close(ctx)
			return nil, err
		}
		generator = ollama
	}

	var correlator correlate.Store
	if cfg.Redis.Addr != "" {
		correlator = correlate.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	} else {
		correlator = correlate.NewMemoryStore()
	}

	pipeline := announce.NewPipeline(store, bluesky, generator, correlator, cfg.Announce.TextLimit, logger)
	resolver := announce.NewResolver(store, logger)

	prober := probe.NewProber(cfg.ProbeTimeout(), cfg.Probe.UserAgent, logger)
	runner := probe.NewRunner(prober, cfg.Scheduler.MaxParallel, cfg.FanOutTimeout(), logger)

	sched := scheduler.New(scheduler.Config{
		Store:        store,
		Runner:       runner,
		Resolver:     resolver,
		Pipeline:     pipeline,
		Interval:     cfg.SchedulerInterval(),
		BroadcastTTL: cfg.BroadcastTTL(),
		Logger:       logger,
	})

	return &App{
		scheduler:  sched,
		pipeline:   pipeline,
		resolver:   resolver,
		store:      store,
		correlator: correlator,
		logger:     logger,
	}, nil
}

// Run drives the scheduling loop until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.scheduler.Start(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	if err := a.scheduler.Stop(ctx); err != nil {
		a.logger.Warn("scheduler stop failed", "error", err)
	}
	if err := a.correlator.Close(); err != nil {
		a.logger.Warn("correlation store close failed", "error", err)
	}
	return a.store.Close(ctx)
}

// TriggerScheduledCheck runs one check cycle on demand.
func (a *App) TriggerScheduledCheck(ctx context.Context) ([]types.CheckResult, error) {
	return a.scheduler.TriggerScheduledCheck(ctx)
}

// PostForRecipient is the synchronous "post now" entry point. It runs the
// same pipeline as the scheduler, so a manual trigger racing the loop on
// the same config resolves to exactly one post.
func (a *App) PostForRecipient(ctx context.Context, ref types.ConfigRef) types.Result {
	return a.pipeline.PostForRecipient(ctx, ref)
}

// CreateConfigsForContentItem creates pending configs for the recipients
// of a newly scheduled content item. Idempotent.
func (a *App) CreateConfigsForContentItem(ctx context.Context, contentItemID int64, recipientIDs []int64) ([]types.AnnouncementConfig, error) {
	return a.resolver.CreateConfigsForContentItem(ctx, contentItemID, recipientIDs)
}
