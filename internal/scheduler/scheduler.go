package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"herald/internal/announce"
	"herald/internal/cache"
	"herald/internal/probe"
	"herald/internal/storage"
	"herald/internal/types"
)

// Scheduler is the periodic driver: every interval it fans the live probe
// out across all enabled channels and pushes qualifying results through
// the posting pipeline. It is an explicit handle owned by the process
// entry point; stop and status are methods, not globals.
type Scheduler struct {
	store    storage.Store
	runner   *probe.Runner
	resolver *announce.Resolver
	pipeline *announce.Pipeline
	seen     *cache.Cache[string, string]
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

type Config struct {
	Store        storage.Store
	Runner       *probe.Runner
	Resolver     *announce.Resolver
	Pipeline     *announce.Pipeline
	Interval     time.Duration
	BroadcastTTL time.Duration
	Logger       *slog.Logger
}

func New(config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 3 * time.Minute
	}
	if config.BroadcastTTL <= 0 {
		config.BroadcastTTL = 6 * time.Hour
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Scheduler{
		store:    config.Store,
		runner:   config.Runner,
		resolver: config.Resolver,
		pipeline: config.Pipeline,
		seen: cache.New[string, string](
			cache.Config{TTL: config.BroadcastTTL},
			func(k string) string { return k },
		),
		interval: config.Interval,
		logger:   config.Logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the loop until the context is cancelled or Stop is called.
// A tick that fails logs and waits for the next interval; it never kills
// the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	if s.stopCh == nil {
		// Re-arm after a previous Stop so the handle is restartable.
		s.stopCh = make(chan struct{})
	}
	stopCh := s.stopCh
	s.mu.Unlock()

	defer s.markStopped()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.tickBudget())
	defer cancel()

	if _, err := s.TriggerScheduledCheck(tickCtx); err != nil {
		s.logger.Error("scheduled check failed", "error", err)
	}
}

// tickBudget leaves some headroom before the next tick fires.
func (s *Scheduler) tickBudget() time.Duration {
	if s.interval > 20*time.Second {
		return s.interval - 10*time.Second
	}
	return s.interval
}

// Stop signals the loop to exit. It is idempotent: the stop channel is
// taken out of the handle under the lock, so only the first caller closes
// it; later calls are no-ops.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh == nil {
		return nil
	}

	close(stopCh)
	return s.seen.Close()
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// TriggerScheduledCheck runs one full check cycle: load enabled channels,
// fan the probe out, and post for every qualifying live broadcast. It is
// called by the loop and is also the entry point for an external
// cron-equivalent driver. Postings run sequentially; only probing is
// parallel.
func (s *Scheduler) TriggerScheduledCheck(ctx context.Context) ([]types.CheckResult, error) {
	channels, err := s.store.Channels().ListEnabled(ctx)
	if err != nil {
		return nil, types.E(types.KindStorage, "list channels", err)
	}

	if len(channels) == 0 {
		return nil, nil
	}

	results := s.runner.Run(ctx, channels)

	checks := make([]types.CheckResult, 0, len(results))
	liveCount, posted := 0, 0

	for _, res := range results {
		check := s.handleObservation(ctx, res.Channel, res.Observation)
		if check.Live {
			liveCount++
		}
		posted += check.Posted
		checks = append(checks, check)
	}

	if liveCount > 0 || posted > 0 {
		s.logger.Info("live check complete",
			"channels", len(channels), "live", liveCount, "posted", posted)
	}

	return checks, nil
}

func (s *Scheduler) handleObservation(ctx context.Context, channel types.ChannelTarget, obs types.Observation) types.CheckResult {
	check := types.CheckResult{
		ChannelID:   channel.ID,
		ChannelName: channel.Name,
	}

	if obs.Err != nil {
		check.Errors = append(check.Errors, fmt.Sprintf("probe failed: %v", obs.Err))
		return check
	}

	if !obs.Live {
		return check
	}

	check.Live = true
	check.URL = obs.URL
	check.Title = obs.Title

	if !s.resolver.Qualifies(channel, obs) {
		check.Errors = append(check.Errors,
			fmt.Sprintf("title filter not matched: %q does not match %q", obs.Title, channel.TitleFilter))
		return check
	}

	// A broadcast stays live across many ticks; only the first qualifying
	// sighting does the resolve-and-post work.
	if prev, ok := s.seen.Get(channel.ID); ok && prev == obs.BroadcastID {
		return check
	}

	if err := s.resolver.RecordBroadcastURL(ctx, channel.ContentItemID, obs.URL); err != nil {
		check.Errors = append(check.Errors, fmt.Sprintf("record broadcast url: %v", err))
	}

	configs, err := s.resolver.PendingConfigs(ctx, channel.ContentItemID)
	if err != nil {
		check.Errors = append(check.Errors, fmt.Sprintf("resolve recipients: %v", err))
		return check
	}

	for _, cfg := range configs {
		ref := types.ConfigRef{ContentItemID: cfg.ContentItemID, RecipientID: cfg.RecipientID}
		result := s.pipeline.PostForRecipient(ctx, ref)
		if result.Success {
			check.Posted++
			continue
		}
		switch result.Reason {
		case types.ReasonNotPending, types.ReasonDisabled, types.ReasonNotFound:
			// Lost the race to a manual trigger, or the recipient opted
			// out. Not an error.
		default:
			check.Errors = append(check.Errors,
				fmt.Sprintf("post for recipient %d failed: %s", cfg.RecipientID, result.Reason))
		}
	}

	s.seen.Set(channel.ID, obs.BroadcastID)

	return check
}
