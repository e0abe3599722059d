package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"herald/internal/types"
)

// ChannelProber is the single-channel contract the runner fans out over.
type ChannelProber interface {
	Probe(ctx context.Context, channel types.ChannelTarget) types.Observation
}

// ChannelResult pairs a channel with its observation for one fan-out call.
type ChannelResult struct {
	Channel     types.ChannelTarget
	Observation types.Observation
}

// Runner probes many channels with bounded parallelism under one
// aggregate deadline. Individual probe failures and timeouts are isolated
// per channel; completed results are always returned.
type Runner struct {
	prober      ChannelProber
	maxParallel int
	timeout     time.Duration
	logger      *slog.Logger
}

func NewRunner(prober ChannelProber, maxParallel int, timeout time.Duration, logger *slog.Logger) *Runner {
	if maxParallel <= 0 {
		maxParallel = 10
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		prober:      prober,
		maxParallel: maxParallel,
		timeout:     timeout,
		logger:      logger,
	}
}

// Run probes every channel and returns one result per channel, in input
// order. Probes still in flight when the aggregate deadline elapses are
// abandoned and reported as timeout observations for just those channels.
func (r *Runner) Run(ctx context.Context, channels []types.ChannelTarget) []ChannelResult {
	results := make([]ChannelResult, len(channels))
	for i, ch := range channels {
		results[i] = ChannelResult{Channel: ch}
	}

	if len(channels) == 0 {
		return results
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type indexed struct {
		idx int
		obs types.Observation
	}

	done := make(chan indexed, len(channels))
	sem := make(chan struct{}, r.maxParallel)

	for i, ch := range channels {
		go func(idx int, channel types.ChannelTarget) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				done <- indexed{idx, timeoutObservation(runCtx)}
				return
			}

			start := time.Now()
			obs := r.prober.Probe(runCtx, channel)

			r.logger.Debug("probe finished",
				"channel", channel.ID,
				"live", obs.Live,
				"elapsed", time.Since(start))

			done <- indexed{idx, obs}
		}(i, ch)
	}

	completed := make([]bool, len(channels))
	remaining := len(channels)

	for remaining > 0 {
		select {
		case res := <-done:
			results[res.idx].Observation = res.obs
			completed[res.idx] = true
			remaining--
		case <-runCtx.Done():
			// Deadline: abandon whatever is still in flight and report
			// those channels as timed out. Finished probes keep their
			// results.
			for i := range results {
				if !completed[i] {
					results[i].Observation = timeoutObservation(runCtx)
					r.logger.Warn("probe abandoned at fan-out deadline",
						"channel", results[i].Channel.ID,
						"timeout", r.timeout)
				}
			}
			return results
		}
	}

	return results
}

func timeoutObservation(ctx context.Context) types.Observation {
	err := ctx.Err()
	if err == nil {
		err = context.DeadlineExceeded
	}
	return types.Observation{Err: types.E(types.KindProbe, "fan-out", fmt.Errorf("probe timed out: %w", err))}
}
