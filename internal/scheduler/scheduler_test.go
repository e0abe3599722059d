package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/announce"
	"herald/internal/probe"
	"herald/internal/storage"
	"herald/internal/storage/sqlite"
	"herald/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// scriptedProber serves canned observations per channel ID.
type scriptedProber struct {
	mu  sync.Mutex
	obs map[string]types.Observation
}

func (p *scriptedProber) set(channelID string, obs types.Observation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.obs[channelID] = obs
}

func (p *scriptedProber) Probe(ctx context.Context, channel types.ChannelTarget) types.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.obs[channel.ID]
}

type fakePublisher struct {
	calls int64
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, text string) (string, error) {
	n := atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("https://social.example/post/%d", n), nil
}

type fixture struct {
	store     storage.Store
	prober    *scriptedProber
	publisher *fakePublisher
	scheduler *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "scheduler-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	logger := testLogger()
	prober := &scriptedProber{obs: make(map[string]types.Observation)}
	publisher := &fakePublisher{}

	pipeline := announce.NewPipeline(store, publisher, nil, nil, 280, logger)
	resolver := announce.NewResolver(store, logger)
	runner := probe.NewRunner(prober, 4, 5*time.Second, logger)

	sched := New(Config{
		Store:        store,
		Runner:       runner,
		Resolver:     resolver,
		Pipeline:     pipeline,
		Interval:     50 * time.Millisecond,
		BroadcastTTL: time.Hour,
		Logger:       logger,
	})

	return &fixture{store: store, prober: prober, publisher: publisher, scheduler: sched}
}

func (f *fixture) addItem(t *testing.T, title string) int64 {
	t.Helper()
	res, err := f.store.GetConnection().Exec(
		`INSERT INTO content_items (title, url) VALUES (?, '')`, title)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func (f *fixture) addChannel(t *testing.T, ch types.ChannelTarget) {
	t.Helper()
	_, err := f.store.GetConnection().Exec(`
		INSERT INTO channel_targets
			(id, name, content_item_id, enabled, title_filter, title_filter_enabled, title_filter_is_regex)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.Name, ch.ContentItemID, ch.Enabled,
		ch.TitleFilter, ch.TitleFilterEnabled, ch.TitleFilterIsRegex)
	require.NoError(t, err)
}

func (f *fixture) addPendingConfigs(t *testing.T, itemID int64, recipients ...int64) {
	t.Helper()
	configs := make([]types.AnnouncementConfig, len(recipients))
	for i, r := range recipients {
		configs[i] = types.AnnouncementConfig{
			ContentItemID: itemID, RecipientID: r,
			Enabled: true, IncludeLink: true, Status: types.StatusPending,
		}
	}
	require.NoError(t, f.store.Configs().CreateBatch(context.Background(), configs))
}

func liveObs(broadcastID, title string) types.Observation {
	return types.Observation{
		Live:        true,
		BroadcastID: broadcastID,
		URL:         "https://www.youtube.com/watch?v=" + broadcastID,
		Title:       title,
	}
}

func TestScheduledCheckPostsForAllRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	itemID := f.addItem(t, "Mouse Review")
	f.addChannel(t, types.ChannelTarget{
		ID: "UC1", Name: "Mouse Channel", ContentItemID: itemID, Enabled: true,
		TitleFilter: "LIVE", TitleFilterEnabled: true,
	})
	f.addPendingConfigs(t, itemID, 10, 20)
	f.prober.set("UC1", liveObs("abcdefghijk", "Mouse Review LIVE"))

	checks, err := f.scheduler.TriggerScheduledCheck(ctx)
	require.NoError(t, err)
	require.Len(t, checks, 1)

	assert.True(t, checks[0].Live)
	assert.Equal(t, 2, checks[0].Posted)
	assert.Empty(t, checks[0].Errors)
	assert.Equal(t, "Mouse Review LIVE", checks[0].Title)
	assert.Equal(t, int64(2), atomic.LoadInt64(&f.publisher.calls))

	// Each recipient got its own post with a distinct URL.
	a, err := f.store.Configs().Get(ctx, types.ConfigRef{ContentItemID: itemID, RecipientID: 10})
	require.NoError(t, err)
	b, err := f.store.Configs().Get(ctx, types.ConfigRef{ContentItemID: itemID, RecipientID: 20})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPosted, a.Status)
	assert.Equal(t, types.StatusPosted, b.Status)
	assert.NotEqual(t, a.PublishedURL, b.PublishedURL)

	// The broadcast URL was written back onto the content item.
	item, err := f.store.Items().Get(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=abcdefghijk", item.URL)

	entries, err := f.store.PostLog().ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestScheduledCheckSkipsSeenBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	itemID := f.addItem(t, "Mouse Review")
	f.addChannel(t, types.ChannelTarget{ID: "UC1", ContentItemID: itemID, Enabled: true})
	f.addPendingConfigs(t, itemID, 10)
	f.prober.set("UC1", liveObs("abcdefghijk", "Mouse Review LIVE"))

	_, err := f.scheduler.TriggerScheduledCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), atomic.LoadInt64(&f.publisher.calls))

	// Same broadcast on the next tick: no new resolution work.
	checks, err := f.scheduler.TriggerScheduledCheck(ctx)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.True(t, checks[0].Live)
	assert.Equal(t, 0, checks[0].Posted)
	assert.Equal(t, int64(1), atomic.LoadInt64(&f.publisher.calls))
}

func TestScheduledCheckNewBroadcastAfterSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	itemID := f.addItem(t, "Mouse Review")
	f.addChannel(t, types.ChannelTarget{ID: "UC1", ContentItemID: itemID, Enabled: true})
	f.addPendingConfigs(t, itemID, 10)
	f.prober.set("UC1", liveObs("abcdefghijk", "Part one"))

	_, err := f.scheduler.TriggerScheduledCheck(ctx)
	require.NoError(t, err)

	// A different broadcast ID means a new live event; the pending set is
	// already drained, so the pipeline is consulted but nothing posts.
	f.prober.set("UC1", liveObs("lmnopqrstuv", "Part two"))
	checks, err := f.scheduler.TriggerScheduledCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, checks[0].Posted)
	assert.Empty(t, checks[0].Errors, "already-posted configs are skipped silently")
}

func TestScheduledCheckTitleFilterBlocksPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	itemID := f.addItem(t, "Mouse Review")
	f.addChannel(t, types.ChannelTarget{
		ID: "UC1", ContentItemID: itemID, Enabled: true,
		TitleFilter: "premiere", TitleFilterEnabled: true,
	})
	f.addPendingConfigs(t, itemID, 10)
	f.prober.set("UC1", liveObs("abcdefghijk", "casual hangout"))

	checks, err := f.scheduler.TriggerScheduledCheck(ctx)
	require.NoError(t, err)
	require.Len(t, checks, 1)

	assert.True(t, checks[0].Live)
	assert.Equal(t, 0, checks[0].Posted)
	require.Len(t, checks[0].Errors, 1)
	assert.Contains(t, checks[0].Errors[0], "title filter not matched")
	assert.Equal(t, int64(0), atomic.LoadInt64(&f.publisher.calls))
}

func TestScheduledCheckIsolatesProbeFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	itemA := f.addItem(t, "Show A")
	itemB := f.addItem(t, "Show B")
	f.addChannel(t, types.ChannelTarget{ID: "UC-bad", ContentItemID: itemA, Enabled: true})
	f.addChannel(t, types.ChannelTarget{ID: "UC-good", ContentItemID: itemB, Enabled: true})
	f.addPendingConfigs(t, itemB, 10)

	f.prober.set("UC-bad", types.Observation{Err: errors.New("network unreachable")})
	f.prober.set("UC-good", liveObs("abcdefghijk", "Show B live"))

	checks, err := f.scheduler.TriggerScheduledCheck(ctx)
	require.NoError(t, err)
	require.Len(t, checks, 2)

	var bad, good types.CheckResult
	for _, c := range checks {
		switch c.ChannelID {
		case "UC-bad":
			bad = c
		case "UC-good":
			good = c
		}
	}

	require.Len(t, bad.Errors, 1)
	assert.Contains(t, bad.Errors[0], "probe failed")
	assert.Equal(t, 1, good.Posted)
}

func TestScheduledCheckNoChannels(t *testing.T) {
	f := newFixture(t)
	checks, err := f.scheduler.TriggerScheduledCheck(context.Background())
	require.NoError(t, err)
	assert.Nil(t, checks)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.scheduler.Start(ctx) }()

	require.Eventually(t, f.scheduler.IsRunning, time.Second, 5*time.Millisecond)

	require.NoError(t, f.scheduler.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.False(t, f.scheduler.IsRunning())
}

func TestStopTwice(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.scheduler.Start(ctx) }()
	require.Eventually(t, f.scheduler.IsRunning, time.Second, 5*time.Millisecond)

	// Back-to-back stops must both return cleanly, even before the loop
	// goroutine has observed the first one.
	require.NoError(t, f.scheduler.Stop(context.Background()))
	require.NoError(t, f.scheduler.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	require.NoError(t, f.scheduler.Stop(context.Background()))
}

func TestRestartAfterStop(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.scheduler.Start(ctx) }()
	require.Eventually(t, f.scheduler.IsRunning, time.Second, 5*time.Millisecond)
	require.NoError(t, f.scheduler.Stop(context.Background()))
	require.NoError(t, <-done)

	// The handle re-arms: a second Start runs a fresh loop instead of
	// returning immediately on the spent stop channel.
	go func() { done <- f.scheduler.Start(ctx) }()
	require.Eventually(t, f.scheduler.IsRunning, time.Second, 5*time.Millisecond)
	require.NoError(t, f.scheduler.Stop(context.Background()))
	require.NoError(t, <-done)
	assert.False(t, f.scheduler.IsRunning())
}

func TestStartTwiceFails(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.scheduler.Start(ctx) }()
	require.Eventually(t, f.scheduler.IsRunning, time.Second, 5*time.Millisecond)

	err := f.scheduler.Start(ctx)
	require.Error(t, err)

	cancel()
	<-done
}

func TestStartCancelledContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.scheduler.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.scheduler.IsRunning())
}
