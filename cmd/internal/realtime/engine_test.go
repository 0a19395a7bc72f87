package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"scoresws/cmd/internal/upstream"
	"scoresws/cmd/scores"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFeed serves pages of pageSize ids out of ids, newest first, like the
// scores endpoint: without cursor the newest page, with one the page of ids
// at or below it.
type fakeFeed struct {
	mu       sync.Mutex
	ids      []uint64 // ascending
	pageSize int
	calls    []*uint64

	// tooOld reports whether call n (1-based) answers CursorTooOld.
	tooOld func(n int, cursor *uint64) bool
}

func newFakeFeed(lo, hi uint64, pageSize int) *fakeFeed {
	f := &fakeFeed{pageSize: pageSize}
	f.extend(lo, hi)
	return f
}

func (f *fakeFeed) extend(lo, hi uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := lo; id <= hi; id++ {
		f.ids = append(f.ids, id)
	}
}

func (f *fakeFeed) FetchRetry(ctx context.Context, cursor *uint64, into *scores.RecordSet) (upstream.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return upstream.OutcomeOK, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var c *uint64
	if cursor != nil {
		v := *cursor
		c = &v
	}
	f.calls = append(f.calls, c)

	if f.tooOld != nil && f.tooOld(len(f.calls), cursor) {
		return upstream.OutcomeCursorTooOld, nil
	}

	end := len(f.ids)
	if cursor != nil {
		end = 0
		for end < len(f.ids) && f.ids[end] <= *cursor {
			end++
		}
	}
	start := max(end-f.pageSize, 0)
	for _, id := range f.ids[start:end] {
		into.Insert(rec(id))
	}
	return upstream.OutcomeOK, nil
}

func (f *fakeFeed) cursors() []*uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*uint64(nil), f.calls...)
}

func newTestEngine(t *testing.T, f Fetcher, historyLen int, cfg EngineConfig) (*Engine, *Hub, *Metrics) {
	t.Helper()

	m := NewMetrics(prometheus.NewRegistry())
	hub := NewHub(discardLogger(), historyLen, m)
	return NewEngine(discardLogger(), f, hub, m, cfg), hub, m
}

func armedClient(hub *Hub, key string, resume *uint64) *Client {
	c := NewClient(key, key, 0)
	hub.Registry.Add(key, c)
	hub.Attach(c, resume)
	return c
}

func TestEngine_FirstTickWithoutResumePublishesNewestPage(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed(1, 10, 5)
	e, hub, m := newTestEngine(t, feed, 100, EngineConfig{})
	c := armedClient(hub, "c", nil)

	assert.False(t, e.Ready())
	require.NoError(t, e.Tick(context.Background()))

	assert.True(t, e.Ready())
	assert.Equal(t, []uint64{6, 7, 8, 9, 10}, idsOf(c.Drain(nil)))
	assert.Equal(t, []uint64{6, 7, 8, 9, 10}, idsOf(hub.History.Snapshot()))
	require.NotNil(t, e.cursor)
	assert.Equal(t, uint64(10), *e.cursor)
	assert.Len(t, feed.cursors(), 1, "no deepening without a previous id")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineTicks.WithLabelValues(tickOK)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.HistoryRecords))
}

func TestEngine_SecondTickBroadcastsOnlyNewRecords(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed(1, 10, 5)
	e, hub, _ := newTestEngine(t, feed, 100, EngineConfig{})
	c := armedClient(hub, "c", nil)

	require.NoError(t, e.Tick(context.Background()))
	c.Drain(nil)

	feed.extend(11, 12)
	require.NoError(t, e.Tick(context.Background()))

	assert.Equal(t, []uint64{11, 12}, idsOf(c.Drain(nil)))
	assert.Equal(t, uint64(12), *e.cursor)
}

func TestEngine_DeepeningClosesGapWithinThreeRounds(t *testing.T) {
	t.Parallel()

	// Pages of 1000 over ids 1..10000, last published 6005: the newest page
	// starts at 9001 and each deepening round moves back by 999.
	feed := newFakeFeed(1, 10000, 1000)
	e, hub, m := newTestEngine(t, feed, 100000, EngineConfig{ResumeID: ptr(6005)})
	c := armedClient(hub, "c", nil)

	require.NoError(t, e.Tick(context.Background()))

	calls := feed.cursors()
	require.LessOrEqual(t, len(calls)-1, 3, "extra fetches")
	require.Len(t, calls, 4)
	assert.Nil(t, calls[0])
	assert.Equal(t, uint64(9001), *calls[1])
	assert.Equal(t, uint64(8002), *calls[2])
	assert.Equal(t, uint64(7003), *calls[3])
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DeepenRounds))

	// The last page reaches 6004, so every id after 6005 is delivered.
	got := idsOf(c.Drain(nil))
	require.Len(t, got, 3995)
	assert.Equal(t, uint64(6006), got[0])
	assert.Equal(t, uint64(10000), got[len(got)-1])
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i], "ascending at %d", i)
	}
	assert.Equal(t, uint64(10000), *e.cursor)
}

func TestEngine_BurstLargerThanPageIsNotLost(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed(1, 1000, 1000)
	e, hub, m := newTestEngine(t, feed, 100000, EngineConfig{})
	c := armedClient(hub, "c", nil)

	require.NoError(t, e.Tick(context.Background()))
	require.Len(t, c.Drain(nil), 1000)

	// 1500 new ids between ticks: the newest page alone starts at 1501.
	feed.extend(1001, 2500)
	require.NoError(t, e.Tick(context.Background()))

	calls := feed.cursors()
	require.Len(t, calls, 3)
	assert.Equal(t, uint64(1501), *calls[2])

	got := idsOf(c.Drain(nil))
	require.Len(t, got, 1500)
	assert.Equal(t, uint64(1001), got[0])
	assert.Equal(t, uint64(2500), got[len(got)-1])
	assert.Equal(t, 2500.0, testutil.ToFloat64(m.RecordsBroadcast))
	assert.Equal(t, uint64(2500), *e.cursor)
}

func TestEngine_NoDeepeningWhenPageReachesCursor(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed(1, 1000, 1000)
	e, hub, m := newTestEngine(t, feed, 100000, EngineConfig{})
	c := armedClient(hub, "c", nil)

	require.NoError(t, e.Tick(context.Background()))
	c.Drain(nil)

	// 1000 new ids: the newest page starts at 1001, right after the cursor.
	feed.extend(1001, 2000)
	require.NoError(t, e.Tick(context.Background()))

	assert.Len(t, feed.cursors(), 2)
	assert.Len(t, c.Drain(nil), 1000)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DeepenRounds))
}

func TestEngine_DeepeningRespectsMaxRounds(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed(1, 10000, 1000)
	e, _, _ := newTestEngine(t, feed, 100000, EngineConfig{ResumeID: ptr(1), MaxDeepenRounds: 2})

	require.NoError(t, e.Tick(context.Background()))
	assert.Len(t, feed.cursors(), 3)
	assert.Equal(t, uint64(10000), *e.cursor)
}

func TestEngine_DeepeningStopsWithoutProgress(t *testing.T) {
	t.Parallel()

	// Nothing exists below 5000, so the last round returns only the cursor itself.
	feed := newFakeFeed(5000, 6999, 1000)
	e, _, _ := newTestEngine(t, feed, 100000, EngineConfig{ResumeID: ptr(1)})

	require.NoError(t, e.Tick(context.Background()))

	calls := feed.cursors()
	require.Len(t, calls, 4)
	assert.Equal(t, uint64(5000), *calls[3])
}

func TestEngine_CursorTooOldDuringDeepeningRetriesWithoutCursor(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed(1, 10000, 1000)
	feed.tooOld = func(_ int, cursor *uint64) bool { return cursor != nil }
	e, hub, m := newTestEngine(t, feed, 100000, EngineConfig{ResumeID: ptr(1)})
	c := armedClient(hub, "c", nil)

	require.NoError(t, e.Tick(context.Background()))

	calls := feed.cursors()
	require.Len(t, calls, 3)
	assert.Nil(t, calls[0])
	assert.NotNil(t, calls[1])
	assert.Nil(t, calls[2])

	assert.Len(t, c.Drain(nil), 1000)
	assert.Equal(t, uint64(10000), *e.cursor)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineTicks.WithLabelValues(tickOK)))
}

func TestEngine_CursorTooOldTwiceSkipsTick(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed(1, 10000, 1000)
	feed.tooOld = func(n int, _ *uint64) bool { return n > 1 }
	e, hub, m := newTestEngine(t, feed, 100000, EngineConfig{ResumeID: ptr(1)})
	c := armedClient(hub, "c", nil)

	require.NoError(t, e.Tick(context.Background()))

	assert.Len(t, feed.cursors(), 3)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 0, hub.History.Len())
	assert.Equal(t, uint64(1), *e.cursor, "cursor untouched by a skipped tick")
	assert.False(t, e.Ready())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineTicks.WithLabelValues(tickSkipped)))
}

func TestEngine_CursorTooOldLimitResetsCursor(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed(1, 10, 5)
	feed.tooOld = func(int, *uint64) bool { return true }
	e, _, _ := newTestEngine(t, feed, 100, EngineConfig{ResumeID: ptr(3), CursorTooOldLimit: 2})

	require.NoError(t, e.Tick(context.Background()))
	require.NotNil(t, e.cursor)
	assert.Equal(t, 1, e.skipped)

	require.NoError(t, e.Tick(context.Background()))
	assert.Nil(t, e.cursor)
	assert.Equal(t, 0, e.skipped)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed(1, 3, 5)
	e, hub, _ := newTestEngine(t, feed, 100, EngineConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return len(feed.cursors()) >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
	assert.Equal(t, 3, hub.History.Len())
}

func TestEngine_RunTicksOnInterval(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	feed := newFakeFeed(1, 3, 5)
	e, hub, _ := newTestEngine(t, feed, 100, EngineConfig{Interval: time.Minute, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return len(feed.cursors()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, e.Ready())

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	feed.extend(4, 6)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return len(feed.cursors()) == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return hub.History.Len() == 6 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestEngine_SubPollDelayUsesClock(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	feed := newFakeFeed(1, 30, 10)
	e, hub, m := newTestEngine(t, feed, 100, EngineConfig{
		ResumeID:     ptr(5),
		SubPollDelay: time.Second,
		Clock:        clock,
	})

	done := make(chan error, 1)
	go func() { done <- e.Tick(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Two deepening rounds (cursor 21, then 12), each behind one delay.
	for range 2 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatalf("Tick did not finish")
	}
	assert.Len(t, feed.cursors(), 3)
	assert.Equal(t, 25.0, testutil.ToFloat64(m.RecordsBroadcast), "ids 6..30")
	assert.Equal(t, 28, hub.History.Len(), "ids 3..30")
}
