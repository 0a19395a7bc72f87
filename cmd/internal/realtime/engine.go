package realtime

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"scoresws/cmd/internal/upstream"
	"scoresws/cmd/scores"

	"github.com/jonboulle/clockwork"
)

const (
	defaultPollInterval      = 60 * time.Second
	defaultMaxDeepenRounds   = 50
	defaultCursorTooOldLimit = 5
)

// Fetcher loads one page of scores, retrying until it yields an outcome.
// *upstream.Client implements it.
type Fetcher interface {
	FetchRetry(ctx context.Context, cursor *uint64, into *scores.RecordSet) (upstream.Outcome, error)
}

// EngineConfig tunes the polling loop. Zero values take defaults.
type EngineConfig struct {
	Interval time.Duration

	// SubPollDelay separates the fetches of one tick. Zero means none.
	SubPollDelay time.Duration

	// MaxDeepenRounds bounds the older pages requested in one tick.
	MaxDeepenRounds int

	// CursorTooOldLimit is the number of consecutive skipped ticks after
	// which the cursor is dropped. Negative disables the reset.
	CursorTooOldLimit int

	// ResumeID seeds the cursor: records up to it count as already published.
	ResumeID *uint64

	// Clock drives the tick timer and sub-poll delays. Nil uses the real clock.
	Clock clockwork.Clock
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	if c.SubPollDelay < 0 {
		c.SubPollDelay = 0
	}
	if c.MaxDeepenRounds <= 0 {
		c.MaxDeepenRounds = defaultMaxDeepenRounds
	}
	if c.CursorTooOldLimit == 0 {
		c.CursorTooOldLimit = defaultCursorTooOldLimit
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// Engine polls upstream on a timer and publishes new records through the Hub.
//
// The cursor is the newest id already published. It is only touched by the
// goroutine running Run.
type Engine struct {
	log     *slog.Logger
	fetcher Fetcher
	hub     *Hub
	metrics *Metrics
	cfg     EngineConfig

	cursor  *uint64
	skipped int

	ready atomic.Bool
}

// NewEngine constructs an Engine publishing into hub.
func NewEngine(log *slog.Logger, f Fetcher, hub *Hub, m *Metrics, cfg EngineConfig) *Engine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		log:     log,
		fetcher: f,
		hub:     hub,
		metrics: m,
		cfg:     cfg,
	}
	if cfg.ResumeID != nil {
		id := *cfg.ResumeID
		e.cursor = &id
	}
	return e
}

// Ready reports whether at least one tick completed.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Run ticks immediately and then every Interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine.start",
		"interval", e.cfg.Interval,
		"max_deepen_rounds", e.cfg.MaxDeepenRounds,
		"resume_id", optionalID(e.cursor),
	)

	t := e.cfg.Clock.NewTicker(e.cfg.Interval)
	defer t.Stop()

	for {
		if err := e.Tick(ctx); err != nil {
			e.log.Info("engine.stop", "err", err)
			return err
		}

		select {
		case <-ctx.Done():
			e.log.Info("engine.stop", "err", ctx.Err())
			return ctx.Err()
		case <-t.Chan():
		}
	}
}

// Tick runs one polling round. Upstream failures are retried inside the
// fetcher; the only error returned is ctx's.
func (e *Engine) Tick(ctx context.Context) error {
	start := e.cfg.Clock.Now()
	prev := e.cursor
	batch := &scores.RecordSet{}

	outcome, err := e.fetcher.FetchRetry(ctx, nil, batch)
	if err != nil {
		e.metrics.tick(tickAborted)
		return err
	}
	if outcome == upstream.OutcomeCursorTooOld {
		e.log.Error("engine.cursor_too_old.unexpected", "detail", "rejected a request without cursor")
		e.skip()
		return nil
	}

	rounds, ok, err := e.deepen(ctx, prev, batch)
	if err != nil {
		e.metrics.tick(tickAborted)
		return err
	}
	if !ok {
		e.skip()
		return nil
	}

	published := e.hub.Publish(batch, prev)
	if newest, has := batch.Max(); has && (prev == nil || newest > *prev) {
		e.cursor = &newest
	}
	e.skipped = 0
	e.ready.Store(true)
	e.metrics.tick(tickOK)

	e.log.Info("engine.tick",
		"fetched", batch.Len(),
		"published", published,
		"deepen_rounds", rounds,
		"cursor_id", optionalID(e.cursor),
		"clients", e.hub.Registry.Len(),
		"took_ms", e.cfg.Clock.Since(start).Milliseconds(),
	)
	return nil
}

// deepen requests older pages until batch reaches the id right after prev,
// so no record newer than prev is left unfetched. It reports false when the
// tick must be skipped.
func (e *Engine) deepen(ctx context.Context, prev *uint64, batch *scores.RecordSet) (int, bool, error) {
	if prev == nil {
		return 0, true, nil
	}

	rounds := 0
	for rounds < e.cfg.MaxDeepenRounds {
		lo, has := batch.Min()
		if !has || lo <= *prev+1 {
			return rounds, true, nil
		}

		cursor := lo
		if err := e.sleep(ctx, e.cfg.SubPollDelay); err != nil {
			return rounds, false, err
		}

		rounds++
		e.metrics.deepened()
		e.log.Debug("engine.deepen", "round", rounds, "cursor_id", cursor, "gap", lo-*prev)

		outcome, err := e.fetcher.FetchRetry(ctx, &cursor, batch)
		if err != nil {
			return rounds, false, err
		}

		if outcome == upstream.OutcomeCursorTooOld {
			e.log.Warn("engine.deepen.cursor_too_old", "cursor_id", cursor, "round", rounds)
			if err := e.sleep(ctx, e.cfg.SubPollDelay); err != nil {
				return rounds, false, err
			}

			outcome, err = e.fetcher.FetchRetry(ctx, nil, batch)
			if err != nil {
				return rounds, false, err
			}
			if outcome == upstream.OutcomeCursorTooOld {
				e.log.Error("engine.deepen.cursor_too_old.retry", "round", rounds)
				return rounds, false, nil
			}
			return rounds, true, nil
		}

		if next, _ := batch.Min(); next >= lo {
			e.log.Warn("engine.deepen.stalled", "cursor_id", cursor, "round", rounds)
			return rounds, true, nil
		}
	}

	lo, _ := batch.Min()
	e.log.Warn("engine.deepen.limit", "rounds", rounds, "min_id", lo, "prev_id", *prev)
	return rounds, true, nil
}

func (e *Engine) skip() {
	e.metrics.tick(tickSkipped)
	e.skipped++

	if e.cfg.CursorTooOldLimit > 0 && e.skipped >= e.cfg.CursorTooOldLimit {
		e.log.Error("engine.cursor.reset", "skipped_ticks", e.skipped, "cursor_id", optionalID(e.cursor))
		e.cursor = nil
		e.skipped = 0
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := e.cfg.Clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

func optionalID(id *uint64) any {
	if id == nil {
		return nil
	}
	return *id
}
