package upstream

import (
	"context"
	"errors"
	"time"

	"scoresws/cmd/scores"
)

// Backoff yields exponentially growing delays: Initial, 2*Initial, ... capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	cur time.Duration
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.cur <= 0 {
		b.cur = b.Initial
		return b.cur
	}
	b.cur = min(b.cur*2, b.Max)
	return b.cur
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() { b.cur = 0 }

// FetchRetry calls Fetch until it yields an Outcome.
//
// Every attempt gets its own FetchTimeout. Any failure (transport, timeout,
// rejected credentials, rate limiting, malformed payload, unexpected status)
// is logged and retried after an exponential backoff. Only cancellation of
// ctx ends the loop with an error. Records of failed attempts never reach into.
func (c *Client) FetchRetry(ctx context.Context, cursor *uint64, into *scores.RecordSet) (Outcome, error) {
	backoff := Backoff{Initial: c.cfg.BackoffInitial, Max: c.cfg.BackoffMax}

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		outcome, err := c.Fetch(attemptCtx, cursor, into)
		cancel()

		if err == nil {
			return outcome, nil
		}
		if ctx.Err() != nil {
			return OutcomeOK, ctx.Err()
		}

		wait := backoff.Next()
		c.metrics.retried()

		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Error("upstream.fetch.timeout", "attempt", attempt, "timeout", c.cfg.FetchTimeout, "retry_in", wait)
		} else {
			c.log.Error("upstream.fetch.fail", "attempt", attempt, "err", err, "retry_in", wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return OutcomeOK, ctx.Err()
		case <-t.C:
		}
	}
}
