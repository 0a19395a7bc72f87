package realtime

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// handshakeThrottle refuses upgrades from hosts that failed too many
// handshakes within a sliding window. Failures are kept in memory only.
type handshakeThrottle struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
}

// newHandshakeThrottle returns nil (no throttling) when limit or window is not positive.
func newHandshakeThrottle(limit int, window time.Duration) *handshakeThrottle {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &handshakeThrottle{
		limit:    limit,
		window:   window,
		failures: make(map[string][]time.Time),
	}
}

// check reports whether host is blocked at now and for how long.
func (t *handshakeThrottle) check(host string, now time.Time) (bool, time.Duration) {
	if t == nil {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.prune(host, now)
	return evaluateWindowThrottle(now, kept, t.limit, t.window)
}

func (t *handshakeThrottle) fail(host string, now time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.prune(host, now)
	t.failures[host] = append(kept, now)
}

// prune drops failures older than the window. Callers hold mu.
func (t *handshakeThrottle) prune(host string, now time.Time) []time.Time {
	cut := now.Add(-t.window)
	list := t.failures[host]

	i := 0
	for i < len(list) && !list[i].After(cut) {
		i++
	}
	list = list[i:]
	if len(list) == 0 {
		delete(t.failures, host)
		return nil
	}
	t.failures[host] = list
	return list
}

// evaluateWindowThrottle blocks once limit failures fall inside window. The
// retry delay is the time until the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}

	cut := now.Add(-window)
	var (
		count  int
		oldest time.Time
	)
	for _, f := range failures {
		if !f.After(cut) || f.After(now) {
			continue
		}
		count++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}

	if count < limit {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	http.Error(w, "too many failed handshakes", http.StatusTooManyRequests)
}
