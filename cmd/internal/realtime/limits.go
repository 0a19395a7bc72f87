package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	// Client frames are "connect", a decimal id or "disconnect".
	maxFrameBytes = 1 << 10

	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 5 * time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Inbound frames per window before a session is closed.
	inboundFrameBurst  = 20
	inboundFrameWindow = 10 * time.Second
)

// newInboundLimiter allows burst frames per window, refilled evenly.
func newInboundLimiter(burst int, window time.Duration) *rate.Limiter {
	if burst <= 0 {
		burst = inboundFrameBurst
	}
	if window <= 0 {
		window = inboundFrameWindow
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(burst)), burst)
}
