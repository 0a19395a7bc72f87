package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"scoresws/cmd/scores"
	v1 "scoresws/shared/contracts/relay/v1"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	errDisconnectRequested = errors.New("disconnect requested")
	errSlowClient          = errors.New("client exceeded outbound backlog")
	errClientClosed        = errors.New("client closed")
	errHeartbeat           = errors.New("heartbeat failed")
	errInboundFlood        = errors.New("too many inbound frames")
	errPeerClosed          = errors.New("peer closed")
)

// GatewayConfig tunes WSGateway. Zero values take defaults.
type GatewayConfig struct {
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// MaxBacklog closes a client whose queue would exceed it. 0 is unbounded.
	MaxBacklog int

	// AllowedOrigins lists browser origins ("https://example.com") or host
	// patterns ("*.example.com") accepted cross-origin. "*" accepts any.
	AllowedOrigins []string

	InboundBurst  int
	InboundWindow time.Duration

	// HandshakeFailMax failed handshakes from one host within
	// HandshakeFailWindow get further upgrades refused with 429. 0 disables.
	HandshakeFailMax    int
	HandshakeFailWindow time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.MaxBacklog < 0 {
		c.MaxBacklog = 0
	}
	return c
}

// WSGateway is the WebSocket entrypoint of the relay.
//
// A session runs Handshaking -> Connected|Resuming -> Streaming ->
// Disconnecting -> Closed. The registry entry is removed on every exit path.
type WSGateway struct {
	log     *slog.Logger
	hub     *Hub
	metrics *Metrics
	cfg     GatewayConfig

	// Derived for websocket.Accept origin checks.
	originPatterns []string

	throttle *handshakeThrottle
}

// NewWSGateway constructs a gateway serving hub.
func NewWSGateway(log *slog.Logger, hub *Hub, m *Metrics, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &WSGateway{
		log:            log,
		hub:            hub,
		metrics:        m,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
		throttle:       newHandshakeThrottle(cfg.HandshakeFailMax, cfg.HandshakeFailWindow),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

type inbound struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// HandleWS upgrades an HTTP request and runs one relay session.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	host := remoteHost(r.RemoteAddr)
	if blocked, retry := g.throttle.check(host, time.Now()); blocked {
		g.log.Info("ws.reject.throttled", "remote", r.RemoteAddr, "retry_after", retry)
		writeRateLimited(w, retry)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err, "remote", r.RemoteAddr, "origin", r.Header.Get("Origin"))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	log := g.log.With("session_id", sessionID, "remote", r.RemoteAddr)

	client := NewClient(sessionID, r.RemoteAddr, g.cfg.MaxBacklog)
	g.hub.Registry.Add(client.Remote, client)
	g.metrics.connOpened()
	defer func() {
		g.hub.Registry.Remove(client.Remote, client)
		client.Close()
		g.metrics.connClosed()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The only reader of conn. The handshake timer lives outside conn.Read so
	// an expired handshake can still be answered with an error frame.
	incoming := make(chan inbound)
	go readFrames(ctx, conn, incoming)

	hs, rejectMsg, ok := g.awaitHandshake(ctx, incoming, log)
	g.metrics.session(hs.mode.String())
	if !ok {
		if ctx.Err() != nil {
			return
		}
		// Counted before the close handshake, which may wait on the peer.
		g.throttle.fail(host, time.Now())
		g.reject(ctx, conn, rejectMsg, log)
		return
	}

	replayed := g.hub.Attach(client, hs.resumeID())
	log.Info("ws.session.start",
		"mode", hs.mode.String(),
		"resume_id", optionalID(hs.resumeID()),
		"replayed", replayed,
	)

	err = g.stream(ctx, conn, client, incoming, log)
	switch {
	case errors.Is(err, errDisconnectRequested):
		g.disconnect(ctx, conn, client, log)
		return

	case errors.Is(err, errSlowClient):
		g.metrics.slowClient()
		log.Warn("ws.client.slow", "max_backlog", g.cfg.MaxBacklog)
		_ = conn.Close(websocket.StatusPolicyViolation, "too slow")

	case errors.Is(err, errInboundFlood):
		log.Info("ws.reject.flood")
		_ = conn.Close(websocket.StatusPolicyViolation, "too many frames")

	case errors.Is(err, errHeartbeat):
		_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")

	case errors.Is(err, errPeerClosed), errors.Is(err, context.Canceled):
		_ = conn.Close(websocket.StatusNormalClosure, "bye")

	default:
		log.Info("ws.stream.fail", "close_status", websocket.CloseStatus(err), "err", err)
		_ = conn.Close(websocket.StatusAbnormalClosure, "stream failed")
	}

	log.Info("ws.session.end", "reason", err)
}

// awaitHandshake waits for the first client frame. On failure it returns the
// error text to reject the session with.
func (g *WSGateway) awaitHandshake(ctx context.Context, incoming <-chan inbound, log *slog.Logger) (handshake, string, bool) {
	t := time.NewTimer(g.cfg.HandshakeTimeout)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return handshake{}, "", false

	case <-t.C:
		log.Info("ws.handshake.timeout", "timeout", g.cfg.HandshakeTimeout)
		return handshake{}, v1.ErrHandshakeRequired, false

	case f := <-incoming:
		if f.err != nil {
			log.Info("ws.handshake.read.fail", "close_status", websocket.CloseStatus(f.err), "err", f.err)
			return handshake{}, v1.ErrHandshakeRequired, false
		}

		hs, msg, ok := parseHandshake(f.typ, f.data)
		if !ok {
			log.Info("ws.handshake.invalid", "bytes", len(f.data))
			return handshake{}, msg, false
		}
		return hs, "", true
	}
}

// reject sends msg best-effort and closes the connection.
func (g *WSGateway) reject(ctx context.Context, conn *websocket.Conn, msg string, log *slog.Logger) {
	if err := writeText(ctx, conn, []byte(msg), g.cfg.WriteTimeout); err != nil {
		log.Debug("ws.reject.write.fail", "err", err)
	}
	_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
}

// stream relays the client's queue and watches for a disconnect request
// until one side ends. It returns the reason the session stopped.
func (g *WSGateway) stream(ctx context.Context, conn *websocket.Conn, client *Client, incoming <-chan inbound, log *slog.Logger) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error { return g.writeLoop(ctx, gctx, conn, client) })
	grp.Go(func() error { return g.watch(gctx, incoming, log) })
	grp.Go(func() error { return g.heartbeat(ctx, gctx, conn, log) })

	return grp.Wait()
}

// writeLoop writes queued records until stop is done or the client closes.
// Writes use ctx so that stopping never interrupts a frame halfway.
func (g *WSGateway) writeLoop(ctx, stop context.Context, conn *websocket.Conn, client *Client) error {
	var batch []scores.Record
	for {
		batch = client.Drain(batch[:0])
		for _, rec := range batch {
			if err := writeText(ctx, conn, rec.Raw, g.cfg.WriteTimeout); err != nil {
				return fmt.Errorf("write record %d: %w", rec.ID, err)
			}
		}
		if len(batch) > 0 {
			clear(batch)
			continue
		}

		select {
		case <-stop.Done():
			return stop.Err()
		case <-client.Done():
			if client.Overflowed() {
				return errSlowClient
			}
			return errClientClosed
		case <-client.Ready():
		}
	}
}

func (g *WSGateway) watch(ctx context.Context, incoming <-chan inbound, log *slog.Logger) error {
	limiter := newInboundLimiter(g.cfg.InboundBurst, g.cfg.InboundWindow)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f := <-incoming:
			if f.err != nil {
				switch classifyReadErr(f.err) {
				case readErrClose, readErrConnClosed:
					return errPeerClosed
				case readErrCtxDone:
					return context.Canceled
				default:
					return fmt.Errorf("read: %w", f.err)
				}
			}

			if !limiter.Allow() {
				return errInboundFlood
			}
			if string(f.data) == v1.Disconnect {
				return errDisconnectRequested
			}
			log.Debug("ws.frame.ignored", "bytes", len(f.data))
		}
	}
}

func (g *WSGateway) heartbeat(ctx, stop context.Context, conn *websocket.Conn, log *slog.Logger) error {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-stop.Done():
			return stop.Err()
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= maxPingFailures {
					return errHeartbeat
				}
				continue
			}
			failures = 0
		}
	}
}

// disconnect flushes what is still queued, replies with the newest retained
// id and closes. The client holds every record up to that id afterwards.
func (g *WSGateway) disconnect(ctx context.Context, conn *websocket.Conn, client *Client, log *slog.Logger) {
	newest := g.hub.Detach(client)

	pending := client.Drain(nil)
	for _, rec := range pending {
		if err := writeText(ctx, conn, rec.Raw, g.cfg.WriteTimeout); err != nil {
			log.Info("ws.disconnect.flush.fail", "pending", len(pending), "err", err)
			break
		}
	}

	if err := writeText(ctx, conn, []byte(v1.FormatResumeID(newest)), g.cfg.WriteTimeout); err != nil {
		log.Info("ws.disconnect.reply.fail", "newest_id", newest, "err", err)
	}
	log.Info("ws.session.disconnect", "newest_id", newest, "flushed", len(pending))

	_ = conn.Close(websocket.StatusNormalClosure, "disconnect")
}

func readFrames(ctx context.Context, conn *websocket.Conn, out chan<- inbound) {
	for {
		typ, data, err := conn.Read(ctx)
		select {
		case out <- inbound{typ: typ, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func writeText(parent context.Context, conn *websocket.Conn, b []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns allowed origins into websocket.Accept host
// patterns. Same-host requests and clients sending no Origin are always accepted.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
