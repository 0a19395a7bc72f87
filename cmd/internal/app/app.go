// Package app wires the relay runtime: config, logging, the upstream client,
// the polling engine and the HTTP/WebSocket server.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"scoresws/cmd/internal/realtime"
	"scoresws/cmd/internal/upstream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Version is stamped at build time with -ldflags "-X scoresws/cmd/internal/app.Version=...".
var Version = "dev"

// App is the relay runtime: it owns the poller, the hub and the HTTP server.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry

	upstream *upstream.Client
	hub      *realtime.Hub
	engine   *realtime.Engine
	ws       *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.Setup.Log, cfg.Setup.LogFormat)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client, err := upstream.NewClient(upstream.Config{
		TokenURL:          cfg.Osu.TokenURL,
		ScoresURL:         cfg.Osu.ScoresURL,
		ClientID:          cfg.Osu.ClientID,
		ClientSecret:      cfg.Osu.ClientSecret,
		Ruleset:           cfg.Osu.Ruleset,
		UserAgent:         "scoresws/" + Version,
		RequestsPerSecond: cfg.Osu.RequestsPerSecond,
		FetchTimeout:      cfg.Osu.FetchTimeout,
		BackoffInitial:    cfg.Osu.BackoffInitial,
		BackoffMax:        cfg.Osu.BackoffMax,
	}, log.With("component", "upstream"), nil, upstream.NewMetrics(reg))
	if err != nil {
		return nil, err
	}

	rm := realtime.NewMetrics(reg)
	hub := realtime.NewHub(log.With("component", "hub"), cfg.Setup.HistoryLength, rm)

	engine := realtime.NewEngine(log.With("component", "engine"), client, hub, rm, realtime.EngineConfig{
		Interval:          cfg.PollInterval(),
		SubPollDelay:      cfg.Engine.SubPollDelay,
		MaxDeepenRounds:   cfg.Engine.MaxDeepenRounds,
		CursorTooOldLimit: cfg.Engine.CursorTooOldLimit,
		ResumeID:          cfg.Setup.ResumeScoreID,
	})

	ws := realtime.NewWSGateway(log.With("component", "ws"), hub, rm, realtime.GatewayConfig{
		HandshakeTimeout:  cfg.WS.HandshakeTimeout,
		WriteTimeout:      cfg.WS.WriteTimeout,
		HeartbeatInterval: cfg.WS.HeartbeatInterval,
		HeartbeatTimeout:  cfg.WS.HeartbeatTimeout,
		MaxBacklog:        cfg.WS.MaxBacklog,
		AllowedOrigins:    cfg.WS.AllowedOrigins,

		HandshakeFailMax:    cfg.WS.HandshakeFailMax,
		HandshakeFailWindow: cfg.WS.HandshakeFailWindow,
	})

	return &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		upstream: client,
		hub:      hub,
		engine:   engine,
		ws:       ws,
	}, nil
}

// Handler returns the HTTP handler serving every route of the relay.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	metrics := promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
	registerHTTP(mux, a.log, a.ws, a.engine.Ready, metrics)
	return WithRequestLogging(mux, a.log)
}

// Run binds the listener, starts the poller and serves until ctx is done or
// either of them fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		a.log.Error("server.listen.fail", "addr", a.cfg.Addr(), "err", err)
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It closes ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.HTTP.ReadHeaderTimeout, 5*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.HTTP.MaxHeaderBytes, 1<<20),
		// Upgraded sessions inherit this context and end with the group.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"version", Version,
		"interval_s", a.cfg.Setup.Interval,
		"history_length", a.cfg.Setup.HistoryLength,
		"ruleset", a.cfg.Osu.Ruleset,
	)

	g.Go(func() error {
		return a.engine.Run(gctx)
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.HTTP.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.log.Info("server.stopped", "clients", a.hub.Registry.Len(), "history", a.hub.History.Len())
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
