package app

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
)

// Options are the command line overrides of the serve command.
type Options struct {
	ConfigPath string
	LogLevel   string
}

// Run is the CLI entrypoint used by cmd/scoresws.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(ctx context.Context, opts Options) error {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if lvl := strings.TrimSpace(opts.LogLevel); lvl != "" {
		cfg.Setup.Log = lvl
	}

	log := NewLogger(cfg.Setup.Log, cfg.Setup.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
