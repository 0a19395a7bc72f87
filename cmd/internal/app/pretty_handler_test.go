package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_PlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.Warn("http.request",
		"method", "get",
		"path", "/ws",
		"status", 404,
		"duration_ms", int64(12),
		"result", "client_error",
		"remote", "10.0.0.1:5000",
	)

	got := buf.String()
	if strings.Contains(got, "\x1b[") {
		t.Fatalf("unexpected escape sequence in %q", got)
	}
	for _, want := range []string{
		"WRN http.request",
		"method=GET",
		"path=/ws",
		"status=404",
		"duration=12ms",
		"result=client_error",
		"remote=10.0.0.1:5000",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
	if !strings.HasSuffix(got, "\n") {
		t.Fatalf("output not newline terminated: %q", got)
	}
}

func TestPrettyHandler_ColoredOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("engine.tick_failed", "err", "boom")

	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected escape sequences in %q", buf.String())
	}
}

func TestPrettyHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).
		With("session_id", "01J0").
		WithGroup("ws")
	log.Info("ws.session_started", "mode", "resume", slog.Group("resume", "id", uint64(4242)))

	got := buf.String()
	for _, want := range []string{"session_id=01J0", "ws.mode=resume", "ws.resume.id=4242"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("dropped")
	log.Debug("dropped")

	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":          `""`,
		"plain":     "plain",
		"two words": `"two words"`,
		"k=v":       `"k=v"`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", in, got, want)
		}
	}
}
