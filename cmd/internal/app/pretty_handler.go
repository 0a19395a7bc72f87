package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// palette holds the colors of one handler. Each color is forced on or off so
// the handler does not depend on the global color.NoColor switch.
type palette struct {
	dim, bold                            *color.Color
	red, yellow, green, blue, magenta    *color.Color
	cyan, hiRed, hiYellow, hiGreen, gray *color.Color
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}

	return palette{
		dim:      mk(color.Faint),
		bold:     mk(color.Bold),
		red:      mk(color.FgRed),
		yellow:   mk(color.FgYellow),
		green:    mk(color.FgGreen),
		blue:     mk(color.FgBlue),
		magenta:  mk(color.FgMagenta),
		cyan:     mk(color.FgCyan),
		hiRed:    mk(color.FgHiRed, color.Bold),
		hiYellow: mk(color.FgHiYellow),
		hiGreen:  mk(color.FgHiGreen),
		gray:     mk(color.FgHiBlack),
	}
}

type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	p      palette
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, colored bool) slog.Handler {
	h := &prettyHandler{
		w:  w,
		p:  newPalette(colored),
		mu: &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(h.p.dim.Sprint(ts.Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(h.levelTag(r.Level))
	b.WriteByte(' ')
	b.WriteString(h.p.bold.Sprint(r.Message))

	for _, a := range h.attrs {
		h.appendAttr(&b, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, "")
		return true
	})

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			b.WriteByte(' ')
			b.WriteString(h.p.gray.Sprintf("(%s:%d)", filepath.Base(frame.File), frame.Line))
		}
	}

	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, parent string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return
	}

	fullKey := key
	if parent != "" {
		fullKey = parent + "." + key
	}
	if len(h.groups) > 0 && parent == "" {
		fullKey = strings.Join(h.groups, ".") + "." + fullKey
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, ga, fullKey)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(h.p.gray.Sprint(remapPrettyKey(fullKey) + "="))
	b.WriteString(h.prettyValue(key, a.Value))
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return h.p.bold.Sprint(strings.ToUpper(strings.TrimSpace(v.String())))
	case "path":
		return h.p.cyan.Sprint(strings.TrimSpace(v.String()))
	case "status":
		if n, ok := valueToInt64(v); ok {
			return h.colorizeStatus(int(n))
		}
	case "duration_ms", "took_ms":
		if n, ok := valueToInt64(v); ok {
			return h.colorizeDurationMS(n)
		}
	case "result":
		return h.colorizeResult(strings.ToLower(strings.TrimSpace(v.String())))
	case "err":
		return h.p.red.Sprint(quoteIfNeeded(valueToString(v)))
	}

	return quoteIfNeeded(valueToString(v))
}

func remapPrettyKey(k string) string {
	switch k {
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.p.hiRed.Sprint("ERR")
	case level >= slog.LevelWarn:
		return h.p.yellow.Sprint("WRN")
	case level < slog.LevelInfo:
		return h.p.magenta.Sprint("DBG")
	default:
		return h.p.blue.Sprint("INF")
	}
}

func (h *prettyHandler) colorizeStatus(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return h.p.hiRed.Sprint(s)
	case code >= 400:
		return h.p.hiYellow.Sprint(s)
	case code >= 300:
		return h.p.cyan.Sprint(s)
	case code >= 100:
		return h.p.hiGreen.Sprint(s)
	default:
		return s
	}
}

func (h *prettyHandler) colorizeDurationMS(ms int64) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return h.p.red.Sprint(s)
	case ms >= 250:
		return h.p.yellow.Sprint(s)
	default:
		return h.p.green.Sprint(s)
	}
}

func (h *prettyHandler) colorizeResult(result string) string {
	switch result {
	case "success", "ok":
		return h.p.green.Sprint(result)
	case "redirect":
		return h.p.cyan.Sprint(result)
	case "client_error", "skipped":
		return h.p.yellow.Sprint(result)
	case "server_error", "aborted":
		return h.p.red.Sprint(result)
	default:
		return quoteIfNeeded(result)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
