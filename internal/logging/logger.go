package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattn/go-isatty"

	"sysstats/internal/config"
)

const (
	ansiReset   = "\033[0m"
	ansiRed     = "\033[31m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiBlue    = "\033[34m"
	ansiMagenta = "\033[35m"
	ansiCyan    = "\033[36m"
	ansiGray    = "\033[90m"
)

var (
	levelPattern = regexp.MustCompile(`(?:^|\s)level=(DEBUG|INFO|WARN|ERROR)\b`)
	valuePattern = regexp.MustCompile(`=("(?:[^"\\]|\\.)*"|[^\s"]+)`)
	ipPattern    = regexp.MustCompile(`^\d{1,3}(?:\.\d{1,3}){3}(?::\d+)?$`)
	numPattern   = regexp.MustCompile(`^-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?(?:ns|µs|us|ms|s|m|h)?$`)
)

// stderrIsTerminal reports whether console output supports ANSI colors.
var stderrIsTerminal = func() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// New builds a slog logger that fans out to console and file sinks.
// Params: cfg validated log section.
// Returns: logger, close function for file sink, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var handlers []slog.Handler
	closeFn := func() {}

	if cfg.Console.Enabled {
		var out io.Writer = os.Stderr
		if cfg.Console.Format == "line" && stderrIsTerminal() {
			out = &colorLineWriter{dst: os.Stderr}
		}
		handler, err := newHandler(out, cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("file sink: create dir: %w", err)
		}
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("file sink: open %q: %w", cfg.File.Path, err)
		}
		handler, err := newHandler(file, cfg.File)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handlers = append(handlers, handler)
		closeFn = func() {
			_ = file.Close()
		}
	}

	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFn, nil
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(&fanoutHandler{handlers: handlers}), closeFn, nil
}

// newHandler creates one slog handler for sink settings.
// Params: out destination writer; sink level and format.
// Returns: handler or unsupported setting error.
func newHandler(out io.Writer, sink config.LogSinkConfig) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(sink.Format) {
	case "", "line":
		return slog.NewTextHandler(out, opts), nil
	case "json":
		return slog.NewJSONHandler(out, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

// parseLevel maps config level names to slog levels.
// Params: name level string.
// Returns: slog level or error.
func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", name)
	}
}

// fanoutHandler forwards records to every handler enabled for the level.
type fanoutHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any child accepts level.
func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards record to enabled children.
// Params: ctx log context; record log record.
// Returns: joined child errors.
func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs returns fanout over children with attrs.
func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithAttrs(attrs))
	}
	return &fanoutHandler{handlers: next}
}

// WithGroup returns fanout over children with group.
func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithGroup(name))
	}
	return &fanoutHandler{handlers: next}
}

// colorLineWriter colors slog text lines by level and highlights values.
// Params: dst terminal writer.
// Returns: io.Writer implementation.
type colorLineWriter struct {
	dst io.Writer
}

// Write colors one rendered log line.
// Lines without a known level are written unchanged.
// Params: payload rendered text record.
// Returns: consumed byte count and write error.
func (w *colorLineWriter) Write(payload []byte) (int, error) {
	line := string(payload)
	match := levelPattern.FindStringSubmatch(line)
	if match == nil {
		if _, err := io.WriteString(w.dst, line); err != nil {
			return 0, err
		}
		return len(payload), nil
	}

	base := levelColor(match[1])
	body, newline := strings.CutSuffix(line, "\n")

	colored := valuePattern.ReplaceAllStringFunc(body, func(pair string) string {
		value := pair[1:]
		token := tokenColor(value)
		if token == "" {
			return pair
		}
		return "=" + token + value + ansiReset + base
	})

	var builder strings.Builder
	builder.Grow(len(colored) + 16)
	builder.WriteString(base)
	builder.WriteString(colored)
	builder.WriteString(ansiReset)
	if newline {
		builder.WriteByte('\n')
	}

	if _, err := io.WriteString(w.dst, builder.String()); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// levelColor returns the base color for a level name.
func levelColor(level string) string {
	switch level {
	case "DEBUG":
		return ansiGray
	case "WARN":
		return ansiMagenta
	case "ERROR":
		return ansiRed
	default:
		return ansiBlue
	}
}

// tokenColor returns highlight color for one value token, or empty for none.
func tokenColor(value string) string {
	switch {
	case strings.HasPrefix(value, `"`):
		return ansiGreen
	case ipPattern.MatchString(value):
		return ansiCyan
	case numPattern.MatchString(value):
		return ansiYellow
	default:
		return ""
	}
}
