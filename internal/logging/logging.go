package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyRunID      = "runId"
	KeyComponent  = "component"
	KeyCommand    = "command"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

// Log targets accepted by Setup.
const (
	TargetJournal = "journal"
	TargetStderr  = "stderr"
	TargetFile    = "file"
)

type contextKey struct{}

// switchableHandler lets package-level loggers created before Init()
// dynamically pick up the configured handler once Init runs.
type switchableHandler struct {
	state  *switchableState
	attrs  []slog.Attr
	groups []string
}

type switchableState struct {
	current atomic.Value // stores slog.Handler
}

func newSwitchableHandler(h slog.Handler) *switchableHandler {
	state := &switchableState{}
	state.current.Store(h)
	return &switchableHandler{state: state}
}

func (h *switchableHandler) set(handler slog.Handler) {
	h.state.current.Store(handler)
}

func (h *switchableHandler) base() slog.Handler {
	return h.state.current.Load().(slog.Handler)
}

func (h *switchableHandler) materialize() slog.Handler {
	handler := h.base()
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.materialize().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.materialize().Handle(ctx, record)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	groups := make([]string, len(h.groups))
	copy(groups, h.groups)

	return &switchableHandler{
		state:  h.state,
		attrs:  merged,
		groups: groups,
	}
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	attrs := make([]slog.Attr, len(h.attrs))
	copy(attrs, h.attrs)

	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)

	return &switchableHandler{
		state:  h.state,
		attrs:  attrs,
		groups: groups,
	}
}

// stdout carries the task result, so nothing here may default to it.
var (
	rootHandler   = newSwitchableHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defaultLogger = slog.New(rootHandler)

	closerMu sync.Mutex
	closer   io.Closer
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init initializes the global logger with a writer-backed handler.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	install(newWriterHandler(format, level, output))
}

// Options selects where and how the process logs.
type Options struct {
	Format     string
	Level      string
	Target     string // journal, stderr or file
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Setup installs the handler described by opts. The journal target falls
// back to stderr when no journal socket is reachable. Call Close before the
// process exits.
func Setup(opts Options) error {
	switch strings.ToLower(strings.TrimSpace(opts.Target)) {
	case "", TargetJournal:
		if !journalAvailable() {
			Init(opts.Format, opts.Level, os.Stderr)
			L("logging").Debug("journal unavailable, logging to stderr")
			return nil
		}
		install(newJournalHandler(Identifier, parseLevel(opts.Level)))
	case TargetStderr:
		Init(opts.Format, opts.Level, os.Stderr)
	case TargetFile:
		if opts.File == "" {
			return fmt.Errorf("log target %q requires a log file path", TargetFile)
		}
		rw, err := NewRotatingWriter(opts.File, opts.MaxSizeMB, opts.MaxBackups)
		if err != nil {
			return err
		}
		install(newWriterHandler(opts.Format, opts.Level, rw))
		setCloser(rw)
	default:
		return fmt.Errorf("unknown log target %q", opts.Target)
	}
	return nil
}

// Close releases the active log target. Safe to call more than once.
func Close() error {
	closerMu.Lock()
	c := closer
	closer = nil
	closerMu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

func setCloser(c io.Closer) {
	closerMu.Lock()
	prev := closer
	closer = c
	closerMu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

func install(handler slog.Handler) {
	rootHandler.set(handler)
	defaultLogger = slog.New(rootHandler)
	slog.SetDefault(defaultLogger)
}

func newWriterHandler(format, level string, output io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(output, opts)
	}
	return slog.NewTextHandler(output, opts)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithRun returns a child logger carrying the run correlation id.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(slog.String(KeyRunID, runID))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
