// Package logging holds the zerolog helpers shared by every component:
// logger construction from configuration, component sub-loggers, and the
// per-invocation trace id carried in the context.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config describes how a logger writes.
type Config struct {
	Level  string
	Format string
	// File, when set, receives the log stream instead of stderr.
	File string
}

// LogPathResult is the logger built by NewLoggerWithPath plus where it writes.
type LogPathResult struct {
	Logger       zerolog.Logger
	UsingFile    bool
	FilePath     string
	FallbackUsed bool
	// FallbackReason explains why a configured file could not be used.
	FallbackReason string

	file *os.File
}

// Close closes the log file, if any.
func (r *LogPathResult) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// NewLoggerWithPath builds a logger from cfg. When the configured file cannot be
// opened the logger falls back to stderr and the reason is reported in the result.
func NewLoggerWithPath(cfg Config) LogPathResult {
	var result LogPathResult
	var out io.Writer = os.Stderr

	if cfg.File != "" {
		f, err := openLogFile(cfg.File)
		if err != nil {
			result.FallbackUsed = true
			result.FallbackReason = err.Error()
		} else {
			out = f
			result.file = f
			result.UsingFile = true
			result.FilePath = cfg.File
		}
	}

	result.Logger = New(out, cfg.Level, cfg.Format)
	return result
}

// New builds a timestamped logger on out. Unknown levels fall back to info.
func New(out io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}

// ComponentLogger returns base tagged with a component name.
func ComponentLogger(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// FromContext returns the logger stored in ctx, or a disabled logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

type traceIDKey struct{}

// NewTraceID returns a new lexically sortable trace id.
func NewTraceID() string {
	return ulid.Make().String()
}

// ContextWithTraceID stores traceID in ctx.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace id stored in ctx, if any.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDKey{}).(string)
	return id, ok && id != ""
}

// GetOrGenerateTraceID returns the trace id in ctx or a new one.
func GetOrGenerateTraceID(ctx context.Context) string {
	if id, ok := TraceIDFromContext(ctx); ok {
		return id
	}
	return NewTraceID()
}

// PrintLogPathMessage tells the user where logs are written.
func PrintLogPathMessage(w io.Writer, path string) {
	_, _ = fmt.Fprintf(w, "Logging to %s\n", path)
}

// PrintFallbackWarning tells the user the log file could not be used.
func PrintFallbackWarning(w io.Writer, reason string) {
	_, _ = fmt.Fprintf(w, "Warning: could not open log file, logging to stderr: %s\n", reason)
}
