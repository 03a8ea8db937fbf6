// Package observability provides structured logging and request trace context.
package observability

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Field names shared by every component so log queries line up across the
// API, the CLI and the backfill job.
const (
	FieldTraceID   = "trace_id"
	FieldOperation = "operation"
	FieldSource    = "source"
	FieldRunID     = "run_id"
	FieldStage     = "stage"
	FieldProduct   = "product"
	FieldLatency   = "latency"
)

// Logger wraps zerolog with fashion engine fields.
type Logger struct {
	zl zerolog.Logger
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level       string
	Format      string // json or console
	Output      io.Writer
	NoColor     bool
	ServiceName string
}

// NewLogger creates a Logger. The level applies to this logger and the
// loggers derived from it, not to zerolog globally.
func NewLogger(cfg LogConfig) *Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}

	service := cfg.ServiceName
	if service == "" {
		service = "fashion-engine"
	}

	zl := zerolog.New(output).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	return &Logger{zl: zl}
}

// DefaultLogger returns a console logger at debug level.
func DefaultLogger() *Logger {
	return NewLogger(LogConfig{Level: "debug", Format: "console"})
}

func (l *Logger) with(key, val string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, val).Logger()}
}

// WithContext tags the logger with the request trace id, if ctx carries one.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.with(FieldTraceID, traceID)
	}
	return l
}

// WithOperation tags the logger with the top-level operation
// (browse, match, backfill).
func (l *Logger) WithOperation(op string) *Logger {
	return l.with(FieldOperation, op)
}

// WithSource tags the logger with a retailer source table.
func (l *Logger) WithSource(source string) *Logger {
	return l.with(FieldSource, source)
}

// WithRun tags the logger with a backfill run id.
func (l *Logger) WithRun(runID string) *Logger {
	return l.with(FieldRunID, runID)
}

func (l *Logger) Debug() *LogEvent { return &LogEvent{evt: l.zl.Debug()} }
func (l *Logger) Info() *LogEvent { return &LogEvent{evt: l.zl.Info()} }
func (l *Logger) Warn() *LogEvent { return &LogEvent{evt: l.zl.Warn()} }
func (l *Logger) Error() *LogEvent { return &LogEvent{evt: l.zl.Error()} }

// Fatal logs and exits the process once the event is sent.
func (l *Logger) Fatal() *LogEvent { return &LogEvent{evt: l.zl.Fatal()} }

// LogEvent is a log entry being built.
type LogEvent struct {
	evt *zerolog.Event
}

func (e *LogEvent) Str(key, val string) *LogEvent {
	e.evt = e.evt.Str(key, val)
	return e
}

func (e *LogEvent) Strs(key string, val []string) *LogEvent {
	e.evt = e.evt.Strs(key, val)
	return e
}

func (e *LogEvent) Int(key string, val int) *LogEvent {
	e.evt = e.evt.Int(key, val)
	return e
}

func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	e.evt = e.evt.Dur(key, val)
	return e
}

func (e *LogEvent) Err(err error) *LogEvent {
	e.evt = e.evt.Err(err)
	return e
}

// Stage records the pipeline stage the event belongs to.
func (e *LogEvent) Stage(stage string) *LogEvent {
	return e.Str(FieldStage, stage)
}

// Product records the composite source:id key of a catalog product.
func (e *LogEvent) Product(key string) *LogEvent {
	return e.Str(FieldProduct, key)
}

// Latency records the time elapsed since start.
func (e *LogEvent) Latency(start time.Time) *LogEvent {
	return e.Dur(FieldLatency, time.Since(start))
}

// Msg sends the event.
func (e *LogEvent) Msg(msg string) {
	e.evt.Msg(msg)
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type contextKey string

const traceIDKey contextKey = "trace_id"

// ContextWithTraceID adds a trace ID to the context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext extracts a trace ID from the context.
func TraceIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(traceIDKey).(string); ok {
		return s
	}
	return ""
}
