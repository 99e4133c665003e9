// Package log provides structured, leveled logging for walletd.
//
// The package exposes a small Logger interface backed by zap. Loggers are
// immutable: WithName, WithKV and AddCallerSkip return derived loggers and
// never mutate the receiver, so a logger can be shared freely between
// goroutines. Output format (logfmt or JSON) and minimum level are chosen
// through Config.
package log

import "context"

// Level is the minimum severity a logger emits.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Config controls how a logger encodes and filters its output.
type Config struct {
	// Format selects the encoder: "logfmt" (default) or "json".
	Format string `env:"FORMAT" env-default:"logfmt"`
	// Level is the minimum level to emit. Unknown values fall back to info.
	Level Level `env:"LEVEL" env-default:"info"`
}

// Logger is a leveled, structured logger.
// keysAndValues are treated as alternating key-value pairs
// (e.g., "key1", value1, "key2", value2).
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// Fatal logs the message and terminates the process.
	Fatal(msg string, keysAndValues ...any)

	// Name returns the full dot-separated name of this logger.
	Name() string
	// WithName returns a logger whose name is extended with the given
	// component name ("parent.child").
	WithName(name string) Logger
	// WithKV returns a logger that includes the given key-value pair
	// in every entry it emits.
	WithKV(key string, value any) Logger
	// GetAllKV returns all key-value pairs accumulated through WithKV.
	GetAllKV() []any
	// AddCallerSkip returns a logger that skips an additional number of
	// stack frames when resolving caller information. Use it inside
	// logging wrappers so the caller column points at the real call site.
	AddCallerSkip(skip int) Logger

	// WithSpanEventRecorder returns a logger that mirrors every entry onto
	// the given span recorder and annotates entries with the trace context.
	WithSpanEventRecorder(ser SpanEventRecorder) Logger
}

// SpanEventRecorder receives log entries as tracing span events.
type SpanEventRecorder interface {
	TraceID() string
	SpanID() string
	RecordEvent(name string, keysAndValues ...any)
	RecordError(name string, keysAndValues ...any)
}

type loggerContextKey struct{}

// NewContext returns a context carrying the given logger.
func NewContext(ctx context.Context, lg Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// FromContext returns the logger attached to the context,
// or a noop logger if none is attached.
func FromContext(ctx context.Context) Logger {
	if lg, ok := ctx.Value(loggerContextKey{}).(Logger); ok {
		return lg
	}
	return NewNoopLogger()
}
