package log

import (
	"fmt"
	"os"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Logger = (*ZapLogger)(nil)

// ZapLogger implements Logger on top of a zap.SugaredLogger.
type ZapLogger struct {
	lg   *zap.SugaredLogger
	name string
	kv   []any
	ser  SpanEventRecorder
}

// NewZapLogger creates a logger with the given configuration.
// When no WriteSyncer is provided, output goes to stdout.
func NewZapLogger(cfg Config, ws ...zapcore.WriteSyncer) *ZapLogger {
	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		encoder = zaplogfmt.NewEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if len(ws) > 0 && ws[0] != nil {
		sink = ws[0]
	}

	core := zapcore.NewCore(encoder, sink, zapLevel(cfg.Level))
	lg := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{lg: lg.Sugar()}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) {
	l.lg.Debugw(msg, l.withCommonKV(keysAndValues)...)
	l.recordEvent(msg, keysAndValues...)
}

func (l *ZapLogger) Info(msg string, keysAndValues ...any) {
	l.lg.Infow(msg, l.withCommonKV(keysAndValues)...)
	l.recordEvent(msg, keysAndValues...)
}

func (l *ZapLogger) Warn(msg string, keysAndValues ...any) {
	l.lg.Warnw(msg, l.withCommonKV(keysAndValues)...)
	l.recordEvent(msg, keysAndValues...)
}

func (l *ZapLogger) Error(msg string, keysAndValues ...any) {
	l.lg.Errorw(msg, l.withCommonKV(keysAndValues)...)
	if l.ser != nil {
		l.ser.RecordError(msg, l.withCommonKV(keysAndValues)...)
	}
}

func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) {
	if l.ser != nil {
		l.ser.RecordError(msg, l.withCommonKV(keysAndValues)...)
	}
	l.lg.Fatalw(msg, l.withCommonKV(keysAndValues)...)
}

// Name returns the full dot-separated logger name.
func (l *ZapLogger) Name() string { return l.name }

// WithName returns a derived logger named "<current>.<name>"
// (or just "<name>" for an unnamed root logger).
func (l *ZapLogger) WithName(name string) Logger {
	clone := l.clone()
	if clone.name == "" {
		clone.name = name
	} else {
		clone.name = fmt.Sprintf("%s.%s", clone.name, name)
	}
	clone.lg = clone.lg.Named(name)
	return clone
}

// WithKV returns a derived logger carrying an additional key-value pair.
func (l *ZapLogger) WithKV(key string, value any) Logger {
	clone := l.clone()
	clone.kv = append(clone.kv, key, value)
	return clone
}

// GetAllKV returns the key-value pairs accumulated through WithKV.
func (l *ZapLogger) GetAllKV() []any {
	kv := make([]any, len(l.kv))
	copy(kv, l.kv)
	return kv
}

// AddCallerSkip returns a derived logger that skips additional stack frames
// when resolving the caller column.
func (l *ZapLogger) AddCallerSkip(skip int) Logger {
	clone := l.clone()
	clone.lg = clone.lg.Desugar().WithOptions(zap.AddCallerSkip(skip)).Sugar()
	return clone
}

// WithSpanEventRecorder returns a derived logger that mirrors entries onto
// the span recorder and tags them with the trace and span IDs.
func (l *ZapLogger) WithSpanEventRecorder(ser SpanEventRecorder) Logger {
	clone := l.clone()
	clone.ser = ser
	clone.kv = append(clone.kv, "trace_id", ser.TraceID(), "span_id", ser.SpanID())
	return clone
}

func (l *ZapLogger) clone() *ZapLogger {
	kv := make([]any, len(l.kv))
	copy(kv, l.kv)
	return &ZapLogger{lg: l.lg, name: l.name, kv: kv, ser: l.ser}
}

// withCommonKV prepends the accumulated WithKV pairs to the per-call pairs.
func (l *ZapLogger) withCommonKV(keysAndValues []any) []any {
	if len(l.kv) == 0 {
		return keysAndValues
	}
	merged := make([]any, 0, len(l.kv)+len(keysAndValues))
	merged = append(merged, l.kv...)
	merged = append(merged, keysAndValues...)
	return merged
}

func (l *ZapLogger) recordEvent(msg string, keysAndValues ...any) {
	if l.ser != nil {
		l.ser.RecordEvent(msg, l.withCommonKV(keysAndValues)...)
	}
}
