package log

var _ Logger = (*NoopLogger)(nil)

// NoopLogger discards everything. It is the logger returned by FromContext
// when no logger is attached, and a convenient default in tests.
type NoopLogger struct {
	name string
	kv   []any
}

// NewNoopLogger returns a logger that discards all entries.
func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (l *NoopLogger) Debug(string, ...any) {}
func (l *NoopLogger) Info(string, ...any)  {}
func (l *NoopLogger) Warn(string, ...any)  {}
func (l *NoopLogger) Error(string, ...any) {}
func (l *NoopLogger) Fatal(string, ...any) {}

func (l *NoopLogger) Name() string { return l.name }

func (l *NoopLogger) WithName(name string) Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return &NoopLogger{name: full, kv: l.kv}
}

func (l *NoopLogger) WithKV(key string, value any) Logger {
	kv := make([]any, len(l.kv), len(l.kv)+2)
	copy(kv, l.kv)
	return &NoopLogger{name: l.name, kv: append(kv, key, value)}
}

func (l *NoopLogger) GetAllKV() []any {
	kv := make([]any, len(l.kv))
	copy(kv, l.kv)
	return kv
}

func (l *NoopLogger) AddCallerSkip(int) Logger { return l }

func (l *NoopLogger) WithSpanEventRecorder(SpanEventRecorder) Logger { return l }
