package nemocache

// Fields carries structured key/value pairs alongside a log message. An
// error value is conventionally stored under "err".
type Fields map[string]any

// Logger is the leveled logger the cache writes through. Adapters for zap,
// logrus and log/slog live under log/. A nil Options.Logger discards output.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

// NopLogger discards everything.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}
