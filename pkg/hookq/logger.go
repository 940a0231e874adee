package hookq

// Field is one structured key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the minimal logging contract the pipeline components write to.
// Every collaborator (router, workers, supervisor) takes a Logger rather
// than a concrete implementation; binaries pick the sink.
// Implementations must be safe for concurrent use.
type Logger interface {
	// Debug logs fine-grained pipeline activity: enqueues, evaluations,
	// per-job chatter.
	Debug(msg string, fields ...Field)

	// Info logs lifecycle events and job outcomes.
	Info(msg string, fields ...Field)

	// Warn logs degraded but recoverable conditions (missing optional
	// config, failed heartbeat pings, skipped emails).
	Warn(msg string, fields ...Field)

	// Error logs failures that need operator attention.
	Error(msg string, fields ...Field)
}

// NoopLogger discards everything. It is the default wherever a Logger is
// an optional collaborator.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
