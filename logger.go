package eventq

// Logger receives operational events from the Runner and Maintainer.
// Workers log concurrently, so implementations must be safe for
// parallel use. Args are alternating key/value pairs.
type Logger interface {
	// Debug logs chatter such as a maintenance lock being held elsewhere.
	Debug(msg string, args ...any)
	// Info logs sweep results and other normal progress.
	Info(msg string, args ...any)
	// Warn logs recoverable conditions, like a failed health sample.
	Warn(msg string, args ...any)
	// Error logs worker failures and panics.
	Error(msg string, args ...any)
}

// NopLogger drops all messages. It is the default when no logger is
// configured.
type NopLogger struct{}

// Debug implements Logger.
func (NopLogger) Debug(string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(string, ...any) {}

// Warn implements Logger.
func (NopLogger) Warn(string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(string, ...any) {}
