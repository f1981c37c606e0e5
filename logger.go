package httpman

// Logger is the structured logging interface used throughout the package.
// It takes variadic key-value pairs so implementations can be backed by
// slog, zap, logrus or any similar structured logger.
//
// Example implementation using log/slog:
//
//	type SlogLogger struct {
//	    logger *slog.Logger
//	}
//
//	func (l *SlogLogger) Info(msg string, args ...any) {
//	    l.logger.Info(msg, args...)
//	}
type Logger interface {
	// Info logs normal operational events (server created, certificate attached).
	Info(msg string, args ...any)

	// Error logs failures that abort the current operation (bind failure,
	// variant conflict, certificate errors).
	Error(msg string, args ...any)

	// Warn logs soft mismatches and other unusual-but-tolerated conditions.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostic information.
	Debug(msg string, args ...any)
}
