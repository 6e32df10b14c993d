package linker

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the linker package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the linker package's logger.
// This must be called before any scripts are loaded.
func SetLogger(l *zap.Logger) {
	logger = l
}

// scriptFields attributes a log entry to a script's resource and file.
func scriptFields(s *Script) []zap.Field {
	if s == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 4)
	if s.context != nil {
		fields = append(fields, zap.String("resource", s.context.resource))
	}
	return append(fields, zap.String("file", s.fileName), zap.Uint64("script", s.id))
}
