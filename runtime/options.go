package runtime

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a Host.
type Option func(*Host)

// WithLogger installs l as the logger of the host, engine and linker.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// WithRegisterer registers host and engine metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Host) {
		h.registerer = reg
	}
}

// WithOutput sets where guest stdout and stderr go.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(h *Host) {
		h.stdout = stdout
		h.stderr = stderr
	}
}
