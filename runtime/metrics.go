package runtime

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/wasm-scripting/linker"
)

const metricsNamespace = "wasmscripting"

type metrics struct {
	loaded     *prometheus.CounterVec
	failed     *prometheus.CounterVec
	unresolved *prometheus.CounterVec
	contexts   prometheus.GaugeFunc
}

func newMetrics(h *Host) *metrics {
	return &metrics{
		loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scripts",
			Name:      "loaded_total",
			Help:      "Scripts loaded successfully.",
		}, []string{"resource"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scripts",
			Name:      "load_failures_total",
			Help:      "Script loads that failed.",
		}, []string{"resource"}),
		unresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scripts",
			Name:      "unresolved_calls_total",
			Help:      "Calls to imports that were not resolved at load time.",
		}, []string{"resource", "function"}),
		contexts: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "host",
			Name:      "contexts",
			Help:      "Live resource contexts.",
		}, func() float64 {
			return float64(len(h.contexts))
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.loaded, m.failed, m.unresolved, m.contexts}
}

// ScriptLoaded implements linker.Observer.
func (m *metrics) ScriptLoaded(s *linker.Script, state linker.LoadState) {
	resource := s.Context().Resource()
	if state == linker.LoadSucceed {
		m.loaded.WithLabelValues(resource).Inc()
		return
	}
	m.failed.WithLabelValues(resource).Inc()
}

// UnresolvedCall implements linker.Observer.
func (m *metrics) UnresolvedCall(s *linker.Script, name string) {
	m.unresolved.WithLabelValues(s.Context().Resource(), name).Inc()
}
