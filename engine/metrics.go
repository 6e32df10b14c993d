package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "wasmscripting"

// Collectors exposes the engine's accounting as Prometheus metrics.
func (e *Engine) Collectors() []prometheus.Collector {
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		}, f)
	}
	return []prometheus.Collector{
		gauge("memory_live_bytes", "Linear memory bytes currently reserved.", func() float64 {
			return float64(e.alloc.live.Load())
		}),
		gauge("memory_peak_bytes", "Highest number of linear memory bytes reserved at once.", func() float64 {
			return float64(e.alloc.peak.Load())
		}),
		gauge("memories", "Live linear memory instances.", func() float64 {
			return float64(e.alloc.memories.Load())
		}),
		gauge("stores", "Live stores bound to the engine.", func() float64 {
			return float64(e.LiveStores())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "memory_growth_rejected_total",
			Help:      "Memory growths refused because of the memory budget.",
		}, func() float64 {
			return float64(e.alloc.rejected.Load())
		}),
	}
}
