package sessionkit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder increments counters for auth events.
type MetricsRecorder interface {
	Increment(event string)
}

// NopMetrics discards all events.
type NopMetrics struct{}

// Increment does nothing.
func (NopMetrics) Increment(event string) {}

// PrometheusMetrics implements MetricsRecorder over a Prometheus counter
// vector labeled by event name.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics registers the auth event counter on the registerer.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rooftop_auth_events_total",
		Help: "Count of authentication events by outcome.",
	}, []string{"event"})
	registerer.MustRegister(events)
	return &PrometheusMetrics{events: events}
}

// Increment increases the counter for the given event.
func (metrics *PrometheusMetrics) Increment(event string) {
	metrics.events.WithLabelValues(event).Inc()
}

// CounterMetrics implements MetricsRecorder with in-memory counts,
// used by tests.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}
