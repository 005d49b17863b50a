package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics carries the gateway's Prometheus instrumentation. A private
// registry keeps tests and embedded uses from colliding with the
// default registry.
type metrics struct {
	registry     *prometheus.Registry
	listTotal    prometheus.Counter
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		listTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metatool",
			Subsystem: "gateway",
			Name:      "list_requests_total",
			Help:      "Number of list_tools requests served.",
		}),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metatool",
			Subsystem: "gateway",
			Name:      "tool_calls_total",
			Help:      "Number of call_tool requests by tool and outcome.",
		}, []string{"tool", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metatool",
			Subsystem: "gateway",
			Name:      "tool_call_duration_seconds",
			Help:      "Wall-clock duration of call_tool requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	m.registry.MustRegister(m.listTotal, m.callsTotal, m.callDuration)
	return m
}

// Registry exposes the private metric registry for exposition.
func (m *metrics) Registry() *prometheus.Registry { return m.registry }

func (m *metrics) observeCall(toolName string, success bool, seconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.callsTotal.WithLabelValues(toolName, outcome).Inc()
	m.callDuration.WithLabelValues(toolName).Observe(seconds)
}
