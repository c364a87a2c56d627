// Package metrics holds the Prometheus collectors of the server.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors.
type Metrics struct {
	counterRetries     *prometheus.CounterVec
	counterExhausted   *prometheus.CounterVec
	pinLimitRejections prometheus.Counter
	eventsPublished    *prometheus.CounterVec
	realtimeClients    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		counterRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "counter_retries_total",
			Help:      "Retried attempts of read-modify-write counter updates.",
		}, []string{"operation"}),
		counterExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "counter_retries_exhausted_total",
			Help:      "Counter updates that failed after the last attempt.",
		}, []string{"operation"}),
		pinLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "pin_limit_rejections_total",
			Help:      "Pin requests rejected because the context was full.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "realtime_events_sent_total",
			Help:      "Document events written to realtime clients.",
		}, []string{"kind"}),
		realtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "threadline",
			Name:      "realtime_clients",
			Help:      "Connected realtime clients.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.counterRetries,
		m.counterExhausted,
		m.pinLimitRejections,
		m.eventsPublished,
		m.realtimeClients,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) CounterRetry(operation string) {
	if m == nil {
		return
	}
	m.counterRetries.WithLabelValues(operation).Inc()
}

func (m *Metrics) CounterExhausted(operation string) {
	if m == nil {
		return
	}
	m.counterExhausted.WithLabelValues(operation).Inc()
}

func (m *Metrics) PinLimitRejected() {
	if m == nil {
		return
	}
	m.pinLimitRejections.Inc()
}

func (m *Metrics) EventSent(kind string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(kind).Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.realtimeClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.realtimeClients.Dec()
}
