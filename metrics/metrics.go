// Package metrics exposes Prometheus collectors for the client's connection
// lifecycle and inbound message pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scl_client"

// Metrics groups every collector the client updates. A nil *Metrics is
// valid and records nothing, so embedding code can opt out entirely.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionState        prometheus.Gauge
	TransitionsTotal       *prometheus.CounterVec
	AttemptsTotal          *prometheus.CounterVec
	MessagesDeliveredTotal prometheus.Counter
	DecodeFailuresTotal    prometheus.Counter
	ReassemblyInFlight     prometheus.Gauge
	SendsTotal             *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry
// alongside the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state as its numeric value (0=Initial ... 7=Static)",
		}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of connection state transitions",
		}, []string{"from", "to"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of connection attempts per endpoint",
		}, []string{"endpoint"}),
		MessagesDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of inbound messages delivered to the application",
		}),
		DecodeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Total number of inbound messages dropped because decoding failed",
		}),
		ReassemblyInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reassembly_in_flight",
			Help:      "Inbound messages received but not yet delivered",
		}),
		SendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Total number of outbound sends by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ConnectionState,
		m.TransitionsTotal,
		m.AttemptsTotal,
		m.MessagesDeliveredTotal,
		m.DecodeFailuresTotal,
		m.ReassemblyInFlight,
		m.SendsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry, e.g. for tests or custom exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Transition records a state change.
func (m *Metrics) Transition(from, to string, toValue int) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
	m.ConnectionState.Set(float64(toValue))
}

// Attempt records a connection attempt against endpoint.
func (m *Metrics) Attempt(endpoint string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(endpoint).Inc()
}

// Delivered records n messages handed to the application.
func (m *Metrics) Delivered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.MessagesDeliveredTotal.Add(float64(n))
}

// DecodeFailed records one dropped inbound message.
func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.DecodeFailuresTotal.Inc()
}

// InFlight sets the number of undelivered inbound messages.
func (m *Metrics) InFlight(n uint64) {
	if m == nil {
		return
	}
	m.ReassemblyInFlight.Set(float64(n))
}

// Send records the outcome of one outbound send: "ok", "not_connected", "encode_error" or "transport_error".
func (m *Metrics) Send(result string) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(result).Inc()
}
