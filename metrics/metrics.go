// Package metrics exposes Prometheus collectors for duplex-rpc connections.
//
// A nil *Collector is valid and records nothing, so components take one as an optional dependency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "duplexrpc"

// Outcome labels for outbound calls.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTransport = "transport"
	OutcomeAbandoned = "abandoned"
)

// Collector is a prometheus.Collector for the dispatch core.
type Collector struct {
	callsTotal       *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	inboundTotal     *prometheus.CounterVec
	inboundDuration  *prometheus.HistogramVec
	pendingCalls     prometheus.Gauge
	activeSessions   prometheus.Gauge
	connectionCount  prometheus.Gauge
	transportErrors  *prometheus.CounterVec
	unknownResponses prometheus.Counter
	heartbeats       prometheus.Counter
}

// NewCollector returns a new Collector. Register it with a prometheus.Registerer to export it.
func NewCollector() *Collector {
	return &Collector{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "calls_total",
				Help:      "Outbound calls by protocol, method and outcome.",
			}, []string{"protocol", "method", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "call_duration_seconds",
				Help:      "Time from sending an outbound call to its resolution.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			}, []string{"protocol", "method"},
		),
		inboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "inbound_calls_total",
				Help:      "Inbound calls handled, by protocol, method and status code.",
			}, []string{"protocol", "method", "code"},
		),
		inboundDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "inbound_duration_seconds",
				Help:      "Time spent in inbound handlers.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			}, []string{"protocol", "method"},
		),
		pendingCalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "pending_calls",
				Help:      "Outbound calls waiting for a response.",
			},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_sessions",
				Help:      "Sessions started by a session-starting call that has not resolved yet.",
			},
		),
		connectionCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "connection_count",
				Help:      "Open connections.",
			},
		),
		transportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transport_errors_total",
				Help:      "Connections torn down by a transport failure, by operation.",
			}, []string{"op"},
		),
		unknownResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "unknown_responses_total",
				Help:      "Responses whose call id matched no outstanding or abandoned call.",
			},
		),
		heartbeats: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "heartbeats_received_total",
				Help:      "Heartbeat frames received.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.callsTotal.Describe(ch)
	c.callDuration.Describe(ch)
	c.inboundTotal.Describe(ch)
	c.inboundDuration.Describe(ch)
	c.pendingCalls.Describe(ch)
	c.activeSessions.Describe(ch)
	c.connectionCount.Describe(ch)
	c.transportErrors.Describe(ch)
	c.unknownResponses.Describe(ch)
	c.heartbeats.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.callsTotal.Collect(ch)
	c.callDuration.Collect(ch)
	c.inboundTotal.Collect(ch)
	c.inboundDuration.Collect(ch)
	c.pendingCalls.Collect(ch)
	c.activeSessions.Collect(ch)
	c.connectionCount.Collect(ch)
	c.transportErrors.Collect(ch)
	c.unknownResponses.Collect(ch)
	c.heartbeats.Collect(ch)
}

func (c *Collector) CallStarted() {
	if c == nil {
		return
	}
	c.pendingCalls.Inc()
}

func (c *Collector) CallFinished(protocol, method, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.pendingCalls.Dec()
	c.callsTotal.WithLabelValues(protocol, method, outcome).Inc()
	c.callDuration.WithLabelValues(protocol, method).Observe(elapsed.Seconds())
}

func (c *Collector) InboundHandled(protocol, method string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.inboundTotal.WithLabelValues(protocol, method, strconv.Itoa(code)).Inc()
	c.inboundDuration.WithLabelValues(protocol, method).Observe(elapsed.Seconds())
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionCount.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionCount.Dec()
}

func (c *Collector) TransportError(op string) {
	if c == nil {
		return
	}
	c.transportErrors.WithLabelValues(op).Inc()
}

func (c *Collector) UnknownResponse() {
	if c == nil {
		return
	}
	c.unknownResponses.Inc()
}

func (c *Collector) HeartbeatReceived() {
	if c == nil {
		return
	}
	c.heartbeats.Inc()
}
