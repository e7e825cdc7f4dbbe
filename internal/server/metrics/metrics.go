// Package metrics holds the Prometheus instruments of the server. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "deglet"

// Auth outcomes.
const (
	AuthOK             = "ok"
	AuthInvalidMessage = "invalid_message"
	AuthBadSignature   = "bad_signature"
	AuthUnknownKey     = "unknown_key"
	AuthReplay         = "replay"
	AuthError          = "error"
)

type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authOutcomes    *prometheus.CounterVec
	cosignerCalls   *prometheus.CounterVec
	cosignerLatency *prometheus.HistogramVec
	dbUp            prometheus.Gauge
}

// NewMetrics registers all instruments with reg, or with the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served by route and status code",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "outcomes_total",
			Help:      "Results of the signed envelope authentication pipeline",
		}, []string{"outcome"}),
		cosignerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cosigner",
			Name:      "calls_total",
			Help:      "Calls to the cosigning service by operation and result",
		}, []string{"op", "result"}),
		cosignerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cosigner",
			Name:      "call_duration_seconds",
			Help:      "Latency of calls to the cosigning service",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"op"}),
		dbUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "up",
			Help:      "1 when the last database ping succeeded",
		}),
	}
	reg.MustRegister(m.requests, m.requestDuration, m.authOutcomes, m.cosignerCalls, m.cosignerLatency, m.dbUp)
	return m
}

func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	route = labelOrUnknown(route)
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) AuthOutcome(outcome string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

func (m *Metrics) ObserveCosigner(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	op = labelOrUnknown(op)
	m.cosignerCalls.WithLabelValues(op, labelOrUnknown(result)).Inc()
	m.cosignerLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) SetDBUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.dbUp.Set(1)
	} else {
		m.dbUp.Set(0)
	}
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
