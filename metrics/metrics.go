// Package metrics provides Prometheus metrics for the twinftp server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector receives server events. The server checks for a nil collector before
// calling it; implementations must not block.
type Collector interface {
	// RecordCommand records one handled command message (cd, ls, get, put ...).
	RecordCommand(kind string, success bool, duration time.Duration)
	// RecordTransfer records one finished data channel transfer ("get" or "put").
	RecordTransfer(operation string, bytes int64, duration time.Duration)
	// RecordConnection records an accepted or dropped command connection.
	RecordConnection(accepted bool, reason string)
	// RecordAuthentication records a login attempt.
	RecordAuthentication(success bool, user string)
	// SessionStarted and SessionEnded track the number of live sessions.
	SessionStarted()
	SessionEnded()
}

var _ Collector = &Metrics{}

// Metrics is a Collector backed by Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	connectionsTotal *prometheus.CounterVec
	authAttempts     *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
}

// New registers the server metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twinftp_commands_total",
				Help: "Total number of command channel requests",
			},
			[]string{"kind", "success"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "twinftp_command_duration_seconds",
				Help:    "Command handling duration in seconds, transfers included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twinftp_transfer_bytes_total",
				Help: "Total file bytes moved over data channels",
			},
			[]string{"operation"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "twinftp_transfer_duration_seconds",
				Help:    "Data channel transfer duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		connectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twinftp_connections_total",
				Help: "Total command connections by outcome",
			},
			[]string{"accepted", "reason"},
		),
		authAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twinftp_auth_attempts_total",
				Help: "Total authentication attempts",
			},
			[]string{"result"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "twinftp_sessions_active",
				Help: "Number of live sessions",
			},
		),
	}
}

func (m *Metrics) RecordCommand(kind string, success bool, duration time.Duration) {
	m.commandsTotal.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
	m.commandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	m.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	m.transferDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordConnection(accepted bool, reason string) {
	m.connectionsTotal.WithLabelValues(strconv.FormatBool(accepted), reason).Inc()
}

// RecordAuthentication leaves the user out of the labels to keep cardinality bounded.
func (m *Metrics) RecordAuthentication(success bool, _ string) {
	result := "failure"
	if success {
		result = "success"
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionStarted() { m.sessionsActive.Inc() }

func (m *Metrics) SessionEnded() { m.sessionsActive.Dec() }

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
