// Package metrics exposes Prometheus collectors for the terminal gateway.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "terminal"

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	SpawnFailures    prometheus.Counter
	SessionDuration  prometheus.Histogram
	SessionsReplaced prometheus.Counter

	// WebSocket metrics
	WSConnections   prometheus.Gauge
	WSFrames        *prometheus.CounterVec
	WSOutputBytes   prometheus.Counter
	MalformedFrames prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live shell sessions",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of shell sessions spawned",
		}),
		SessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_ended_total",
				Help:      "Total number of shell sessions ended, by final status",
			},
			[]string{"status"},
		),
		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawn_failures_total",
			Help:      "Total number of shells that failed to start",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of shell sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		SessionsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_replaced_total",
			Help:      "Total number of sessions killed by a newer handshake for the same key",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of open terminal WebSocket connections",
		}),
		WSFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_frames_total",
				Help:      "Total number of envelopes, by direction and type",
			},
			[]string{"direction", "type"},
		),
		WSOutputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_output_bytes_total",
			Help:      "Total number of terminal output bytes sent to clients",
		}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_malformed_frames_total",
			Help:      "Total number of inbound frames that could not be decoded",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.SessionsActive,
		m.SessionsStarted,
		m.SessionsEnded,
		m.SpawnFailures,
		m.SessionDuration,
		m.SessionsReplaced,
		m.WSConnections,
		m.WSFrames,
		m.WSOutputBytes,
		m.MalformedFrames,
	)
	return m
}

// SessionStarted records a successful spawn.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// SessionEnded records a session reaching a final status.
func (m *Metrics) SessionEnded(status string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(lifetime.Seconds())
}

// SpawnFailed records a shell that could not start.
func (m *Metrics) SpawnFailed() {
	if m == nil {
		return
	}
	m.SpawnFailures.Inc()
}

// SessionReplaced records a kill-then-replace collision.
func (m *Metrics) SessionReplaced() {
	if m == nil {
		return
	}
	m.SessionsReplaced.Inc()
}

// ConnectionOpened tracks an upgraded terminal connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// ConnectionClosed tracks a terminal connection going away.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// FrameReceived counts an inbound envelope by type.
func (m *Metrics) FrameReceived(typ string) {
	if m == nil {
		return
	}
	m.WSFrames.WithLabelValues("in", typ).Inc()
}

// FrameSent counts an outbound envelope by type.
func (m *Metrics) FrameSent(typ string, payload int) {
	if m == nil {
		return
	}
	m.WSFrames.WithLabelValues("out", typ).Inc()
	if typ == "data" {
		m.WSOutputBytes.Add(float64(payload))
	}
}

// FrameMalformed counts an undecodable inbound frame.
func (m *Metrics) FrameMalformed() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}

// Middleware records request counts and latencies. Paths are taken from
// the matched route so parameters do not explode label cardinality.
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
