package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons for admission metrics
const (
	RejectCeiling = "ceiling"
	RejectPorts   = "ports"
)

// Control message types for emitted notifications
const (
	ControlBye       = "bye"
	ControlHeartbeat = "heartbeat"
)

// Metrics contains all Prometheus metrics for the RTSP server
type Metrics struct {
	// Connection metrics
	ActiveConnections   prometheus.Gauge
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	ClientsRemoved      prometheus.Counter
	ClientDuration      prometheus.Histogram
	BuffersReleased     prometheus.Counter

	// Session liveness metrics
	ActiveSessions      prometheus.Gauge
	SoftTimeouts        prometheus.Counter
	HardTimeouts        prometheus.Counter
	HeartbeatEvictions  prometheus.Counter
	ControlMessages     *prometheus.CounterVec
	ControlSendFailures *prometheus.CounterVec

	// Process isolation metrics
	ActiveChildren  prometheus.Gauge
	ChildrenSpawned prometheus.Counter
	ChildrenReaped  prometheus.Counter
	ForkFailures    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Connection metrics
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp_active_connections",
			Help: "Current number of live client connections owned by this worker",
		}),
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_connections_accepted_total",
			Help: "Total number of client connections admitted",
		}),
		ConnectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsp_connections_rejected_total",
			Help: "Total number of client connections closed at admission",
		}, []string{"reason"}),
		ClientsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_clients_removed_total",
			Help: "Total number of clients torn down",
		}),
		ClientDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtsp_client_duration_seconds",
			Help:    "Lifetime of client connections in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34 minutes
		}),
		BuffersReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_output_buffers_released_total",
			Help: "Total number of output buffers released after send or discard",
		}),

		// Session liveness metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp_active_sessions",
			Help: "Current number of media sessions owned by live clients",
		}),
		SoftTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_session_soft_timeouts_total",
			Help: "Total number of advisory stream-end notifications sent to stalled live sessions",
		}),
		HardTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_session_hard_timeouts_total",
			Help: "Total number of clients evicted because a session stopped sending",
		}),
		HeartbeatEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_heartbeat_evictions_total",
			Help: "Total number of clients evicted for missing control-channel acknowledgments",
		}),
		ControlMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsp_control_messages_total",
			Help: "Total number of control-channel notifications queued",
		}, []string{"type"}),
		ControlSendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsp_control_send_failures_total",
			Help: "Total number of control-channel notifications that could not be queued",
		}, []string{"type"}),

		// Process isolation metrics
		ActiveChildren: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp_active_children",
			Help: "Current number of tracked child processes",
		}),
		ChildrenSpawned: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_children_spawned_total",
			Help: "Total number of child processes started",
		}),
		ChildrenReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_children_reaped_total",
			Help: "Total number of child process exits observed by the reaper",
		}),
		ForkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_fork_failures_total",
			Help: "Total number of failed child process starts",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsp_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtsp_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsp_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetActiveConnections sets the current number of live connections
func (m *Metrics) SetActiveConnections(count int64) {
	m.ActiveConnections.Set(float64(count))
}

// RecordConnectionAccepted increments the admitted connections counter
func (m *Metrics) RecordConnectionAccepted() {
	m.ConnectionsAccepted.Inc()
}

// RecordConnectionRejected increments the rejected connections counter for reason
func (m *Metrics) RecordConnectionRejected(reason string) {
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// RecordClientRemoved increments the removed clients counter and records lifetime
func (m *Metrics) RecordClientRemoved(durationSeconds float64) {
	m.ClientsRemoved.Inc()
	m.ClientDuration.Observe(durationSeconds)
}

// RecordBufferReleased increments the released output buffers counter
func (m *Metrics) RecordBufferReleased() {
	m.BuffersReleased.Inc()
}

// AddActiveSessions adjusts the active sessions gauge by delta
func (m *Metrics) AddActiveSessions(delta int) {
	m.ActiveSessions.Add(float64(delta))
}

// RecordSoftTimeout increments the soft timeout counter
func (m *Metrics) RecordSoftTimeout() {
	m.SoftTimeouts.Inc()
}

// RecordHardTimeout increments the hard timeout counter
func (m *Metrics) RecordHardTimeout() {
	m.HardTimeouts.Inc()
}

// RecordHeartbeatEviction increments the heartbeat eviction counter
func (m *Metrics) RecordHeartbeatEviction() {
	m.HeartbeatEvictions.Inc()
}

// RecordControlMessage records a queued control-channel notification
func (m *Metrics) RecordControlMessage(msgType string) {
	m.ControlMessages.WithLabelValues(msgType).Inc()
}

// RecordControlSendFailure records a control-channel notification that failed
func (m *Metrics) RecordControlSendFailure(msgType string) {
	m.ControlSendFailures.WithLabelValues(msgType).Inc()
}

// SetActiveChildren sets the current number of tracked child processes
func (m *Metrics) SetActiveChildren(count int) {
	m.ActiveChildren.Set(float64(count))
}

// RecordChildSpawned increments the spawned children counter
func (m *Metrics) RecordChildSpawned() {
	m.ChildrenSpawned.Inc()
}

// RecordChildReaped increments the reaped children counter
func (m *Metrics) RecordChildReaped() {
	m.ChildrenReaped.Inc()
}

// RecordForkFailure increments the fork failures counter
func (m *Metrics) RecordForkFailure() {
	m.ForkFailures.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
