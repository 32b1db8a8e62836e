// ABOUTME: Prometheus collectors for sessions, JSON-RPC requests, tool calls and audit drops
// ABOUTME: Metrics implements the session and MCP observer hooks

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/2389/ewelink-gateway/internal/identity"
)

const namespace = "ewelink_gateway"

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	reg prometheus.Registerer

	// Session metrics
	SessionsCreated *prometheus.CounterVec
	SessionsExpired prometheus.Counter

	// JSON-RPC metrics
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Tool metrics
	ToolCalls *prometheus.CounterVec

	// Transport metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		reg: registry,

		SessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total number of MCP sessions created",
			},
			[]string{"identity_kind"},
		),
		SessionsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_expired_total",
				Help:      "Total number of MCP sessions removed by idle sweeps",
			},
		),

		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of JSON-RPC requests by method and result code",
			},
			[]string{"method", "code"},
		),
		RPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_seconds",
				Help:      "JSON-RPC request handling duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),

		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of MCP tool calls",
			},
			[]string{"tool", "is_error"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests on the MCP routes",
			},
			[]string{"route", "status"},
		),
	}
}

// WatchSessions registers a gauge reporting the live session count.
func (m *Metrics) WatchSessions(count func() int) {
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live MCP sessions",
		},
		func() float64 { return float64(count()) },
	)
}

// WatchAudit registers counters for audit events that were dropped or
// rejected by the sink.
func (m *Metrics) WatchAudit(dropped, failed func() uint64) {
	factory := promauto.With(m.reg)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events discarded because the queue was full or closed",
		},
		func() float64 { return float64(dropped()) },
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_failed_total",
			Help:      "Audit events the sink failed to write",
		},
		func() float64 { return float64(failed()) },
	)
}

// SessionCreated implements session.Observer.
func (m *Metrics) SessionCreated(kind identity.Kind) {
	m.SessionsCreated.WithLabelValues(string(kind)).Inc()
}

// SessionsExpired implements session.Observer.
func (m *Metrics) SessionsExpired(n int) {
	m.SessionsExpired.Add(float64(n))
}

// RequestHandled implements mcp.Observer.
func (m *Metrics) RequestHandled(method string, code int, elapsed time.Duration) {
	m.RPCRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ToolCalled implements mcp.Observer.
func (m *Metrics) ToolCalled(tool string, isError bool) {
	m.ToolCalls.WithLabelValues(tool, strconv.FormatBool(isError)).Inc()
}

// HTTPRequest counts one response on a named route.
func (m *Metrics) HTTPRequest(route string, status int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
