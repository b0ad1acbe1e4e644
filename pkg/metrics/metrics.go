package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Upstream (backend service) calls
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec

	// Live notification channels
	NotifyEvents     *prometheus.CounterVec
	NotifyChannels   prometheus.Gauge
	NotifyReconnects prometheus.Counter

	// Session store
	SessionOperations *prometheus.CounterVec

	// Access audit
	AuditWrites *prometheus.CounterVec

	// HTTP server
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// NewMetrics creates and registers all application metrics on reg. A nil
// registerer uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of requests sent to backend services",
		}, []string{"service", "method", "status"}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of requests sent to backend services",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"service"}),

		NotifyEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_events_total",
			Help:      "Notification channel frames by outcome",
		}, []string{"result"}),
		NotifyChannels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notify_channels_open",
			Help:      "Current number of open notification channels",
		}),
		NotifyReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_reconnects_total",
			Help:      "Total number of notification channel reconnect attempts",
		}),

		SessionOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_operations_total",
			Help:      "Total number of session store operations",
		}, []string{"operation", "status"}),

		AuditWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Total number of access audit writes",
		}, []string{"status"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// NewNop returns metrics registered on a throwaway registry; used by tests
// and by components constructed without metrics.
func NewNop() *Metrics {
	return NewMetrics("portal", prometheus.NewRegistry())
}
