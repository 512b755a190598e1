// Package metrics exposes the policy engine's Prometheus metrics. Every
// Collector owns its registry so tests and multiple engines never collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "spendguard"

// Collector records enforcement and HTTP metrics.
type Collector struct {
	registry *prometheus.Registry

	heartbeatsTotal     *prometheus.CounterVec
	adminActionsTotal   *prometheus.CounterVec
	lockWaitSeconds     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector builds a Collector on a fresh registry that also carries the
// Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		heartbeatsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats processed by outcome.",
		}, []string{"result"}),
		adminActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_actions_total",
			Help:      "Administrative ledger actions by type and result.",
		}, []string{"action", "result"}),
		lockWaitSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-agent lock.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"acquired"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "method"}),
	}
}

// ObserveHeartbeat counts one heartbeat verdict.
func (c *Collector) ObserveHeartbeat(result string) {
	if c == nil {
		return
	}
	c.heartbeatsTotal.WithLabelValues(result).Inc()
}

// ObserveAdminAction counts one kill/revive/top-up call.
func (c *Collector) ObserveAdminAction(action, result string) {
	if c == nil {
		return
	}
	c.adminActionsTotal.WithLabelValues(action, result).Inc()
}

// ObserveLockWait records how long an acquisition attempt waited.
func (c *Collector) ObserveLockWait(wait time.Duration, acquired bool) {
	if c == nil {
		return
	}
	c.lockWaitSeconds.WithLabelValues(strconv.FormatBool(acquired)).Observe(wait.Seconds())
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
