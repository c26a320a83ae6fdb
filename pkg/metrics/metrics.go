// Package metrics provides the Prometheus registry and exposition handler
// for the CRM proxy. All metrics are defined in their respective packages
// (client, classify, pagination, cache, ratelimit) to maintain modularity
// and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the proxy.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered in Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves Gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Names lists every metric the proxy exports.
var Names = []string{
	"crm_requests_total",
	"crm_request_duration_seconds",
	"crm_errors_total",
	"crm_sessions_total",
	"crm_session_pages",
	"crm_cache_hits_total",
	"crm_cache_misses_total",
	"crm_cache_size_bytes",
	"crm_cache_errors_total",
	"crm_cache_evictions_total",
	"crm_rate_limit_rejections_total",
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - crm_requests_total{status} (Counter): Page requests by HTTP status, or transport_error
//   - crm_request_duration_seconds (Histogram): Page request duration
//
// Classification Metrics (pkg/classify):
//   - crm_errors_total{kind} (Counter): Classified failures by kind (network, timeout, tls,
//     remote_server, remote_application, malformed_response, empty_response)
//
// Session Metrics (pkg/pagination):
//   - crm_sessions_total{outcome} (Counter): Finished sessions (done, partial, failed)
//   - crm_session_pages (Histogram): Page requests per completed session
//
// Cache Metrics (pkg/cache):
//   - crm_cache_hits_total{layer} (Counter): Cache hits by layer (file, redis, slot)
//   - crm_cache_misses_total{layer} (Counter): Cache misses by layer
//   - crm_cache_size_bytes{layer} (Gauge): Size of the last entry written
//   - crm_cache_errors_total{operation} (Counter): Cache operation errors
//   - crm_cache_evictions_total{reason} (Counter): Entries evicted (corrupt, empty, expired, quota)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - crm_rate_limit_rejections_total{backend} (Counter): Sessions rejected by the caller cooldown
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(crm_cache_hits_total[5m])) /
//   (sum(rate(crm_cache_hits_total[5m])) + sum(rate(crm_cache_misses_total[5m])))
//
//   # Partial Session Rate
//   rate(crm_sessions_total{outcome="partial"}[5m]) / rate(crm_sessions_total[5m])
//
//   # Webhook Permission Problems
//   increase(crm_errors_total{kind="remote_application"}[1h])
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(crm_request_duration_seconds_bucket[5m]))
