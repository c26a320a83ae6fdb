package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for page requests.
var (
	crmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_requests_total",
		Help: "Total CRM page requests by HTTP status (or transport_error)",
	}, []string{"status"})

	crmRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_request_duration_seconds",
		Help:    "CRM page request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 45},
	})
)
