package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sessionsTotal counts finished sessions by terminal state.
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_sessions_total",
		Help: "Total fetch sessions by outcome (done, partial, failed)",
	}, []string{"outcome"})

	// sessionPages tracks pages requested per completed session.
	sessionPages = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_session_pages",
		Help:    "Page requests issued per fetch session",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
	})
)
