package classify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrorsTotal counts classified session failures by kind.
var ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crm_errors_total",
	Help: "Total classified CRM errors by kind",
}, []string{"kind"})

// Observe records e in ErrorsTotal and returns it.
func Observe(e *Error) *Error {
	if e != nil {
		ErrorsTotal.WithLabelValues(string(e.Kind)).Inc()
	}
	return e
}
