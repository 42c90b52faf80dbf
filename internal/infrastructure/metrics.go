package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the business metrics exposed on /metrics
type Metrics struct {
	ActivationsTotal *prometheus.CounterVec
	KeysIssuedTotal  *prometheus.CounterVec
	KeysResetTotal   prometheus.Counter
	KeysDeletedTotal prometheus.Counter
	StoreErrorsTotal prometheus.Counter
	Registry         *prometheus.Registry
}

// NewMetrics creates and registers the service metrics on a dedicated registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ActivationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyserve",
			Name:      "activations_total",
			Help:      "Key activation attempts by outcome code.",
		}, []string{"outcome"}),
		KeysIssuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyserve",
			Name:      "keys_issued_total",
			Help:      "Keys issued by key type.",
		}, []string{"key_type"}),
		KeysResetTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keyserve",
			Name:      "keys_reset_total",
			Help:      "Keys reset back to unused.",
		}),
		KeysDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keyserve",
			Name:      "keys_deleted_total",
			Help:      "Keys deleted.",
		}),
		StoreErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keyserve",
			Name:      "store_errors_total",
			Help:      "Key store I/O failures.",
		}),
	}
}
