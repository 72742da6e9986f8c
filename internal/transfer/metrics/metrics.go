package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the transfer module.
type Metrics struct {
	RequestsCreated  prometheus.Counter
	Transitions      *prometheus.CounterVec
	UnitsTransferred *prometheus.CounterVec
	FulfillDuration  prometheus.Histogram
}

// New creates a new Metrics instance with all transfer module metrics registered.
func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodledger_transfer_requests_created_total",
			Help: "Total transfer requests created",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodledger_transfer_transitions_total",
			Help: "Transfer request state transitions by action and outcome",
		}, []string{"action", "outcome"}),
		UnitsTransferred: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodledger_transfer_units_total",
			Help: "Total blood units moved by fulfilled transfers",
		}, []string{"blood_group", "component"}),
		FulfillDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bloodledger_transfer_fulfill_duration_seconds",
			Help:    "Duration of transfer fulfillment transactions",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// ObserveCreated records a new transfer request.
func (m *Metrics) ObserveCreated() {
	m.RequestsCreated.Inc()
}

// ObserveTransition records a state transition attempt and its outcome.
func (m *Metrics) ObserveTransition(action, outcome string) {
	m.Transitions.WithLabelValues(action, outcome).Inc()
}

// ObserveUnitsTransferred records units moved between hospitals.
func (m *Metrics) ObserveUnitsTransferred(group, component string, units int) {
	m.UnitsTransferred.WithLabelValues(group, component).Add(float64(units))
}

// ObserveFulfill records the duration of a fulfillment transaction.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveFulfill(start time.Time) {
	m.FulfillDuration.Observe(time.Since(start).Seconds())
}
