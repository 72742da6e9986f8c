package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the inventory module.
type Metrics struct {
	UnitsAdded       *prometheus.CounterVec
	UnitsExpired     *prometheus.CounterVec
	AddStockDuration prometheus.Histogram
}

// New creates a new Metrics instance with all inventory module metrics registered.
func New() *Metrics {
	return &Metrics{
		UnitsAdded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodledger_units_added_total",
			Help: "Total blood units recorded into ledgers",
		}, []string{"blood_group", "component"}),
		UnitsExpired: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodledger_units_expired_total",
			Help: "Total blood units removed by expiry sweeps",
		}, []string{"blood_group", "component"}),
		AddStockDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bloodledger_add_stock_duration_seconds",
			Help:    "Duration of AddStock operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveUnitsAdded records units credited to a ledger.
func (m *Metrics) ObserveUnitsAdded(group, component string, units int) {
	m.UnitsAdded.WithLabelValues(group, component).Add(float64(units))
}

// ObserveUnitsExpired records units dropped by an expiry sweep.
func (m *Metrics) ObserveUnitsExpired(group, component string, units int) {
	m.UnitsExpired.WithLabelValues(group, component).Add(float64(units))
}

// ObserveAddStock records the duration of an AddStock operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAddStock(start time.Time) {
	m.AddStockDuration.Observe(time.Since(start).Seconds())
}
