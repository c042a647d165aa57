package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AllocationsTotal     *prometheus.CounterVec
	UnitsAllocatedTotal  prometheus.Counter
	ReservationConflicts prometheus.Counter
	RollbacksTotal       prometheus.Counter
	BacklogRunsTotal     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		AllocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodbank_allocations_total",
			Help: "Total allocation calls by outcome",
		}, []string{"outcome"}),
		UnitsAllocatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbank_units_allocated_total",
			Help: "Total blood units reserved for requests",
		}),
		ReservationConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbank_reservation_conflicts_total",
			Help: "Total compare-and-set misses skipped during candidate scans",
		}),
		RollbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbank_allocation_rollbacks_total",
			Help: "Total compensating rollbacks of reserved units",
		}),
		BacklogRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbank_backlog_runs_total",
			Help: "Total backlog processing runs",
		}),
	}
}

func (m *Metrics) ObserveOutcome(outcome string) {
	m.AllocationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddUnitsAllocated(count int) {
	m.UnitsAllocatedTotal.Add(float64(count))
}

func (m *Metrics) IncrementConflicts() {
	m.ReservationConflicts.Inc()
}

func (m *Metrics) IncrementRollbacks() {
	m.RollbacksTotal.Inc()
}

func (m *Metrics) IncrementBacklogRuns() {
	m.BacklogRunsTotal.Inc()
}
