// Package metrics exposes ledger counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feeledger"

type Metrics struct {
	receiptsAllocated   prometheus.Counter
	receiptConflicts    prometheus.Counter
	allocationExhausted prometheus.Counter
	payments            *prometheus.CounterVec // by lifecycle event
	summaryLookups      *prometheus.CounterVec // by cache result
	exports             *prometheus.CounterVec // by outcome
}

// New registers the ledger collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		receiptsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_allocated_total",
			Help:      "Receipt numbers successfully assigned to payments.",
		}),
		receiptConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_conflicts_total",
			Help:      "Receipt candidates rejected by the unique index.",
		}),
		allocationExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_allocation_exhausted_total",
			Help:      "Allocations that ran out of attempts or daily numbers.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment lifecycle transitions by type.",
		}, []string{"event"}),
		summaryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_lookups_total",
			Help:      "Student summary computations by cache result.",
		}, []string{"result"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_exports_total",
			Help:      "Receipt register exports by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.receiptsAllocated,
		m.receiptConflicts,
		m.allocationExhausted,
		m.payments,
		m.summaryLookups,
		m.exports,
	)
	return m
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ReceiptAllocated() {
	if m != nil {
		m.receiptsAllocated.Inc()
	}
}

func (m *Metrics) ReceiptConflict() {
	if m != nil {
		m.receiptConflicts.Inc()
	}
}

func (m *Metrics) AllocationExhausted() {
	if m != nil {
		m.allocationExhausted.Inc()
	}
}

// PaymentEvent counts a recorded, printed or voided transition.
func (m *Metrics) PaymentEvent(event string) {
	if m != nil {
		m.payments.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) SummaryLookup(cacheHit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	m.summaryLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Export(ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "exported"
	}
	m.exports.WithLabelValues(outcome).Inc()
}
