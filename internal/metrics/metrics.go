// Package metrics exposes Prometheus collectors for the oracle engine.
//
// All methods are safe to call on a nil *Metrics so that library users can
// run the engine without a metrics backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "staking_oracle"

// Metrics holds the collectors updated by the consensus state machine and
// the report pipelines.
type Metrics struct {
	reportsSubmitted *prometheus.CounterVec
	reportsProcessed *prometheus.CounterVec
	currentRefSlot   *prometheus.GaugeVec
	extraDataItems   prometheus.Counter
	exitRequests     prometheus.Counter
}

// New registers the oracle collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reportsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_reports_submitted_total",
			Help:      "Number of consensus report hashes accepted for a reporting frame, by pipeline.",
		}, []string{"pipeline"}),
		reportsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_processed_total",
			Help:      "Number of reports fully processed, by pipeline.",
		}, []string{"pipeline"}),
		currentRefSlot: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_ref_slot",
			Help:      "Reference slot of the report currently awaiting or under processing, by pipeline.",
		}, []string{"pipeline"}),
		extraDataItems: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extra_data_items_applied_total",
			Help:      "Number of accounting extra-data items applied.",
		}),
		exitRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exit_requests_emitted_total",
			Help:      "Number of validator exit requests delivered to the registry.",
		}),
	}
}

// ReportSubmitted records an accepted consensus hash and the frame it
// belongs to, for the named pipeline.
func (m *Metrics) ReportSubmitted(pipeline string, refSlot uint64) {
	if m == nil {
		return
	}
	m.reportsSubmitted.WithLabelValues(pipeline).Inc()
	m.currentRefSlot.WithLabelValues(pipeline).Set(float64(refSlot))
}

// ReportProcessed records a fully processed report for the named pipeline.
func (m *Metrics) ReportProcessed(pipeline string) {
	if m == nil {
		return
	}
	m.reportsProcessed.WithLabelValues(pipeline).Inc()
}

// ExtraDataItemsApplied records n applied accounting extra-data items.
func (m *Metrics) ExtraDataItemsApplied(n int) {
	if m == nil {
		return
	}
	m.extraDataItems.Add(float64(n))
}

// ExitRequestsEmitted records n delivered validator exit requests.
func (m *Metrics) ExitRequestsEmitted(n int) {
	if m == nil {
		return
	}
	m.exitRequests.Add(float64(n))
}
