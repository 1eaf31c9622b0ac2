// Package metrics provides Prometheus instrumentation for the memory
// pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal counts write gate outcomes.
	// Labels: action (insert, update, skip)
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "engine",
			Name:      "writes_total",
			Help:      "Total write gate decisions by action",
		},
		[]string{"action"},
	)

	// DuplicateSkips counts writes skipped as near-duplicates of an
	// existing node.
	DuplicateSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "engine",
			Name:      "duplicate_skips_total",
			Help:      "Total writes skipped because a near-duplicate node already existed",
		},
	)

	// ConflictsTotal counts contradictions detected during ingestion.
	ConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "engine",
			Name:      "conflicts_total",
			Help:      "Total contradictions detected between incoming and stored memories",
		},
	)

	// RetrievalRequests counts retrieval calls.
	RetrievalRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrieval requests",
		},
	)

	// RetrievalOutcomes counts retrievals by whether any node surfaced.
	// Labels: outcome (hit, miss)
	RetrievalOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "retrieval",
			Name:      "outcomes_total",
			Help:      "Total retrieval requests by outcome",
		},
		[]string{"outcome"},
	)

	// ArchivedTotal counts nodes archived by forgetting passes and
	// version supersession.
	ArchivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "engine",
			Name:      "archived_total",
			Help:      "Total nodes archived",
		},
	)
)

// RecordWrite records one write gate decision.
func RecordWrite(action string, duplicate bool) {
	WritesTotal.WithLabelValues(action).Inc()
	if duplicate {
		DuplicateSkips.Inc()
	}
}

// RecordConflicts records detected contradictions.
func RecordConflicts(count int) {
	if count > 0 {
		ConflictsTotal.Add(float64(count))
	}
}

// RecordRetrieval records one retrieval request and its outcome.
func RecordRetrieval(hitCount int) {
	RetrievalRequests.Inc()
	if hitCount > 0 {
		RetrievalOutcomes.WithLabelValues("hit").Inc()
	} else {
		RetrievalOutcomes.WithLabelValues("miss").Inc()
	}
}

// RecordArchived records archived node counts.
func RecordArchived(count int) {
	if count > 0 {
		ArchivedTotal.Add(float64(count))
	}
}
