package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DealsInserted counts deals that made it into the store, per source kind.
	DealsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealfeed_deals_inserted_total",
			Help: "Number of new deals persisted, by source kind",
		},
		[]string{"kind"},
	)

	// DealsDuplicate counts insert attempts rejected by the content-hash
	// unique constraint. High values are normal on a quiet day.
	DealsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealfeed_deals_duplicate_total",
			Help: "Number of insert attempts deduplicated by content hash, by source kind",
		},
		[]string{"kind"},
	)

	// SourceFailures counts sources that yielded zero candidates due to a
	// fetch/parse fault.
	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealfeed_source_failures_total",
			Help: "Number of per-source extraction failures, by source kind",
		},
		[]string{"kind"},
	)

	// ExtractionDuration tracks per-source extraction latency.
	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealfeed_extraction_duration_seconds",
			Help:    "Duration of per-source extraction, by source kind",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"kind"},
	)

	// SweepDeleted counts deals removed by the cleanup sweeper.
	SweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealfeed_sweep_deleted_total",
			Help: "Number of expired or stale deals deleted by cleanup",
		},
	)
)
