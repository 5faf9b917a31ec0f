// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meios"

// Refresh cycle results.
const (
	ResultOK          = "ok"
	ResultEmpty       = "empty"
	ResultFetchFailed = "fetch_failed"
	ResultSaveFailed  = "save_failed"
)

var (
	refreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "refresh_total",
			Help:      "Refresh cycles by result",
		},
		[]string{"result"},
	)

	refreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a full fetch, merge and project cycle",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	datasetRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dataset_records",
			Help:      "Incidents in the consolidated dataset",
		},
	)

	skippedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "skipped_records_total",
			Help:      "Raw records dropped by the normalizer",
		},
	)

	fetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetch_failures_total",
			Help:      "Failed upstream fetches by source",
		},
		[]string{"source"},
	)

	ingestedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Incidents upserted into the store by the ingest writer",
		},
	)
)

func RecordRefresh(result string, d time.Duration) {
	refreshCycles.WithLabelValues(result).Inc()
	refreshDuration.Observe(d.Seconds())
}

func SetDatasetSize(n int) {
	datasetRecords.Set(float64(n))
}

func RecordSkipped(n int) {
	skippedRecords.Add(float64(n))
}

func RecordFetchFailure(source string) {
	fetchFailures.WithLabelValues(source).Inc()
}

func RecordIngested(n int) {
	ingestedRecords.Add(float64(n))
}
