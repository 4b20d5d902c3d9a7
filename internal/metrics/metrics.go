// Package metrics defines Prometheus metrics for amber.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RecordsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amber_records_loaded_total",
			Help: "Records loaded from files into the database",
		},
		[]string{"model"},
	)

	RecordsDumped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amber_records_dumped_total",
			Help: "Records written from the database to files",
		},
		[]string{"model"},
	)

	RecordsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amber_records_deleted_total",
			Help: "Records deleted because their file disappeared",
		},
		[]string{"model"},
	)

	DeferredRelations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amber_deferred_relations_total",
			Help: "Relation fields deferred to the second load pass",
		},
	)

	LoadErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amber_load_errors_total",
			Help: "Load batches aborted by an error",
		},
	)

	ReconcileTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amber_reconcile_ticks_total",
			Help: "Reconciliation ticks by outcome",
		},
		[]string{"outcome"},
	)

	SnapshotFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amber_snapshot_files",
			Help: "Files in the most recent modification snapshot",
		},
	)

	CrawlFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amber_crawl_fetches_total",
			Help: "Pages fetched while building the static site",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsLoaded, RecordsDumped, RecordsDeleted,
		DeferredRelations, LoadErrors,
		ReconcileTicks, SnapshotFiles,
		CrawlFetches,
	)
}
