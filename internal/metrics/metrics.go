package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scanner metrics
var (
	ScanRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_scan_runs_total",
			Help: "Total number of scan runs per storage root",
		},
		[]string{"root", "status"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_catalog_scan_duration_seconds",
			Help:    "Duration of storage root scans in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"root"},
	)

	ScanFilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_scan_files_processed_total",
			Help: "Total number of files processed during scans",
		},
		[]string{"root"},
	)

	ScanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_scan_errors_total",
			Help: "Total number of per-file errors during scans",
		},
		[]string{"root"},
	)

	ScansActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_catalog_scans_active",
			Help: "Number of storage root scans currently running",
		},
	)
)

// Hashing metrics
var (
	HashJobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_catalog_hash_jobs_queued",
			Help: "Number of hashing jobs waiting in the pool queue",
		},
	)

	HashDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_catalog_hash_duration_seconds",
			Help:    "Duration of hash computations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"kind"}, // "quick" or "full"
	)

	HashBytesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_hash_bytes_processed_total",
			Help: "Total number of bytes streamed through the hashing engine",
		},
	)

	HashFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_hash_failures_total",
			Help: "Total number of failed hash computations",
		},
	)

	HashWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_catalog_hash_workers",
			Help: "Number of workers in the hashing pool",
		},
	)
)

// Protocol client metrics
var (
	ProtocolOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_protocol_operations_total",
			Help: "Total number of protocol client operations",
		},
		[]string{"protocol", "operation", "status"},
	)

	ProtocolOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_catalog_protocol_operation_duration_seconds",
			Help:    "Protocol client operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol", "operation"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_catalog_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_catalog_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"outcome"}, // "commit" or "rollback"
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_catalog_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Virtual filesystem metrics
var (
	VFSRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_vfs_rebuilds_total",
			Help: "Total number of virtual filesystem projection rebuilds",
		},
	)

	VFSRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_catalog_vfs_rebuild_duration_seconds",
			Help:    "Virtual filesystem rebuild duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
	)

	VFSDuplicateGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_catalog_vfs_duplicate_groups",
			Help: "Number of duplicate groups in the current projection",
		},
	)
)
