// Package metrics holds the Prometheus collectors exported by filesync.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filesync"

// Metrics bundles the collectors of one process. Each instance owns its own
// registry so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	FilesListed    *prometheus.CounterVec
	FilesSelected  *prometheus.CounterVec
	FilesSynced    *prometheus.CounterVec
	FilesFailed    *prometheus.CounterVec
	BytesSynced    *prometheus.CounterVec
	Checkpoints    *prometheus.CounterVec
	CursorWarnings *prometheus.CounterVec
	SyncRuns       *prometheus.CounterVec

	PendingFiles *prometheus.GaugeVec
	HistorySize  *prometheus.GaugeVec

	SyncDuration *prometheus.HistogramVec
	FileDuration *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		FilesListed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "files_listed_total",
			Help:      "Files reported by the source lister",
		}, []string{"stream"}),

		FilesSelected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "files_selected_total",
			Help:      "Files the cursor selected for sync",
		}, []string{"stream"}),

		FilesSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "files_synced_total",
			Help:      "Files read into the destination",
		}, []string{"stream"}),

		FilesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "files_failed_total",
			Help:      "Files that could not be read",
		}, []string{"stream", "skipped"}),

		BytesSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "bytes_synced_total",
			Help:      "Bytes written to the destination",
		}, []string{"stream"}),

		Checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cursor",
			Name:      "checkpoints_total",
			Help:      "State checkpoints emitted by cursors",
		}, []string{"stream"}),

		CursorWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cursor",
			Name:      "warnings_total",
			Help:      "Non-fatal anomalies reported by cursors",
		}, []string{"stream"}),

		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Completed stream runs by status",
		}, []string{"stream", "status"}),

		PendingFiles: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cursor",
			Name:      "pending_files",
			Help:      "Files assigned to partitions and not yet completed",
		}, []string{"stream"}),

		HistorySize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cursor",
			Name:      "history_size",
			Help:      "Entries in the cursor history table",
		}, []string{"stream"}),

		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of stream runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		}, []string{"stream"}),

		FileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "file_duration_seconds",
			Help:      "Time to read one file into the destination",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"stream"}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
