package event

import (
	"strconv"

	"github.com/vertextoedge/filesync/internal/metrics"
	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case StateCheckpointed:
		historySize := 0
		if e.State != nil {
			historySize = len(e.State.History)
		}
		h.logger.Debug("state checkpointed",
			zap.String("stream", e.Stream),
			zap.String("cursor", e.CursorValue()),
			zap.Int("history_size", historySize),
			zap.Bool("final", e.Final),
		)
	case CursorWarning:
		h.logger.Warn(e.Message,
			zap.String("stream", e.Stream),
			zap.String("uri", e.URI),
		)
	case FileSynced:
		h.logger.Debug("file synced",
			zap.String("stream", e.Stream),
			zap.String("uri", e.URI),
			zap.String("dest_path", e.DestPath),
			zap.Int64("size", e.Size),
			zap.Duration("duration", e.Duration),
		)
	case FileFailed:
		h.logger.Warn("file sync failed",
			zap.String("stream", e.Stream),
			zap.String("uri", e.URI),
			zap.String("error", e.Error),
			zap.Bool("skipped", e.Skipped),
		)
	case SyncCompleted:
		h.logger.Info("sync completed",
			zap.String("stream", e.Stream),
			zap.String("run_id", e.RunID),
			zap.Int("listed", e.Listed),
			zap.Int("selected", e.Selected),
			zap.Int("synced", e.Synced),
			zap.Int("failed", e.Failed),
			zap.Duration("duration", e.Duration),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"} // Handle all events
}

// MetricsHandler feeds events into Prometheus collectors
type MetricsHandler struct {
	metrics *metrics.Metrics
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: m}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case StateCheckpointed:
		h.metrics.Checkpoints.WithLabelValues(e.Stream).Inc()
		h.metrics.PendingFiles.WithLabelValues(e.Stream).Set(float64(e.Pending))
		if e.State != nil {
			h.metrics.HistorySize.WithLabelValues(e.Stream).Set(float64(len(e.State.History)))
		}
	case CursorWarning:
		h.metrics.CursorWarnings.WithLabelValues(e.Stream).Inc()
	case FileSynced:
		h.metrics.FilesSynced.WithLabelValues(e.Stream).Inc()
		h.metrics.BytesSynced.WithLabelValues(e.Stream).Add(float64(e.Size))
		h.metrics.FileDuration.WithLabelValues(e.Stream).Observe(e.Duration.Seconds())
	case FileFailed:
		h.metrics.FilesFailed.WithLabelValues(e.Stream, strconv.FormatBool(e.Skipped)).Inc()
	case SyncCompleted:
		status := "success"
		if e.Failed > 0 {
			status = "partial"
		}
		h.metrics.FilesListed.WithLabelValues(e.Stream).Add(float64(e.Listed))
		h.metrics.FilesSelected.WithLabelValues(e.Stream).Add(float64(e.Selected))
		h.metrics.SyncRuns.WithLabelValues(e.Stream, status).Inc()
		h.metrics.SyncDuration.WithLabelValues(e.Stream).Observe(e.Duration.Seconds())
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameStateCheckpointed,
		NameCursorWarning,
		NameFileSynced,
		NameFileFailed,
		NameSyncCompleted,
	}
}
