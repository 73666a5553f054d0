package cursor

import (
	"fmt"
	"iter"

	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/domain/event"
	"go.uber.org/zap"
)

// ShouldSync reports whether file must be read in this run.
//
// A file in the history is synced only when it changed since it was recorded.
// An unseen file is always synced while the history has room. Once the history
// is full, an unseen file is synced only when it sorts strictly after the
// previous sync cursor and is not older than StartTime.
func (c *Cursor) ShouldSync(file domain.RemoteFile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.shouldSyncLocked(file)
}

func (c *Cursor) shouldSyncLocked(file domain.RemoteFile) bool {
	if recorded, ok := c.history.get(file.URI); ok {
		if file.LastModified.After(recorded) {
			return true
		}
		if file.LastModified.Before(recorded) {
			c.dispatcher.Dispatch(event.NewCursorWarning(c.cfg.StreamName, file.URI,
				fmt.Sprintf("the file %s was modified at %s, which is older than the last time it was synced (%s); skipping",
					file.URI, domain.FormatTimestamp(file.LastModified), domain.FormatTimestamp(recorded))))
		}
		return false
	}

	if c.history.isFull() {
		return c.prevSyncCursor.Before(file.CursorValue()) && !file.LastModified.Before(c.startTime)
	}
	return true
}

// FilesToSync filters files through ShouldSync lazily, in input order.
// The sequence can be ranged over more than once.
func (c *Cursor) FilesToSync(files []domain.RemoteFile) iter.Seq[domain.RemoteFile] {
	return func(yield func(domain.RemoteFile) bool) {
		if c.HistoryIsFull() {
			c.logger.Warn("state history is full; only files modified after the start time will be considered",
				zap.Int("max_history_size", c.cfg.MaxHistorySize),
				zap.String("start_time", domain.FormatTimestamp(c.startTime)),
				zap.Int("days_to_sync_if_history_is_full", c.cfg.DaysToSyncIfHistoryIsFull),
			)
		}
		for _, f := range files {
			if c.ShouldSync(f) && !yield(f) {
				return
			}
		}
	}
}
