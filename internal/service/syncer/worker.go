package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/cursor"
	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/domain/event"
)

const maxRetryDelay = 30 * time.Second

// worker copies the files of one run's partitions
type worker struct {
	syncer *Syncer
	stream *Stream
	cursor *cursor.Cursor
	guard  *spaceGuard
	logger *zap.Logger

	synced  atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
	bytes   atomic.Int64
}

// run processes partitions concurrently, files of a partition in order.
// Once ctx is done the remaining files are left pending.
func (w *worker) run(ctx context.Context, partitions []domain.Partition) {
	p := pool.New().WithMaxGoroutines(w.syncer.config.Concurrency)
	for _, part := range partitions {
		p.Go(func() {
			for _, file := range part.Files {
				if ctx.Err() != nil {
					return
				}
				w.syncFile(ctx, file)
			}
		})
	}
	p.Wait()
}

func (w *worker) totals() (synced, failed, skipped int, bytes int64) {
	return int(w.synced.Load()), int(w.failed.Load()), int(w.skipped.Load()), w.bytes.Load()
}

func (w *worker) syncFile(ctx context.Context, file domain.RemoteFile) {
	start := time.Now()

	destPath, written, err := w.copyWithRetry(ctx, file)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		skipped := domain.IsSkippable(err)
		w.failed.Add(1)
		if skipped {
			w.skipped.Add(1)
		}
		w.syncer.dispatcher.Dispatch(event.NewFileFailed(w.stream.Name, file.URI, err, skipped))
		return
	}

	// AddFile emits the checkpoint that records the file
	if err := w.cursor.AddFile(file); err != nil {
		w.logger.Error("failed to record synced file", zap.String("uri", file.URI), zap.Error(err))
		w.failed.Add(1)
		return
	}

	w.synced.Add(1)
	w.bytes.Add(written)
	w.syncer.dispatcher.Dispatch(event.NewFileSynced(w.stream.Name, file.URI, destPath, written, time.Since(start)))
}

func (w *worker) copyWithRetry(ctx context.Context, file domain.RemoteFile) (string, int64, error) {
	for attempt := 0; ; attempt++ {
		destPath, written, err := w.copy(ctx, file)
		if err == nil {
			return destPath, written, nil
		}
		if !domain.IsRetryable(err) || attempt >= w.syncer.config.MaxRetries {
			return "", 0, err
		}

		delay := w.retryDelay(err, attempt)
		w.logger.Debug("retrying file",
			zap.String("uri", file.URI),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (w *worker) retryDelay(err error, attempt int) time.Duration {
	if after, ok := domain.GetRetryAfter(err); ok && after > 0 {
		return min(after, maxRetryDelay)
	}
	return min(w.syncer.config.RetryBackoff<<attempt, maxRetryDelay)
}

func (w *worker) copy(ctx context.Context, file domain.RemoteFile) (string, int64, error) {
	if err := w.guard.check(file.Size); err != nil {
		return "", 0, err
	}
	if err := w.syncer.opens.Wait(ctx); err != nil {
		return "", 0, err
	}

	r, err := w.stream.Source.OpenFile(ctx, file)
	if err != nil {
		return "", 0, err
	}
	defer r.Close()

	destPath, written, err := w.stream.Dest.WriteFile(file.URI, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("failed to write %s: %w", file.URI, err)
	}
	return destPath, written, nil
}

// ctxReader stops a copy once its context is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
