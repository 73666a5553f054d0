package local

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// tempSuffix marks files still being written by a filesync destination
const tempSuffix = ".partial"

// Watcher reports changes below a directory tree. Bursts of events are
// collapsed into one notification per debounce interval.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher watches root and every directory below it
func NewWatcher(root string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		root:     filepath.Clean(root),
		debounce: debounce,
		logger:   logger,
	}

	if err := w.addTree(w.root); err != nil {
		fw.Close()
		return nil, err
	}

	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// Run delivers change notifications to onChange until ctx is done
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasSuffix(ev.Name, tempSuffix) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// new directories must be watched explicitly
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Debug("failed to watch new path", zap.String("path", ev.Name), zap.Error(err))
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.String("root", w.root), zap.Error(err))
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
