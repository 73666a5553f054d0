// Package syncer runs stream syncs: list the source, let the cursor pick the
// files to read, copy them to the destination with a worker pool and checkpoint
// progress as files complete.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vertextoedge/filesync/internal/cursor"
	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/domain/event"
	"github.com/vertextoedge/filesync/internal/port"
	"github.com/vertextoedge/filesync/internal/service/checkpoint"
)

var (
	// ErrRunInProgress is returned when a stream is already being synced
	ErrRunInProgress = errors.New("sync already running for stream")

	// ErrFilesFailed is returned when a run finished with unread files
	ErrFilesFailed = errors.New("some files failed to sync")
)

// Config contains syncer configuration
type Config struct {
	// Interval between scheduled runs of every stream
	Interval time.Duration

	// Concurrency is the number of partitions processed at once per stream
	Concurrency int

	// StreamConcurrency is the number of streams RunAll syncs at once
	StreamConcurrency int

	// MaxRetries is the number of extra attempts for retryable read errors
	MaxRetries int

	// RetryBackoff is the base delay between attempts, doubled each time
	RetryBackoff time.Duration

	// MaxDiskUsagePercent stops writes once the destination volume reaches it
	MaxDiskUsagePercent float64

	// OpensPerSecond limits file opens across all streams; zero is unlimited
	OpensPerSecond float64
}

// DefaultConfig returns default syncer configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:            15 * time.Minute,
		Concurrency:         4,
		StreamConcurrency:   2,
		MaxRetries:          3,
		RetryBackoff:        time.Second,
		MaxDiskUsagePercent: 95,
	}
}

// ChangeNotifier triggers an extra run when a stream's source changes
type ChangeNotifier interface {
	Run(ctx context.Context, onChange func()) error
	Close() error
}

// Stream binds a configured stream to its source and destination
type Stream struct {
	Name   string
	Source port.Source
	Dest   port.FileSystem
	Filter *Filter
	Cursor cursor.Config

	FilesPerPartition int

	// Notifier is optional
	Notifier ChangeNotifier
}

// RunResult summarizes one stream run
type RunResult struct {
	RunID    string
	Stream   string
	Listed   int
	Selected int
	Synced   int
	Failed   int
	Skipped  int
	Bytes    int64
	Cursor   string
	Duration time.Duration
}

// Syncer synchronizes configured streams
type Syncer struct {
	config     *Config
	streams    map[string]*Stream
	order      []string
	store      port.StateStore
	persister  *checkpoint.Persister
	dispatcher event.EventDispatcher
	opens      *rate.Limiter
	logger     *zap.Logger

	mu      sync.Mutex
	active  map[string]bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Syncer. The persister may be nil when states are persisted
// by another subscriber of the dispatcher.
func New(
	cfg *Config,
	streams []*Stream,
	store port.StateStore,
	persister *checkpoint.Persister,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) (*Syncer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.StreamConcurrency <= 0 {
		cfg.StreamConcurrency = 2
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.OpensPerSecond > 0 {
		limit = rate.Limit(cfg.OpensPerSecond)
	}

	s := &Syncer{
		config:     cfg,
		streams:    make(map[string]*Stream, len(streams)),
		store:      store,
		persister:  persister,
		dispatcher: dispatcher,
		opens:      rate.NewLimiter(limit, max(1, cfg.Concurrency)),
		logger:     logger,
		active:     make(map[string]bool),
	}

	for _, st := range streams {
		if st.Name == "" {
			return nil, fmt.Errorf("%w: stream without name", domain.ErrInvalidInput)
		}
		if _, dup := s.streams[st.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate stream %s", domain.ErrInvalidInput, st.Name)
		}
		if st.Source == nil || st.Dest == nil {
			return nil, fmt.Errorf("%w: stream %s needs a source and a destination", domain.ErrInvalidInput, st.Name)
		}
		st.Cursor.StreamName = st.Name
		s.streams[st.Name] = st
		s.order = append(s.order, st.Name)
	}
	sort.Strings(s.order)

	return s, nil
}

// Streams returns the configured stream names in sorted order
func (s *Syncer) Streams() []string {
	return slices.Clone(s.order)
}

// Start runs every stream now and then on each interval, plus on change
// notifications, until ctx is done or Stop is called
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("syncer already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("syncer started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("streams", len(s.order)),
		zap.Int("concurrency", s.config.Concurrency))

	for _, name := range s.order {
		if st := s.streams[name]; st.Notifier != nil {
			s.wg.Add(1)
			go s.watchLoop(ctx, st)
		}
	}

	s.wg.Add(1)
	go s.scheduleLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("syncer stopped")
	return nil
}

// Stop stops the syncer
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Syncer) scheduleLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunAll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled sync finished with errors", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Syncer) watchLoop(ctx context.Context, st *Stream) {
	defer s.wg.Done()
	defer st.Notifier.Close()

	err := st.Notifier.Run(ctx, func() {
		_, err := s.RunStream(ctx, st.Name)
		switch {
		case errors.Is(err, ErrRunInProgress):
			s.logger.Debug("change ignored, run in progress", zap.String("stream", st.Name))
		case err != nil && ctx.Err() == nil:
			s.logger.Warn("triggered sync failed", zap.String("stream", st.Name), zap.Error(err))
		}
	})
	if err != nil {
		s.logger.Error("change notifier stopped", zap.String("stream", st.Name), zap.Error(err))
	}
}

// RunAll runs every stream once. A failing stream does not stop the others;
// the combined error is returned.
func (s *Syncer) RunAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(s.config.StreamConcurrency)

	for _, name := range s.order {
		g.Go(func() error {
			if _, err := s.RunStream(ctx, name); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs
}

// RunStream performs one sync invocation of a stream
func (s *Syncer) RunStream(ctx context.Context, name string) (*RunResult, error) {
	st, ok := s.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownStream, name)
	}
	if !s.acquire(name) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, name)
	}
	defer s.release(name)

	start := time.Now()
	result := &RunResult{RunID: uuid.NewString(), Stream: name}
	logger := s.logger.With(zap.String("stream", name), zap.String("run_id", result.RunID))

	data, err := s.store.LoadState(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("stream %s: failed to load state: %w", name, err)
	}
	c, err := cursor.FromJSON(st.Cursor, data, s.dispatcher, logger)
	if err != nil {
		return nil, err
	}

	files, err := st.Source.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream %s: failed to list %s: %w", name, st.Source.Name(), err)
	}
	files = st.Filter.Apply(files)
	result.Listed = len(files)

	selected := slices.Collect(c.FilesToSync(files))
	result.Selected = len(selected)

	guard := newSpaceGuard(st.Dest, s.config.MaxDiskUsagePercent)
	if len(selected) > 0 {
		if err := guard.check(0); err != nil {
			return nil, fmt.Errorf("stream %s: %w", name, err)
		}
	}

	partitions := Partition(selected, st.FilesPerPartition)
	if err := c.SetPendingPartitions(partitions); err != nil {
		return nil, fmt.Errorf("stream %s: %w", name, err)
	}

	logger.Info("starting stream sync",
		zap.String("source", st.Source.Name()),
		zap.Int("listed", result.Listed),
		zap.Int("selected", result.Selected),
		zap.Int("partitions", len(partitions)),
		zap.String("prev_cursor", c.PrevSyncCursor().String()))

	w := &worker{
		syncer: s,
		stream: st,
		cursor: c,
		guard:  guard,
		logger: logger,
	}
	w.run(ctx, partitions)

	c.EnsureStateEmitted()

	result.Synced, result.Failed, result.Skipped, result.Bytes = w.totals()
	result.Cursor = c.NewCursorValue().String()
	result.Duration = time.Since(start)

	var runErr error
	if s.persister != nil {
		// the final checkpoint must reach the store even when ctx was cancelled
		flushCtx := context.WithoutCancel(ctx)
		runErr = multierr.Append(s.persister.Flush(flushCtx, name), s.persister.Err(name))
	}

	s.dispatcher.Dispatch(event.SyncCompleted{
		BaseEvent: event.BaseEvent{Timestamp: time.Now()},
		Stream:    name,
		RunID:     result.RunID,
		Listed:    result.Listed,
		Selected:  result.Selected,
		Synced:    result.Synced,
		Failed:    result.Failed,
		Duration:  result.Duration,
	})

	if err := ctx.Err(); err != nil {
		return result, multierr.Append(fmt.Errorf("stream %s: %w", name, err), runErr)
	}
	if result.Failed > 0 {
		runErr = multierr.Append(runErr, fmt.Errorf("stream %s: %w: %d of %d", name, ErrFilesFailed, result.Failed, result.Selected))
	}
	return result, runErr
}

func (s *Syncer) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[name] {
		return false
	}
	s.active[name] = true
	return true
}

func (s *Syncer) release(name string) {
	s.mu.Lock()
	delete(s.active, name)
	s.mu.Unlock()
}

// IsRunning reports whether a stream is being synced
func (s *Syncer) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[name]
}
