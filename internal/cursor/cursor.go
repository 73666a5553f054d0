// Package cursor implements the incremental file-sync cursor: a bounded history
// of synced files, the set of files in flight, the decision of which listed
// files to read and the checkpoint emitted after every completed file.
package cursor

import (
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/domain/event"
	"go.uber.org/zap"
)

// DefaultDaysToSyncIfHistoryIsFull is the look-back window used once the
// history can no longer hold every file
const DefaultDaysToSyncIfHistoryIsFull = 3

// Config holds cursor configuration
type Config struct {
	StreamName                string
	CursorField               string
	MaxHistorySize            int
	DaysToSyncIfHistoryIsFull int
	// Now is the clock used for the look-back window. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		CursorField:               domain.DefaultCursorField,
		MaxHistorySize:            DefaultMaxHistorySize,
		DaysToSyncIfHistoryIsFull: DefaultDaysToSyncIfHistoryIsFull,
		Now:                       time.Now,
	}
}

// Cursor tracks sync progress of one stream for one sync invocation.
// It is safe for concurrent use by the worker pool.
type Cursor struct {
	mu sync.Mutex

	cfg            Config
	history        *history
	pending        *pendingSet
	prevSyncCursor domain.CursorValue
	startTime      time.Time

	dispatcher event.EventDispatcher
	logger     *zap.Logger
}

// New creates a cursor from a parsed state. A nil state is treated as empty.
func New(cfg Config, state *domain.CursorState, dispatcher event.EventDispatcher, logger *zap.Logger) *Cursor {
	defaults := DefaultConfig()
	if cfg.CursorField == "" {
		cfg.CursorField = defaults.CursorField
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = defaults.MaxHistorySize
	}
	if cfg.DaysToSyncIfHistoryIsFull < 0 {
		cfg.DaysToSyncIfHistoryIsFull = defaults.DaysToSyncIfHistoryIsFull
	}
	if cfg.Now == nil {
		cfg.Now = defaults.Now
	}
	if state == nil {
		state = domain.NewCursorState()
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := newHistory(cfg.MaxHistorySize, state.History)
	c := &Cursor{
		cfg:        cfg,
		history:    h,
		pending:    newPendingSet(),
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("stream", cfg.StreamName)),
	}
	c.prevSyncCursor = computePrevSyncCursor(state, h)
	c.startTime = computeStartTime(h, cfg.DaysToSyncIfHistoryIsFull, cfg.Now())
	return c
}

// FromJSON parses a persisted state document and creates a cursor from it.
// A malformed document fails with domain.ErrInvalidState.
func FromJSON(cfg Config, data []byte, dispatcher event.EventDispatcher, logger *zap.Logger) (*Cursor, error) {
	state, err := domain.ParseCursorState(data, cfg.CursorField)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", cfg.StreamName, err)
	}
	return New(cfg, state, dispatcher, logger), nil
}

// StreamName returns the stream this cursor belongs to
func (c *Cursor) StreamName() string {
	return c.cfg.StreamName
}

// CursorField returns the state key of the compound cursor value
func (c *Cursor) CursorField() string {
	return c.cfg.CursorField
}

// SetPendingPartitions replaces the pending set with the files of partitions
func (c *Cursor) SetPendingPartitions(partitions []domain.Partition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending.replace(partitions)
}

// AddFile marks file as fully synced and emits a checkpoint
func (c *Cursor) AddFile(file domain.RemoteFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pending.set {
		return fmt.Errorf("%w: cannot add %s", domain.ErrPendingNotSet, file.URI)
	}

	if !c.pending.remove(file.URI) {
		c.dispatcher.Dispatch(event.NewCursorWarning(c.cfg.StreamName, file.URI,
			fmt.Sprintf("the file %s was not found in the list of pending files; this is unexpected", file.URI)))
	}

	for _, evicted := range c.history.record(file.URI, file.LastModified) {
		c.logger.Debug("history full, evicted earliest entry",
			zap.String("uri", evicted.URI),
			zap.Time("last_modified", evicted.Timestamp),
		)
	}

	c.emitLocked(false)
	return nil
}

// NewCursorValue returns the low-water mark: the earliest of the pending files
// and the history entries, or the zero value when both are empty
func (c *Cursor) NewCursorValue() domain.CursorValue {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.newCursorValueLocked()
}

func (c *Cursor) newCursorValueLocked() domain.CursorValue {
	pending, hasPending := c.pending.earliest()
	recorded, hasHistory := c.history.earliest()
	switch {
	case hasPending && hasHistory:
		return domain.MinCursorValue(pending, recorded)
	case hasPending:
		return pending
	case hasHistory:
		return recorded
	default:
		return domain.ZeroCursorValue
	}
}

// State returns a snapshot of the state a checkpoint would carry now
func (c *Cursor) State() *domain.CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stateLocked()
}

func (c *Cursor) stateLocked() *domain.CursorState {
	cv := c.newCursorValueLocked()
	return &domain.CursorState{
		History: c.history.snapshot(),
		Cursor:  &cv,
	}
}

// EmitState emits a checkpoint of the current state
func (c *Cursor) EmitState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitLocked(false)
}

// EnsureStateEmitted emits the final checkpoint of a run. It is called once
// all partitions have drained, whether or not any file completed.
func (c *Cursor) EnsureStateEmitted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitLocked(true)
}

func (c *Cursor) emitLocked(final bool) {
	ev := event.NewStateCheckpointed(c.cfg.StreamName, c.cfg.CursorField, c.stateLocked(), final)
	ev.Pending = c.pending.len()
	c.dispatcher.Dispatch(ev)
}

// PrevSyncCursor returns the cursor value derived from the state the cursor
// was created with
func (c *Cursor) PrevSyncCursor() domain.CursorValue {
	return c.prevSyncCursor
}

// StartTime returns the earliest last-modified time considered for files
// not in the history
func (c *Cursor) StartTime() time.Time {
	return c.startTime
}

// PendingCount returns the number of files still in flight
func (c *Cursor) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending.len()
}

// HistorySize returns the number of files in the history
func (c *Cursor) HistorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.history.len()
}

// HistoryIsFull reports whether the history reached its capacity
func (c *Cursor) HistoryIsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.history.isFull()
}

func computePrevSyncCursor(state *domain.CursorState, h *history) domain.CursorValue {
	if state.IsEmpty() {
		return domain.CursorValue{Timestamp: domain.MinTimestamp, URI: ""}
	}
	prev := domain.ZeroCursorValue
	if state.Cursor != nil {
		prev = *state.Cursor
	}
	if earliest, ok := h.earliest(); ok {
		prev = domain.MinCursorValue(prev, earliest)
	}
	return prev
}

func computeStartTime(h *history, days int, now time.Time) time.Time {
	earliest, ok := h.earliest()
	if !ok {
		return domain.MinTimestamp
	}
	if !h.isFull() {
		return earliest.Timestamp
	}
	window := domain.NormalizeTimestamp(now.AddDate(0, 0, -days))
	if window.After(earliest.Timestamp) {
		return window
	}
	return earliest.Timestamp
}
