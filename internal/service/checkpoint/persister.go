// Package checkpoint persists the state messages emitted by cursors.
package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/domain/event"
	"github.com/vertextoedge/filesync/internal/port"
	"github.com/vertextoedge/filesync/internal/util/ratelimiter"
)

const defaultWriteTimeout = 10 * time.Second

// Config contains persister configuration
type Config struct {
	// Interval is the minimum delay between two writes of the same stream.
	// Checkpoints arriving sooner are coalesced; only the latest is written.
	Interval time.Duration

	// WriteTimeout bounds a single store write
	WriteTimeout time.Duration

	// Clock is used by the write throttle; defaults to time.Now
	Clock ratelimiter.Clock
}

// Persister is an event handler writing StateCheckpointed events to a StateStore.
// Final checkpoints are always written immediately.
type Persister struct {
	store   port.StateStore
	limiter *ratelimiter.Keyed
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*port.StreamState
	timers  map[string]*time.Timer
	// failures holds the last write error of each stream until a write succeeds
	failures map[string]error
	saved    int
}

// NewPersister creates a new Persister
func NewPersister(cfg Config, store port.StateStore, logger *zap.Logger) *Persister {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Persister{
		store:   store,
		limiter: ratelimiter.NewKeyed(cfg.Interval, cfg.Clock),
		timeout: cfg.WriteTimeout,
		logger:  logger.Named("checkpoint"),
		pending: make(map[string]*port.StreamState),
		timers:  make(map[string]*time.Timer),

		failures: make(map[string]error),
	}
}

// Handle persists or coalesces a checkpoint
func (p *Persister) Handle(ev event.DomainEvent) error {
	cp, ok := ev.(event.StateCheckpointed)
	if !ok {
		return nil
	}

	st, err := toStreamState(cp)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !cp.Final {
		if allowed, wait := p.limiter.Allow(cp.Stream); !allowed {
			p.pending[cp.Stream] = st
			p.scheduleLocked(cp.Stream, wait)
			return nil
		}
	}

	p.cancelTimerLocked(cp.Stream)
	delete(p.pending, cp.Stream)
	return p.saveLocked(context.Background(), st)
}

// HandledEvents returns the events this handler handles
func (p *Persister) HandledEvents() []string {
	return []string{event.NameStateCheckpointed}
}

// Flush writes the coalesced checkpoint of a stream, if any
func (p *Persister) Flush(ctx context.Context, stream string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx, stream)
}

// FlushAll writes every coalesced checkpoint
func (p *Persister) FlushAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	streams := make([]string, 0, len(p.pending))
	for stream := range p.pending {
		streams = append(streams, stream)
	}
	sort.Strings(streams)

	var errs error
	for _, stream := range streams {
		errs = multierr.Append(errs, p.flushLocked(ctx, stream))
	}
	return errs
}

// Close flushes pending checkpoints and stops the flush timers
func (p *Persister) Close(ctx context.Context) error {
	err := p.FlushAll(ctx)

	p.mu.Lock()
	for stream := range p.timers {
		p.cancelTimerLocked(stream)
	}
	p.mu.Unlock()

	return err
}

// Pending returns the number of streams with an unwritten checkpoint
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Err returns the error of the last failed write of a stream, or nil once a
// later write succeeded
func (p *Persister) Err(stream string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[stream]
}

// Saved returns the number of checkpoints written
func (p *Persister) Saved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved
}

func (p *Persister) flushLocked(ctx context.Context, stream string) error {
	st, ok := p.pending[stream]
	if !ok {
		return nil
	}
	p.cancelTimerLocked(stream)
	delete(p.pending, stream)
	return p.saveLocked(ctx, st)
}

func (p *Persister) saveLocked(ctx context.Context, st *port.StreamState) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.store.SaveState(ctx, st); err != nil {
		err = fmt.Errorf("persist checkpoint of %s: %w", st.Stream, err)
		p.failures[st.Stream] = err
		return err
	}
	delete(p.failures, st.Stream)
	p.saved++

	p.logger.Debug("checkpoint persisted",
		zap.String("stream", st.Stream),
		zap.String("cursor", st.CursorValue),
		zap.Int("history_size", st.HistorySize),
		zap.Bool("final", st.Final))
	return nil
}

func (p *Persister) scheduleLocked(stream string, wait time.Duration) {
	if _, ok := p.timers[stream]; ok {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(wait, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		// replaced while this callback waited for the lock
		if p.timers[stream] != t {
			return
		}
		delete(p.timers, stream)
		if err := p.flushLocked(context.Background(), stream); err != nil {
			p.logger.Error("deferred checkpoint failed", zap.String("stream", stream), zap.Error(err))
		}
	})
	p.timers[stream] = t
}

func (p *Persister) cancelTimerLocked(stream string) {
	if t, ok := p.timers[stream]; ok {
		t.Stop()
		delete(p.timers, stream)
	}
}

func toStreamState(cp event.StateCheckpointed) (*port.StreamState, error) {
	state := cp.State
	if state == nil {
		state = domain.NewCursorState()
	}

	data, err := state.Marshal(cp.CursorField)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint of %s: %w", cp.Stream, err)
	}

	return &port.StreamState{
		Stream:      cp.Stream,
		CursorField: cp.CursorField,
		State:       data,
		CursorValue: cp.CursorValue(),
		HistorySize: len(state.History),
		Final:       cp.Final,
		UpdatedAt:   cp.OccurredAt(),
	}, nil
}
