package port

import (
	"context"
	"time"
)

// StreamState is the persisted checkpoint of one stream
type StreamState struct {
	Stream      string
	CursorField string
	// State is the serialized cursor state document
	State       []byte
	CursorValue string
	HistorySize int
	Final       bool
	UpdatedAt   time.Time
}

// StateStore persists stream states between sync runs
type StateStore interface {
	// LoadState returns the state document of a stream, or nil when none was saved
	LoadState(ctx context.Context, stream string) ([]byte, error)

	// SaveState upserts the current state of a stream and appends it to the
	// checkpoint log
	SaveState(ctx context.Context, state *StreamState) error

	// GetState returns the stored row of a stream, or nil when none was saved
	GetState(ctx context.Context, stream string) (*StreamState, error)

	// DeleteState removes the state and checkpoint log of a stream
	DeleteState(ctx context.Context, stream string) error

	// ListStates returns every stored stream state ordered by stream name
	ListStates(ctx context.Context) ([]*StreamState, error)

	// ListCheckpoints returns the most recent checkpoints of a stream, newest first
	ListCheckpoints(ctx context.Context, stream string, limit int) ([]*StreamState, error)

	// PruneCheckpoints deletes checkpoint log entries older than the given time
	// Returns the number of rows deleted
	PruneCheckpoints(ctx context.Context, olderThan time.Time) (int, error)

	// Ping checks database connectivity
	Ping() error

	// Close closes the database connection
	Close() error
}
