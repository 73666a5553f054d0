package event

import (
	"time"

	"github.com/vertextoedge/filesync/internal/domain"
)

// Event names
const (
	NameStateCheckpointed = "state.checkpointed"
	NameCursorWarning     = "cursor.warning"
	NameFileSynced        = "file.synced"
	NameFileFailed        = "file.failed"
	NameSyncCompleted     = "sync.completed"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// StateCheckpointed carries a new state for a stream. It is the state message
// a cursor emits after every mutation; handlers persist it.
type StateCheckpointed struct {
	BaseEvent
	Stream      string
	CursorField string
	State       *domain.CursorState
	// Pending is the number of files still in flight when the state was taken
	Pending int
	// Final is set on the checkpoint emitted at the end of a run
	Final bool
}

// EventName returns the event name
func (e StateCheckpointed) EventName() string {
	return NameStateCheckpointed
}

// CursorValue returns the rendered cursor value, or "" when the state has none
func (e StateCheckpointed) CursorValue() string {
	if e.State == nil || e.State.Cursor == nil {
		return ""
	}
	return e.State.Cursor.String()
}

// NewStateCheckpointed creates a new StateCheckpointed event
func NewStateCheckpointed(stream, cursorField string, state *domain.CursorState, final bool) StateCheckpointed {
	return StateCheckpointed{
		BaseEvent:   BaseEvent{Timestamp: time.Now()},
		Stream:      stream,
		CursorField: cursorField,
		State:       state,
		Final:       final,
	}
}

// CursorWarning is a non-fatal anomaly observed by a cursor
type CursorWarning struct {
	BaseEvent
	Stream  string
	URI     string
	Message string
}

// EventName returns the event name
func (e CursorWarning) EventName() string {
	return NameCursorWarning
}

// NewCursorWarning creates a new CursorWarning event
func NewCursorWarning(stream, uri, message string) CursorWarning {
	return CursorWarning{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Stream:    stream,
		URI:       uri,
		Message:   message,
	}
}

// FileSynced is raised when a file was read into the destination
type FileSynced struct {
	BaseEvent
	Stream   string
	URI      string
	DestPath string
	Size     int64
	Duration time.Duration
}

// EventName returns the event name
func (e FileSynced) EventName() string {
	return NameFileSynced
}

// NewFileSynced creates a new FileSynced event
func NewFileSynced(stream, uri, destPath string, size int64, duration time.Duration) FileSynced {
	return FileSynced{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Stream:    stream,
		URI:       uri,
		DestPath:  destPath,
		Size:      size,
		Duration:  duration,
	}
}

// FileFailed is raised when a file could not be read. The file stays pending.
type FileFailed struct {
	BaseEvent
	Stream  string
	URI     string
	Error   string
	Skipped bool
}

// EventName returns the event name
func (e FileFailed) EventName() string {
	return NameFileFailed
}

// NewFileFailed creates a new FileFailed event
func NewFileFailed(stream, uri string, err error, skipped bool) FileFailed {
	return FileFailed{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Stream:    stream,
		URI:       uri,
		Error:     err.Error(),
		Skipped:   skipped,
	}
}

// SyncCompleted is raised when a stream run finishes
type SyncCompleted struct {
	BaseEvent
	Stream   string
	RunID    string
	Listed   int
	Selected int
	Synced   int
	Failed   int
	Duration time.Duration
}

// EventName returns the event name
func (e SyncCompleted) EventName() string {
	return NameSyncCompleted
}
