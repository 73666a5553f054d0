package cursor

import (
	"time"

	"github.com/vertextoedge/filesync/internal/domain"
)

// DefaultMaxHistorySize bounds the number of files remembered per stream
const DefaultMaxHistorySize = 10000

// history maps file URIs to the last-modified timestamp through which the file
// has been synced. It holds at most capacity entries; recording past capacity
// evicts the earliest (timestamp, uri) entry.
type history struct {
	entries  map[string]time.Time
	capacity int
}

func newHistory(capacity int, initial map[string]time.Time) *history {
	h := &history{
		entries:  make(map[string]time.Time, len(initial)),
		capacity: capacity,
	}
	for uri, ts := range initial {
		h.entries[uri] = domain.NormalizeTimestamp(ts)
	}
	// a state saved under a larger capacity is cut down on load
	h.trim()
	return h
}

// record inserts or overwrites uri, then evicts the earliest entries until the
// table fits its capacity. The evicted entries are returned.
func (h *history) record(uri string, ts time.Time) []domain.CursorValue {
	h.entries[uri] = domain.NormalizeTimestamp(ts)
	return h.trim()
}

func (h *history) trim() []domain.CursorValue {
	var evicted []domain.CursorValue
	for len(h.entries) > h.capacity {
		oldest, _ := h.earliest()
		delete(h.entries, oldest.URI)
		evicted = append(evicted, oldest)
	}
	return evicted
}

func (h *history) get(uri string) (time.Time, bool) {
	ts, ok := h.entries[uri]
	return ts, ok
}

func (h *history) isFull() bool {
	return len(h.entries) >= h.capacity
}

// earliest returns the minimum (timestamp, uri) entry
func (h *history) earliest() (domain.CursorValue, bool) {
	var (
		lowest domain.CursorValue
		found  bool
	)
	for uri, ts := range h.entries {
		cv := domain.CursorValue{Timestamp: ts, URI: uri}
		if !found || cv.Before(lowest) {
			lowest = cv
			found = true
		}
	}
	return lowest, found
}

func (h *history) len() int {
	return len(h.entries)
}

func (h *history) snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(h.entries))
	for uri, ts := range h.entries {
		out[uri] = ts
	}
	return out
}
