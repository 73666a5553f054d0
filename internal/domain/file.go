package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the wire format for last-modified timestamps in persisted state.
// Always UTC with microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// MinTimestamp is the smallest representable timestamp (0001-01-01T00:00:00.000000Z)
var MinTimestamp = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// NormalizeTimestamp converts t to UTC and drops sub-microsecond precision,
// so values survive a format/parse round trip unchanged.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FormatTimestamp renders t in TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed timestamp %q", ErrInvalidState, s)
	}
	return t.UTC(), nil
}

// RemoteFile is a file reported by a source lister
type RemoteFile struct {
	URI          string
	LastModified time.Time
	Size         int64
}

// NewRemoteFile creates a RemoteFile with a normalized timestamp
func NewRemoteFile(uri string, lastModified time.Time, size int64) RemoteFile {
	return RemoteFile{
		URI:          uri,
		LastModified: NormalizeTimestamp(lastModified),
		Size:         size,
	}
}

// CursorValue returns the (last_modified, uri) key of the file
func (f RemoteFile) CursorValue() CursorValue {
	return CursorValue{Timestamp: f.LastModified, URI: f.URI}
}

// String implements fmt.Stringer
func (f RemoteFile) String() string {
	return f.URI + "@" + FormatTimestamp(f.LastModified)
}

// CursorValue is the compound (timestamp, uri) position used for checkpoints
type CursorValue struct {
	Timestamp time.Time
	URI       string
}

// ZeroCursorValue is the position before every file
var ZeroCursorValue = CursorValue{Timestamp: MinTimestamp}

// String renders "<timestamp>_<uri>"
func (c CursorValue) String() string {
	return FormatTimestamp(c.Timestamp) + "_" + c.URI
}

// IsZero reports whether c is ZeroCursorValue
func (c CursorValue) IsZero() bool {
	return c.URI == "" && c.Timestamp.Equal(MinTimestamp)
}

// ParseCursorValue parses "<timestamp>_<uri>". The uri part may itself contain
// underscores and may be empty.
func ParseCursorValue(s string) (CursorValue, error) {
	ts, uri, ok := strings.Cut(s, "_")
	if !ok {
		return CursorValue{}, fmt.Errorf("%w: malformed cursor value %q", ErrInvalidState, s)
	}
	t, err := ParseTimestamp(ts)
	if err != nil {
		return CursorValue{}, err
	}
	return CursorValue{Timestamp: t, URI: uri}, nil
}

// CompareCursorValues orders cursor values by timestamp ascending, then by URI
// ascending (byte-wise). The URI tie-break only makes the order total; it does not
// imply any relation between file names.
// Returns -1, 0 or +1.
func CompareCursorValues(a, b CursorValue) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.URI, b.URI)
}

// Before reports whether c sorts strictly before other
func (c CursorValue) Before(other CursorValue) bool {
	return CompareCursorValues(c, other) < 0
}

// MinCursorValue returns the smaller of a and b
func MinCursorValue(a, b CursorValue) CursorValue {
	if b.Before(a) {
		return b
	}
	return a
}

// Partition is a group of files assigned to one worker
type Partition struct {
	ID    string
	Files []RemoteFile
}
