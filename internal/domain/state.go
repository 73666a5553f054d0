package domain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DefaultCursorField is the state key holding the compound cursor value
const DefaultCursorField = "_ab_source_file_last_modified"

// historyKey is the state key holding the uri -> last_modified map
const historyKey = "history"

// CursorState is the persisted state of one stream:
//
//	{"history": {"<uri>": "<ts>"}, "<cursor_field>": "<ts>_<uri>"}
type CursorState struct {
	History map[string]time.Time
	// Cursor is nil when the state carries no cursor value
	Cursor *CursorValue
}

// NewCursorState returns an empty state
func NewCursorState() *CursorState {
	return &CursorState{History: make(map[string]time.Time)}
}

// IsEmpty reports whether the state has neither history nor cursor
func (s *CursorState) IsEmpty() bool {
	return s == nil || (len(s.History) == 0 && s.Cursor == nil)
}

// Clone returns a deep copy
func (s *CursorState) Clone() *CursorState {
	c := &CursorState{History: make(map[string]time.Time, len(s.History))}
	for uri, ts := range s.History {
		c.History[uri] = ts
	}
	if s.Cursor != nil {
		cv := *s.Cursor
		c.Cursor = &cv
	}
	return c
}

// HistoryStrings returns the history with timestamps rendered in TimestampLayout
func (s *CursorState) HistoryStrings() map[string]string {
	out := make(map[string]string, len(s.History))
	for uri, ts := range s.History {
		out[uri] = FormatTimestamp(ts)
	}
	return out
}

// Marshal encodes the state using cursorField as the key of the cursor value
func (s *CursorState) Marshal(cursorField string) ([]byte, error) {
	if cursorField == "" {
		cursorField = DefaultCursorField
	}
	doc := map[string]any{historyKey: s.HistoryStrings()}
	if s.Cursor != nil {
		doc[cursorField] = s.Cursor.String()
	}
	return json.Marshal(doc)
}

// ParseCursorState decodes a persisted state document.
// Empty input, "null" and "{}" yield an empty state. Any malformed timestamp or
// cursor value fails with ErrInvalidState; nothing is guessed or dropped.
// Keys other than "history" and cursorField are ignored.
func ParseCursorState(data []byte, cursorField string) (*CursorState, error) {
	if cursorField == "" {
		cursorField = DefaultCursorField
	}
	state := NewCursorState()

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return state, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: state is not a JSON object: %v", ErrInvalidState, err)
	}

	if raw, ok := doc[historyKey]; ok && !isNull(raw) {
		var history map[string]string
		if err := json.Unmarshal(raw, &history); err != nil {
			return nil, fmt.Errorf("%w: history must map uri to timestamp string: %v", ErrInvalidState, err)
		}
		for uri, ts := range history {
			t, err := ParseTimestamp(ts)
			if err != nil {
				return nil, fmt.Errorf("history entry %q: %w", uri, err)
			}
			state.History[uri] = t
		}
	}

	if raw, ok := doc[cursorField]; ok && !isNull(raw) {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("%w: %s must be a string: %v", ErrInvalidState, cursorField, err)
		}
		cv, err := ParseCursorValue(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cursorField, err)
		}
		state.Cursor = &cv
	}

	return state, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
