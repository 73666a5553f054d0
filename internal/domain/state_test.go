package domain

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCursorState_Empty(t *testing.T) {
	for _, input := range []string{"", "  ", "null", "{}", `{"history": null}`} {
		state, err := ParseCursorState([]byte(input), "")
		require.NoError(t, err, "input %q", input)
		assert.True(t, state.IsEmpty(), "input %q", input)
		assert.NotNil(t, state.History)
	}
}

func TestParseCursorState_Valid(t *testing.T) {
	input := `{
		"history": {
			"file1.txt": "2023-08-01T10:11:12.000000Z",
			"file3.txt": "2023-07-31T23:59:59.999999Z"
		},
		"_ab_source_file_last_modified": "2023-08-01T10:11:12.000000Z_file1.txt",
		"v3_min_sync_date": "2023-07-31T23:00:00.000000Z"
	}`

	state, err := ParseCursorState([]byte(input), DefaultCursorField)
	require.NoError(t, err)

	require.Len(t, state.History, 2)
	assert.Equal(t, time.Date(2023, 7, 31, 23, 59, 59, 999999000, time.UTC), state.History["file3.txt"])
	require.NotNil(t, state.Cursor)
	assert.Equal(t, "file1.txt", state.Cursor.URI)
}

func TestParseCursorState_CustomCursorField(t *testing.T) {
	input := `{"history": {}, "last_modified": "2023-08-01T10:11:12.000000Z_a.csv", "_ab_source_file_last_modified": "garbage"}`

	state, err := ParseCursorState([]byte(input), "last_modified")
	require.NoError(t, err)
	require.NotNil(t, state.Cursor)
	assert.Equal(t, "a.csv", state.Cursor.URI)
}

func TestParseCursorState_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: `{history`},
		{name: "array document", input: `[]`},
		{name: "history not an object", input: `{"history": ["a.csv"]}`},
		{name: "legacy date-keyed history", input: `{"history": {"2023-08-01": ["file1.txt"]}}`},
		{name: "history timestamp without micros", input: `{"history": {"a.csv": "2023-08-01T00:00:00Z"}}`},
		{name: "cursor not a string", input: `{"_ab_source_file_last_modified": 12}`},
		{name: "cursor without uri separator", input: `{"_ab_source_file_last_modified": "2023-08-01T00:00:00.000000Z"}`},
		{name: "cursor bad timestamp", input: `{"_ab_source_file_last_modified": "yesterday_a.csv"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCursorState([]byte(tt.input), "")
			assert.ErrorIs(t, err, ErrInvalidState)
		})
	}
}

func TestCursorState_MarshalRoundTrip(t *testing.T) {
	cv := CursorValue{Timestamp: time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC), URI: "a.csv"}
	state := &CursorState{
		History: map[string]time.Time{"a.csv": cv.Timestamp},
		Cursor:  &cv,
	}

	data, err := state.Marshal("")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string]any{
		"history":                       map[string]any{"a.csv": "2021-01-05T00:00:00.000000Z"},
		"_ab_source_file_last_modified": "2021-01-05T00:00:00.000000Z_a.csv",
	}, doc)

	parsed, err := ParseCursorState(data, "")
	require.NoError(t, err)
	assert.Equal(t, state, parsed)
}

func TestCursorState_Clone(t *testing.T) {
	cv := ZeroCursorValue
	state := &CursorState{History: map[string]time.Time{"a.csv": MinTimestamp}, Cursor: &cv}

	clone := state.Clone()
	clone.History["b.csv"] = MinTimestamp
	clone.Cursor.URI = "changed"

	assert.Len(t, state.History, 1)
	assert.Equal(t, "", state.Cursor.URI)
}
