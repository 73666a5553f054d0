package cursor

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/domain/event"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (r *recorder) Dispatch(e event.DomainEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) Subscribe(event.EventHandler)   {}
func (r *recorder) Unsubscribe(event.EventHandler) {}

func (r *recorder) checkpoints() []event.StateCheckpointed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.StateCheckpointed
	for _, e := range r.events {
		if cp, ok := e.(event.StateCheckpointed); ok {
			out = append(out, cp)
		}
	}
	return out
}

func (r *recorder) warnings() []event.CursorWarning {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.CursorWarning
	for _, e := range r.events {
		if w, ok := e.(event.CursorWarning); ok {
			out = append(out, w)
		}
	}
	return out
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := domain.ParseTimestamp(s)
	require.NoError(t, err)
	return v
}

func file(t *testing.T, uri, ts string) domain.RemoteFile {
	t.Helper()
	return domain.NewRemoteFile(uri, mustTime(t, ts), 0)
}

func fixedClock(t *testing.T, ts string) func() time.Time {
	now := mustTime(t, ts)
	return func() time.Time { return now }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StreamName = "orders"
	return cfg
}

func newTestCursor(t *testing.T, cfg Config, state string) (*Cursor, *recorder) {
	t.Helper()
	rec := &recorder{}
	c, err := FromJSON(cfg, []byte(state), rec, zap.NewNop())
	require.NoError(t, err)
	return c, rec
}

func TestCursor_AddFileToEmptyState(t *testing.T) {
	c, rec := newTestCursor(t, testConfig(), `{}`)
	require.NoError(t, c.SetPendingPartitions(nil))

	require.NoError(t, c.AddFile(file(t, "a.csv", "2021-01-05T00:00:00.000000Z")))

	cps := rec.checkpoints()
	require.Len(t, cps, 1)
	data, err := cps[0].State.Marshal(cps[0].CursorField)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"history": {"a.csv": "2021-01-05T00:00:00.000000Z"},
		"_ab_source_file_last_modified": "2021-01-05T00:00:00.000000Z_a.csv"
	}`, string(data))
	assert.Equal(t, "orders", cps[0].Stream)
	assert.False(t, cps[0].Final)

	// a.csv was never pending
	require.Len(t, rec.warnings(), 1)
	assert.Equal(t, "a.csv", rec.warnings()[0].URI)
}

func TestCursor_AddPendingFileDoesNotWarn(t *testing.T) {
	c, rec := newTestCursor(t, testConfig(), `{}`)
	a := file(t, "a.csv", "2021-01-05T00:00:00.000000Z")
	require.NoError(t, c.SetPendingPartitions([]domain.Partition{{Files: []domain.RemoteFile{a}}}))

	require.NoError(t, c.AddFile(a))

	assert.Empty(t, rec.warnings())
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 1, c.HistorySize())
}

func TestCursor_AddFileBeforePendingSet(t *testing.T) {
	c, rec := newTestCursor(t, testConfig(), `{}`)

	err := c.AddFile(file(t, "a.csv", "2021-01-05T00:00:00.000000Z"))

	assert.ErrorIs(t, err, domain.ErrPendingNotSet)
	assert.Empty(t, rec.events)
	assert.Equal(t, 0, c.HistorySize())
}

func TestCursor_PrevSyncCursorOfEmptyState(t *testing.T) {
	c, _ := newTestCursor(t, testConfig(), ``)

	assert.Equal(t, domain.CursorValue{Timestamp: domain.MinTimestamp, URI: ""}, c.PrevSyncCursor())
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, domain.MinTimestamp, c.StartTime())
}

func TestCursor_PrevSyncCursor(t *testing.T) {
	tests := []struct {
		name  string
		state string
		want  string
	}{
		{
			name:  "cursor earlier than history",
			state: `{"history": {"b.csv": "2021-01-03T00:00:00.000000Z"}, "_ab_source_file_last_modified": "2021-01-02T00:00:00.000000Z_a.csv"}`,
			want:  "2021-01-02T00:00:00.000000Z_a.csv",
		},
		{
			name:  "history earlier than cursor",
			state: `{"history": {"b.csv": "2021-01-01T00:00:00.000000Z"}, "_ab_source_file_last_modified": "2021-01-02T00:00:00.000000Z_a.csv"}`,
			want:  "2021-01-01T00:00:00.000000Z_b.csv",
		},
		{
			name:  "history without cursor",
			state: `{"history": {"b.csv": "2021-01-01T00:00:00.000000Z"}}`,
			want:  "0001-01-01T00:00:00.000000Z_",
		},
		{
			name:  "cursor without history",
			state: `{"_ab_source_file_last_modified": "2021-01-02T00:00:00.000000Z_a.csv"}`,
			want:  "2021-01-02T00:00:00.000000Z_a.csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCursor(t, testConfig(), tt.state)
			assert.Equal(t, tt.want, c.PrevSyncCursor().String())
		})
	}
}

func TestCursor_NewCursorValueIsLowWaterMark(t *testing.T) {
	c, rec := newTestCursor(t, testConfig(), `{}`)
	assert.Equal(t, domain.ZeroCursorValue, c.NewCursorValue())

	a := file(t, "a.csv", "2021-01-01T00:00:00.000000Z")
	b := file(t, "b.csv", "2021-01-02T00:00:00.000000Z")
	cc := file(t, "c.csv", "2021-01-03T00:00:00.000000Z")
	require.NoError(t, c.SetPendingPartitions([]domain.Partition{
		{Files: []domain.RemoteFile{a}},
		{Files: []domain.RemoteFile{b, cc}},
	}))

	// c completes first while a is still in flight
	require.NoError(t, c.AddFile(cc))
	assert.Equal(t, a.CursorValue(), c.NewCursorValue())

	require.NoError(t, c.AddFile(b))
	assert.Equal(t, a.CursorValue(), c.NewCursorValue())

	require.NoError(t, c.AddFile(a))
	assert.Equal(t, a.CursorValue(), c.NewCursorValue())

	cps := rec.checkpoints()
	require.Len(t, cps, 3)
	for _, cp := range cps {
		assert.Equal(t, "2021-01-01T00:00:00.000000Z_a.csv", cp.CursorValue())
	}
	assert.Len(t, cps[2].State.History, 3)
}

func TestCursor_CheckpointNeverPassesFailedFile(t *testing.T) {
	c, rec := newTestCursor(t, testConfig(), `{}`)

	failing := file(t, "broken.csv", "2021-01-02T00:00:00.000000Z")
	later := file(t, "z.csv", "2021-01-05T00:00:00.000000Z")
	require.NoError(t, c.SetPendingPartitions([]domain.Partition{{Files: []domain.RemoteFile{failing, later}}}))

	require.NoError(t, c.AddFile(later))
	c.EnsureStateEmitted()

	cps := rec.checkpoints()
	require.Len(t, cps, 2)
	final := cps[1]
	assert.True(t, final.Final)
	assert.Equal(t, "2021-01-02T00:00:00.000000Z_broken.csv", final.CursorValue())

	resumed, _ := newTestCursor(t, testConfig(), mustMarshal(t, final.State))
	assert.True(t, resumed.ShouldSync(failing))
	assert.False(t, resumed.ShouldSync(later))
}

func TestCursor_EnsureStateEmittedWithoutFiles(t *testing.T) {
	c, rec := newTestCursor(t, testConfig(), `{"history": {"a.csv": "2021-01-01T00:00:00.000000Z"}}`)
	require.NoError(t, c.SetPendingPartitions(nil))

	c.EnsureStateEmitted()

	cps := rec.checkpoints()
	require.Len(t, cps, 1)
	assert.True(t, cps[0].Final)
	assert.Equal(t, "2021-01-01T00:00:00.000000Z_a.csv", cps[0].CursorValue())
}

func TestCursor_EmitStateOfEmptyCursor(t *testing.T) {
	c, rec := newTestCursor(t, testConfig(), `{}`)

	c.EmitState()

	cps := rec.checkpoints()
	require.Len(t, cps, 1)
	assert.Equal(t, "0001-01-01T00:00:00.000000Z_", cps[0].CursorValue())
}

func TestCursor_HistoryBoundedByCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHistorySize = 2
	c, _ := newTestCursor(t, cfg, `{}`)
	require.NoError(t, c.SetPendingPartitions(nil))

	require.NoError(t, c.AddFile(file(t, "a.csv", "2021-01-01T00:00:00.000000Z")))
	require.NoError(t, c.AddFile(file(t, "b.csv", "2021-01-02T00:00:00.000000Z")))
	require.NoError(t, c.AddFile(file(t, "c.csv", "2021-01-03T00:00:00.000000Z")))

	state := c.State()
	assert.Len(t, state.History, 2)
	assert.NotContains(t, state.History, "a.csv")
	assert.Equal(t, "2021-01-02T00:00:00.000000Z_b.csv", state.Cursor.String())
	assert.True(t, c.HistoryIsFull())
}

func TestCursor_LoweredCapacityTrimsLoadedHistory(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHistorySize = 2
	c, rec := newTestCursor(t, cfg, `{"history": {
		"a.csv": "2021-01-01T00:00:00.000000Z",
		"b.csv": "2021-01-02T00:00:00.000000Z",
		"c.csv": "2021-01-03T00:00:00.000000Z",
		"d.csv": "2021-01-04T00:00:00.000000Z"
	}}`)
	assert.Equal(t, 2, c.HistorySize())

	e := file(t, "e.csv", "2021-01-05T00:00:00.000000Z")
	require.NoError(t, c.SetPendingPartitions([]domain.Partition{{Files: []domain.RemoteFile{e}}}))
	require.NoError(t, c.AddFile(e))

	assert.Equal(t, 2, c.HistorySize())
	cps := rec.checkpoints()
	require.NotEmpty(t, cps)
	assert.Equal(t, map[string]time.Time{
		"d.csv": mustTime(t, "2021-01-04T00:00:00.000000Z"),
		"e.csv": mustTime(t, "2021-01-05T00:00:00.000000Z"),
	}, cps[len(cps)-1].State.History)
}

func TestCursor_SetPendingPartitionsRejectsDuplicates(t *testing.T) {
	c, _ := newTestCursor(t, testConfig(), `{}`)
	a := file(t, "a.csv", "2021-01-01T00:00:00.000000Z")

	err := c.SetPendingPartitions([]domain.Partition{{Files: []domain.RemoteFile{a}}, {Files: []domain.RemoteFile{a}}})

	assert.ErrorIs(t, err, domain.ErrDuplicatePendingFile)
}

func TestFromJSON_MalformedState(t *testing.T) {
	_, err := FromJSON(testConfig(), []byte(`{"history": {"a.csv": "2021-01-01"}}`), nil, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Contains(t, err.Error(), "orders")
}

func TestNew_AppliesDefaults(t *testing.T) {
	c := New(Config{StreamName: "s", MaxHistorySize: -1, DaysToSyncIfHistoryIsFull: -1}, nil, nil, nil)

	assert.Equal(t, domain.DefaultCursorField, c.CursorField())
	assert.Equal(t, DefaultMaxHistorySize, c.cfg.MaxHistorySize)
	assert.Equal(t, DefaultDaysToSyncIfHistoryIsFull, c.cfg.DaysToSyncIfHistoryIsFull)
	assert.NotNil(t, c.cfg.Now)
}

func TestCursor_ConcurrentCompletionOrderDoesNotMatter(t *testing.T) {
	base := mustTime(t, "2021-01-01T00:00:00.000000Z")
	var files []domain.RemoteFile
	for i := range 40 {
		// several files share a timestamp so the uri tie-break is exercised
		ts := base.Add(time.Duration(i/4) * time.Hour)
		files = append(files, domain.NewRemoteFile(string(rune('a'+i%26))+"-"+time.Duration(i).String()+".csv", ts, 0))
	}

	run := func(order []int) *domain.CursorState {
		c, _ := newTestCursor(t, testConfig(), `{}`)
		partitions := make([]domain.Partition, 0, 4)
		for p := range 4 {
			partitions = append(partitions, domain.Partition{Files: files[p*10 : (p+1)*10]})
		}
		require.NoError(t, c.SetPendingPartitions(partitions))

		var wg sync.WaitGroup
		for _, idx := range order {
			wg.Add(1)
			go func(f domain.RemoteFile) {
				defer wg.Done()
				assert.NoError(t, c.AddFile(f))
			}(files[idx])
		}
		wg.Wait()
		return c.State()
	}

	rng := rand.New(rand.NewPCG(7, 11))
	want := run(rng.Perm(len(files)))
	for range 5 {
		assert.Equal(t, want, run(rng.Perm(len(files))))
	}
	assert.Equal(t, files[0].CursorValue(), *want.Cursor)
}

func mustMarshal(t *testing.T, state *domain.CursorState) string {
	t.Helper()
	data, err := state.Marshal("")
	require.NoError(t, err)
	return string(data)
}
