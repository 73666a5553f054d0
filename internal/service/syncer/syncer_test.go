package syncer

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/adapter/filesystem"
	"github.com/vertextoedge/filesync/internal/adapter/sqlite"
	"github.com/vertextoedge/filesync/internal/cursor"
	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/domain/event"
	"github.com/vertextoedge/filesync/internal/port"
	"github.com/vertextoedge/filesync/internal/service/checkpoint"
)

// memSource is an in-memory port.Source
type memSource struct {
	mu       sync.Mutex
	files    map[string]domain.RemoteFile
	failures map[string][]error // errors returned by successive opens
	opens    map[string]int
	listed   chan struct{}
	block    chan struct{}
}

func newMemSource() *memSource {
	return &memSource{
		files:    make(map[string]domain.RemoteFile),
		failures: make(map[string][]error),
		opens:    make(map[string]int),
	}
}

func (s *memSource) put(uri, ts string) {
	v, err := domain.ParseTimestamp(ts)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.files[uri] = domain.NewRemoteFile(uri, v, int64(len(uri)))
	s.mu.Unlock()
}

func (s *memSource) fail(uri string, errs ...error) {
	s.mu.Lock()
	s.failures[uri] = errs
	s.mu.Unlock()
}

func (s *memSource) Name() string { return "mem://test" }

func (s *memSource) ListFiles(ctx context.Context) ([]domain.RemoteFile, error) {
	if s.listed != nil {
		close(s.listed)
	}
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RemoteFile, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	return out, nil
}

func (s *memSource) OpenFile(ctx context.Context, file domain.RemoteFile) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens[file.URI]++
	if errs := s.failures[file.URI]; len(errs) > 0 {
		err := errs[0]
		s.failures[file.URI] = errs[1:]
		return nil, err
	}
	return io.NopCloser(strings.NewReader(file.URI)), nil
}

func (s *memSource) openCount(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[uri]
}

// collector records dispatched events of interest
type collector struct {
	mu     sync.Mutex
	synced []string
	failed []event.FileFailed
	runs   []event.SyncCompleted
}

func (c *collector) Handle(e event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev := e.(type) {
	case event.FileSynced:
		c.synced = append(c.synced, ev.URI)
	case event.FileFailed:
		c.failed = append(c.failed, ev)
	case event.SyncCompleted:
		c.runs = append(c.runs, ev)
	}
	return nil
}

func (c *collector) HandledEvents() []string {
	return []string{event.NameFileSynced, event.NameFileFailed, event.NameSyncCompleted}
}

type harness struct {
	syncer    *Syncer
	source    *memSource
	store     *sqlite.Store
	dest      afero.Fs
	events    *collector
	persister *checkpoint.Persister
}

func newHarness(t *testing.T, configure func(st *Stream)) *harness {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	destFs := afero.NewMemMapFs()
	dest, err := filesystem.NewManagerWithFs(destFs, "/dest", 0)
	require.NoError(t, err)

	dispatcher := event.NewInMemoryDispatcher(false)
	persister := checkpoint.NewPersister(checkpoint.Config{}, store, zap.NewNop())
	dispatcher.Subscribe(persister)
	events := &collector{}
	dispatcher.Subscribe(events)

	source := newMemSource()
	st := &Stream{
		Name:   "orders",
		Source: source,
		Dest:   dest,
		Cursor: cursor.Config{
			MaxHistorySize:            100,
			DaysToSyncIfHistoryIsFull: 3,
			Now:                       func() time.Time { return time.Date(2021, 1, 10, 0, 0, 0, 0, time.UTC) },
		},
		FilesPerPartition: 2,
	}
	if configure != nil {
		configure(st)
	}

	cfg := &Config{
		Concurrency:  3,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
	s, err := New(cfg, []*Stream{st}, store, persister, dispatcher, zap.NewNop())
	require.NoError(t, err)

	return &harness{syncer: s, source: source, store: store, dest: destFs, events: events, persister: persister}
}

func (h *harness) savedState(t *testing.T) *domain.CursorState {
	t.Helper()
	data, err := h.store.LoadState(context.Background(), "orders")
	require.NoError(t, err)
	require.NotNil(t, data)
	state, err := domain.ParseCursorState(data, "")
	require.NoError(t, err)
	return state
}

func TestRunStream_IncrementalRuns(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.source.put("a.csv", "2021-01-01T00:00:00.000000Z")
	h.source.put("b.csv", "2021-01-02T00:00:00.000000Z")
	h.source.put("c.csv", "2021-01-02T00:00:00.000000Z")

	result, err := h.syncer.RunStream(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Listed)
	assert.Equal(t, 3, result.Selected)
	assert.Equal(t, 3, result.Synced)
	assert.Equal(t, "2021-01-01T00:00:00.000000Z_a.csv", result.Cursor)

	state := h.savedState(t)
	assert.Len(t, state.History, 3)
	require.NotNil(t, state.Cursor)
	assert.Equal(t, "2021-01-01T00:00:00.000000Z_a.csv", state.Cursor.String())

	content, err := afero.ReadFile(h.dest, "/dest/b.csv")
	require.NoError(t, err)
	assert.Equal(t, "b.csv", string(content))

	// unchanged source: nothing to do
	result, err = h.syncer.RunStream(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Selected)

	// a modified file is picked up again
	h.source.put("b.csv", "2021-01-05T00:00:00.000000Z")
	result, err = h.syncer.RunStream(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 2, h.source.openCount("b.csv"))
	assert.Equal(t, 1, h.source.openCount("a.csv"))

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	assert.Len(t, h.events.runs, 3)
	assert.Equal(t, 4, len(h.events.synced))
}

func TestRunStream_FailedFileStaysBehindCheckpoint(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.source.put("a.csv", "2021-01-01T00:00:00.000000Z")
	h.source.put("b.csv", "2021-01-02T00:00:00.000000Z")
	h.source.put("c.csv", "2021-01-03T00:00:00.000000Z")
	h.source.fail("b.csv", errors.New("permission denied"))

	result, err := h.syncer.RunStream(ctx, "orders")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFilesFailed)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Failed)
	// the earliest history entry is older than the failed file
	assert.Equal(t, "2021-01-01T00:00:00.000000Z_a.csv", result.Cursor)

	state := h.savedState(t)
	assert.NotContains(t, state.History, "b.csv")
	assert.Contains(t, state.History, "c.csv")

	// next run retries only the failed file
	result, err = h.syncer.RunStream(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Selected)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 2, h.source.openCount("b.csv"))
}

func TestRunStream_RetriesRetryableErrors(t *testing.T) {
	h := newHarness(t, nil)

	h.source.put("a.csv", "2021-01-01T00:00:00.000000Z")
	throttled := domain.NewRetryableError(errors.New("slow down"), time.Millisecond)
	h.source.fail("a.csv", throttled, throttled)

	result, err := h.syncer.RunStream(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 3, h.source.openCount("a.csv"))
}

func TestRunStream_GivesUpAfterMaxRetries(t *testing.T) {
	h := newHarness(t, nil)

	h.source.put("a.csv", "2021-01-01T00:00:00.000000Z")
	throttled := domain.NewRetryableError(errors.New("slow down"), time.Millisecond)
	h.source.fail("a.csv", throttled, throttled, throttled, throttled)

	result, err := h.syncer.RunStream(context.Background(), "orders")
	require.ErrorIs(t, err, ErrFilesFailed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, h.source.openCount("a.csv"))
}

func TestRunStream_VanishedFileIsSkipped(t *testing.T) {
	h := newHarness(t, nil)

	h.source.put("a.csv", "2021-01-01T00:00:00.000000Z")
	h.source.fail("a.csv", domain.ErrSkipFileVanished)

	result, err := h.syncer.RunStream(context.Background(), "orders")
	require.Error(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, h.source.openCount("a.csv"), "skippable errors are not retried")

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	require.Len(t, h.events.failed, 1)
	assert.True(t, h.events.failed[0].Skipped)
}

func TestRunStream_GlobFilter(t *testing.T) {
	filter, err := NewFilter([]string{"*.csv"})
	require.NoError(t, err)
	h := newHarness(t, func(st *Stream) { st.Filter = filter })

	h.source.put("a.csv", "2021-01-01T00:00:00.000000Z")
	h.source.put("a.json", "2021-01-01T00:00:00.000000Z")

	result, err := h.syncer.RunStream(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Listed)
	assert.Equal(t, 0, h.source.openCount("a.json"))
}

func TestRunStream_MalformedStateFails(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.source.put("a.csv", "2021-01-01T00:00:00.000000Z")

	require.NoError(t, h.store.SaveState(ctx, &port.StreamState{
		Stream:      "orders",
		CursorField: domain.DefaultCursorField,
		State:       []byte(`{"history": ["a.csv"]}`),
	}))

	_, err := h.syncer.RunStream(ctx, "orders")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Contains(t, err.Error(), "orders")
	assert.Equal(t, 0, h.source.openCount("a.csv"))
}

func TestRunStream_EmptySourceStillCheckpoints(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.syncer.RunStream(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, domain.ZeroCursorValue.String(), result.Cursor)

	st, err := h.store.GetState(context.Background(), "orders")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Final)
}

func TestRunStream_UnknownStream(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.syncer.RunStream(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrUnknownStream)
}

func TestRunStream_RejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, nil)
	h.source.listed = make(chan struct{})
	h.source.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.syncer.RunStream(context.Background(), "orders")
		done <- err
	}()

	<-h.source.listed
	assert.True(t, h.syncer.IsRunning("orders"))
	_, err := h.syncer.RunStream(context.Background(), "orders")
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(h.source.block)
	require.NoError(t, <-done)
	assert.False(t, h.syncer.IsRunning("orders"))
}

func TestRunAll_CombinesErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.source.put("a.csv", "2021-01-01T00:00:00.000000Z")
	h.source.fail("a.csv", errors.New("boom"))

	err := h.syncer.RunAll(context.Background())
	assert.ErrorIs(t, err, ErrFilesFailed)
}

func TestNew_RejectsDuplicateStreams(t *testing.T) {
	dest := &mockFileSystem{}
	streams := []*Stream{
		{Name: "a", Source: newMemSource(), Dest: dest},
		{Name: "a", Source: newMemSource(), Dest: dest},
	}
	_, err := New(nil, streams, nil, nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = New(nil, []*Stream{{Name: "b"}}, nil, nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, nil)
	h.source.put("a.csv", "2021-01-01T00:00:00.000000Z")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.syncer.Start(ctx) }()

	assert.Eventually(t, func() bool {
		return h.source.openCount("a.csv") == 1
	}, time.Second, 5*time.Millisecond)

	h.syncer.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}
