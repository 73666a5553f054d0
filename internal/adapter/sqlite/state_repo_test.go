package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vertextoedge/filesync/internal/port"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "filesync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_LoadMissingState(t *testing.T) {
	store := openTestStore(t)

	data, err := store.LoadState(context.Background(), "orders")
	require.NoError(t, err)
	assert.Nil(t, data)

	st, err := store.GetState(context.Background(), "orders")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStore_SaveAndLoadState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	updated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := &port.StreamState{
		Stream:      "orders",
		CursorField: "_ab_source_file_last_modified",
		State:       []byte(`{"history":{}}`),
		CursorValue: "0001-01-01T00:00:00.000000Z_",
		UpdatedAt:   updated,
	}
	require.NoError(t, store.SaveState(ctx, first))

	second := &port.StreamState{
		Stream:      "orders",
		CursorField: "_ab_source_file_last_modified",
		State:       []byte(`{"history":{"a.csv":"2021-01-05T00:00:00.000000Z"}}`),
		CursorValue: "2021-01-05T00:00:00.000000Z_a.csv",
		HistorySize: 1,
		Final:       true,
		UpdatedAt:   updated.Add(time.Minute),
	}
	require.NoError(t, store.SaveState(ctx, second))

	data, err := store.LoadState(ctx, "orders")
	require.NoError(t, err)
	assert.JSONEq(t, string(second.State), string(data))

	st, err := store.GetState(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, second.CursorValue, st.CursorValue)
	assert.Equal(t, 1, st.HistorySize)
	assert.True(t, st.Final)
	assert.True(t, second.UpdatedAt.Equal(st.UpdatedAt))

	checkpoints, err := store.ListCheckpoints(ctx, "orders", 10)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	assert.Equal(t, second.CursorValue, checkpoints[0].CursorValue)
	assert.Equal(t, first.CursorValue, checkpoints[1].CursorValue)
}

func TestStore_ListAndDeleteStates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha"} {
		require.NoError(t, store.SaveState(ctx, &port.StreamState{
			Stream:      name,
			CursorField: "c",
			State:       []byte(`{}`),
		}))
	}

	states, err := store.ListStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "alpha", states[0].Stream)
	assert.Equal(t, "zeta", states[1].Stream)

	require.NoError(t, store.DeleteState(ctx, "alpha"))

	states, err = store.ListStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)

	checkpoints, err := store.ListCheckpoints(ctx, "alpha", 0)
	require.NoError(t, err)
	assert.Empty(t, checkpoints)
}

func TestStore_PruneCheckpoints(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		require.NoError(t, store.SaveState(ctx, &port.StreamState{
			Stream:      "orders",
			CursorField: "c",
			State:       []byte(`{}`),
			UpdatedAt:   now.Add(-age),
		}))
	}

	deleted, err := store.PruneCheckpoints(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	checkpoints, err := store.ListCheckpoints(ctx, "orders", 10)
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)

	data, err := store.LoadState(ctx, "orders")
	require.NoError(t, err)
	assert.NotNil(t, data, "latest state survives pruning")
}

func TestStore_Ping(t *testing.T) {
	assert.NoError(t, openTestStore(t).Ping())
}

func TestStore_CompressedCheckpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filesync.db")
	ctx := context.Background()
	doc := []byte(`{"history":{"a.csv":"2021-01-05T00:00:00.000000Z","b.csv":"2021-01-06T00:00:00.000000Z"}}`)

	store, err := Open(path, WithCompressedCheckpoints(true))
	require.NoError(t, err)
	require.NoError(t, store.SaveState(ctx, &port.StreamState{Stream: "orders", CursorField: "c", State: doc}))

	var raw []byte
	require.NoError(t, store.db.QueryRow(`SELECT state FROM checkpoints`).Scan(&raw))
	assert.NotEqual(t, doc, raw)
	require.NoError(t, store.Close())

	// rows written compressed stay readable without the option
	plain, err := Open(path)
	require.NoError(t, err)
	defer plain.Close()
	require.NoError(t, plain.SaveState(ctx, &port.StreamState{Stream: "orders", CursorField: "c", State: []byte(`{}`)}))

	checkpoints, err := plain.ListCheckpoints(ctx, "orders", 0)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	assert.JSONEq(t, `{}`, string(checkpoints[0].State))
	assert.JSONEq(t, string(doc), string(checkpoints[1].State))

	data, err := plain.LoadState(ctx, "orders")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}
