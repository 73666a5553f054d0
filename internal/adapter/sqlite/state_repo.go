package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vertextoedge/filesync/internal/port"
)

// timeLayout sorts lexically, so created_at can be compared as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// LoadState returns the state document of a stream, or nil when none was saved
func (s *Store) LoadState(ctx context.Context, stream string) ([]byte, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM stream_state WHERE stream = ?`, stream).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state of %s: %w", stream, err)
	}
	return []byte(state), nil
}

// SaveState upserts the stream state and appends a checkpoint log entry
func (s *Store) SaveState(ctx context.Context, st *port.StreamState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	ts := formatTime(st.UpdatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stream_state (stream, cursor_field, state, cursor_value, history_size, final, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream) DO UPDATE SET
			cursor_field = excluded.cursor_field,
			state = excluded.state,
			cursor_value = excluded.cursor_value,
			history_size = excluded.history_size,
			final = excluded.final,
			updated_at = excluded.updated_at
	`, st.Stream, st.CursorField, string(st.State), st.CursorValue, st.HistorySize, st.Final, ts)
	if err != nil {
		return fmt.Errorf("failed to save state of %s: %w", st.Stream, err)
	}

	logged, compressed := s.codec.encode(st.State)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (stream, cursor_field, state, compressed, cursor_value, history_size, final, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, st.Stream, st.CursorField, logged, compressed, st.CursorValue, st.HistorySize, st.Final, ts)
	if err != nil {
		return fmt.Errorf("failed to append checkpoint of %s: %w", st.Stream, err)
	}

	return tx.Commit()
}

// GetState returns the stored row of a stream, or nil when none was saved
func (s *Store) GetState(ctx context.Context, stream string) (*port.StreamState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stream, cursor_field, state, cursor_value, history_size, final, updated_at
		FROM stream_state
		WHERE stream = ?
	`, stream)

	st, err := scanStreamState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// DeleteState removes the state and checkpoint log of a stream
func (s *Store) DeleteState(ctx context.Context, stream string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stream_state WHERE stream = ?`, stream); err != nil {
		return fmt.Errorf("failed to delete state of %s: %w", stream, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE stream = ?`, stream); err != nil {
		return fmt.Errorf("failed to delete checkpoints of %s: %w", stream, err)
	}

	return tx.Commit()
}

// ListStates returns every stored stream state ordered by stream name
func (s *Store) ListStates(ctx context.Context) ([]*port.StreamState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stream, cursor_field, state, cursor_value, history_size, final, updated_at
		FROM stream_state
		ORDER BY stream
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*port.StreamState
	for rows.Next() {
		st, err := scanStreamState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	return states, rows.Err()
}

// ListCheckpoints returns the most recent checkpoints of a stream, newest first
func (s *Store) ListCheckpoints(ctx context.Context, stream string, limit int) ([]*port.StreamState, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stream, cursor_field, state, compressed, cursor_value, history_size, final, created_at
		FROM checkpoints
		WHERE stream = ?
		ORDER BY id DESC
		LIMIT ?
	`, stream, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*port.StreamState
	for rows.Next() {
		st := &port.StreamState{}
		var data []byte
		var compressed bool
		var ts string
		if err := rows.Scan(&st.Stream, &st.CursorField, &data, &compressed, &st.CursorValue, &st.HistorySize, &st.Final, &ts); err != nil {
			return nil, err
		}
		if st.State, err = s.codec.decode(data, compressed); err != nil {
			return nil, fmt.Errorf("stream %s: corrupt checkpoint: %w", stream, err)
		}
		if st.UpdatedAt, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("stream %s: malformed timestamp %q: %w", stream, ts, err)
		}
		checkpoints = append(checkpoints, st)
	}

	return checkpoints, rows.Err()
}

// PruneCheckpoints deletes checkpoint log entries older than the given time.
// The latest state of every stream lives in stream_state and is never pruned.
func (s *Store) PruneCheckpoints(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE created_at < ?`, formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStreamState(row scanner) (*port.StreamState, error) {
	st := &port.StreamState{}
	var state, ts string

	err := row.Scan(&st.Stream, &st.CursorField, &state, &st.CursorValue, &st.HistorySize, &st.Final, &ts)
	if err != nil {
		return nil, err
	}

	st.State = []byte(state)
	st.UpdatedAt, err = parseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("stream %s: malformed timestamp %q: %w", st.Stream, ts, err)
	}

	return st, nil
}
