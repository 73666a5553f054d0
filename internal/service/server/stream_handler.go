package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/port"
	"github.com/vertextoedge/filesync/internal/service/syncer"
)

// StreamHandler serves stream states
type StreamHandler struct {
	store  port.StateStore
	runner Runner
	logger *zap.Logger
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(store port.StateStore, runner Runner, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		store:  store,
		runner: runner,
		logger: logger,
	}
}

// StreamSummary is the API view of a stream
type StreamSummary struct {
	Name        string     `json:"name"`
	Configured  bool       `json:"configured"`
	Running     bool       `json:"running"`
	CursorField string     `json:"cursor_field,omitempty"`
	CursorValue string     `json:"cursor_value,omitempty"`
	HistorySize int        `json:"history_size"`
	Final       bool       `json:"final"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// StreamDetail adds the history table to a summary
type StreamDetail struct {
	StreamSummary
	History map[string]string `json:"history"`
}

// CheckpointView is one entry of the checkpoint log
type CheckpointView struct {
	CursorValue string    `json:"cursor_value"`
	HistorySize int       `json:"history_size"`
	Final       bool      `json:"final"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *StreamHandler) configured(name string) bool {
	return h.runner != nil && slices.Contains(h.runner.Streams(), name)
}

func (h *StreamHandler) summary(name string, st *port.StreamState) StreamSummary {
	s := StreamSummary{
		Name:       name,
		Configured: h.configured(name),
		Running:    h.runner != nil && h.runner.IsRunning(name),
	}
	if st != nil {
		updated := st.UpdatedAt
		s.CursorField = st.CursorField
		s.CursorValue = st.CursorValue
		s.HistorySize = st.HistorySize
		s.Final = st.Final
		s.UpdatedAt = &updated
	}
	return s
}

// HandleList lists configured streams and any stream with a stored state
func (h *StreamHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	states, err := h.store.ListStates(r.Context())
	if err != nil {
		h.logger.Error("failed to list states", zap.Error(err))
		http.Error(w, "Failed to list streams", http.StatusInternalServerError)
		return
	}

	byName := make(map[string]*port.StreamState, len(states))
	for _, st := range states {
		byName[st.Stream] = st
	}

	var names []string
	if h.runner != nil {
		names = h.runner.Streams()
	}
	for _, st := range states {
		if !slices.Contains(names, st.Stream) {
			names = append(names, st.Stream)
		}
	}
	slices.Sort(names)

	out := make([]StreamSummary, 0, len(names))
	for _, name := range names {
		out = append(out, h.summary(name, byName[name]))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGet returns a stream with its history table
func (h *StreamHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	st, err := h.store.GetState(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to get state", zap.String("stream", name), zap.Error(err))
		http.Error(w, "Failed to get stream", http.StatusInternalServerError)
		return
	}
	if st == nil && !h.configured(name) {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	detail := StreamDetail{StreamSummary: h.summary(name, st), History: map[string]string{}}
	if st != nil {
		state, err := domain.ParseCursorState(st.State, st.CursorField)
		if err != nil {
			h.logger.Warn("stored state is malformed", zap.String("stream", name), zap.Error(err))
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		detail.History = state.HistoryStrings()
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleCheckpoints returns the most recent checkpoints of a stream
func (h *StreamHandler) HandleCheckpoints(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	checkpoints, err := h.store.ListCheckpoints(r.Context(), name, limit)
	if err != nil {
		h.logger.Error("failed to list checkpoints", zap.String("stream", name), zap.Error(err))
		http.Error(w, "Failed to list checkpoints", http.StatusInternalServerError)
		return
	}

	out := make([]CheckpointView, 0, len(checkpoints))
	for _, cp := range checkpoints {
		out = append(out, CheckpointView{
			CursorValue: cp.CursorValue,
			HistorySize: cp.HistorySize,
			Final:       cp.Final,
			CreatedAt:   cp.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleSync starts a run of a stream in the background
func (h *StreamHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !h.configured(name) {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}
	if h.runner.IsRunning(name) {
		http.Error(w, "Sync already running", http.StatusConflict)
		return
	}

	go func() {
		result, err := h.runner.RunStream(context.Background(), name)
		switch {
		case errors.Is(err, syncer.ErrRunInProgress):
			h.logger.Debug("requested sync already running", zap.String("stream", name))
		case err != nil:
			h.logger.Warn("requested sync failed", zap.String("stream", name), zap.Error(err))
		default:
			h.logger.Info("requested sync finished", zap.String("stream", name), zap.Int("synced", result.Synced))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"stream": name, "status": "started"})
}
