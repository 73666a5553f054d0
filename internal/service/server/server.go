package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/port"
	"github.com/vertextoedge/filesync/internal/service/syncer"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr string
	// AdminUsername and AdminPassword protect the mutating endpoints.
	// When empty those endpoints are not registered.
	AdminUsername string
	AdminPassword string
	EnableEvents  bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8080",
		EnableEvents: true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Runner is the part of the syncer the API drives
type Runner interface {
	Streams() []string
	IsRunning(name string) bool
	RunStream(ctx context.Context, name string) (*syncer.RunResult, error)
}

// Server represents the HTTP API server
type Server struct {
	config  *Config
	store   port.StateStore
	dests   []port.FileSystem
	logger  *zap.Logger
	server  *http.Server
	streams *StreamHandler
	events  *EventHub
}

// New creates a new HTTP server. metrics and events may be nil.
func New(cfg *Config, store port.StateStore, runner Runner, dests []port.FileSystem, metrics http.Handler, events *EventHub, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:  cfg,
		store:   store,
		dests:   dests,
		logger:  logger,
		streams: NewStreamHandler(store, runner, logger),
		events:  events,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.HandleFunc("GET /api/streams", s.streams.HandleList)
	mux.HandleFunc("GET /api/streams/{name}", s.streams.HandleGet)
	mux.HandleFunc("GET /api/streams/{name}/checkpoints", s.streams.HandleCheckpoints)

	if cfg.AdminUsername != "" {
		adminAuth := BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger)
		mux.HandleFunc("POST /api/streams/{name}/sync", adminAuth(s.streams.HandleSync))
	}

	if cfg.EnableEvents && events != nil {
		mux.Handle("GET /api/events", events)
	}

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	if s.events != nil {
		s.events.Close()
	}
	return s.server.Shutdown(ctx)
}

type volumeStatus struct {
	Root    string  `json:"root"`
	UsedPct float64 `json:"used_pct"`
	Free    uint64  `json:"free_bytes"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
		return
	}

	volumes := make([]volumeStatus, 0, len(s.dests))
	for _, dest := range s.dests {
		usage, err := dest.DiskUsage()
		if err != nil {
			s.logger.Warn("failed to read disk usage", zap.String("root", dest.RootDir()), zap.Error(err))
			continue
		}
		volumes = append(volumes, volumeStatus{Root: dest.RootDir(), UsedPct: usage.UsedPct, Free: usage.Free})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"time":    time.Now().Format(time.RFC3339),
		"volumes": volumes,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
