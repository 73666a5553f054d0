package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// Interval is how often housekeeping runs
	Interval time.Duration

	// CheckpointRetention is how long checkpoint log entries are kept
	CheckpointRetention time.Duration

	// TempFileMaxAge is the maximum age of temp files before cleanup
	TempFileMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:            time.Hour,
		CheckpointRetention: 7 * 24 * time.Hour,
		TempFileMaxAge:      24 * time.Hour,
	}
}

// Service prunes the checkpoint log and abandoned temp files
type Service struct {
	config *Config
	store  port.StateStore
	dests  []port.FileSystem
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, store port.StateStore, dests []port.FileSystem, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.CheckpointRetention == 0 {
		cfg.CheckpointRetention = 7 * 24 * time.Hour
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = 24 * time.Hour
	}

	return &Service{
		config: cfg,
		store:  store,
		dests:  dests,
		now:    time.Now,
		logger: logger,
	}
}

// Start runs housekeeping once and then on every interval until ctx is done
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("checkpoint_retention", s.config.CheckpointRetention))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one housekeeping pass
func (s *Service) RunOnce(ctx context.Context) {
	s.pruneCheckpoints(ctx)
	s.cleanupTempFiles()
}

func (s *Service) pruneCheckpoints(ctx context.Context) {
	cutoff := s.now().Add(-s.config.CheckpointRetention)
	pruned, err := s.store.PruneCheckpoints(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to prune checkpoints", zap.Error(err))
	} else if pruned > 0 {
		s.logger.Info("pruned old checkpoints", zap.Int("count", pruned), zap.Time("before", cutoff))
	}
}

func (s *Service) cleanupTempFiles() {
	for _, dest := range s.dests {
		fileCount, err := dest.CleanOldTempFiles(s.config.TempFileMaxAge)
		if err != nil {
			s.logger.Error("failed to cleanup old temp files", zap.String("root", dest.RootDir()), zap.Error(err))
		} else if fileCount > 0 {
			s.logger.Info("cleaned up old temp files", zap.String("root", dest.RootDir()), zap.Int("count", fileCount))
		}
	}
}
