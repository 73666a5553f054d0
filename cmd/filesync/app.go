package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/adapter/filesystem"
	"github.com/vertextoedge/filesync/internal/adapter/gcs"
	"github.com/vertextoedge/filesync/internal/adapter/local"
	"github.com/vertextoedge/filesync/internal/adapter/s3"
	"github.com/vertextoedge/filesync/internal/adapter/sqlite"
	"github.com/vertextoedge/filesync/internal/adapter/synology"
	"github.com/vertextoedge/filesync/internal/config"
	"github.com/vertextoedge/filesync/internal/cursor"
	"github.com/vertextoedge/filesync/internal/domain/event"
	"github.com/vertextoedge/filesync/internal/logger"
	"github.com/vertextoedge/filesync/internal/metrics"
	"github.com/vertextoedge/filesync/internal/port"
	"github.com/vertextoedge/filesync/internal/service/checkpoint"
	"github.com/vertextoedge/filesync/internal/service/server"
	"github.com/vertextoedge/filesync/internal/service/syncer"
)

// app holds the wired services shared by the sync and serve commands
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *sqlite.Store
	dispatcher *event.InMemoryDispatcher
	persister  *checkpoint.Persister
	metrics    *metrics.Metrics
	hub        *server.EventHub
	syncer     *syncer.Syncer
	dests      []port.FileSystem

	synology *synology.Client
	gcs      *gcs.Client
}

// appOptions selects the optional parts of the wiring
type appOptions struct {
	// events enables the websocket event hub
	events bool
	// watch attaches change notifiers to streams with watch enabled
	watch bool
}

func openStore(cfg *config.Config) (*sqlite.Store, error) {
	store, err := sqlite.Open(cfg.Database.Path,
		sqlite.WithCompressedCheckpoints(cfg.Database.CompressCheckpoints))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}
	return store, nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	log := logger.GetZapLogger()

	a := &app{
		cfg:        cfg,
		logger:     log,
		dispatcher: event.NewInMemoryDispatcher(false),
		metrics:    metrics.New(),
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if a.store, err = openStore(cfg); err != nil {
		return nil, err
	}

	a.persister = checkpoint.NewPersister(checkpoint.Config{
		Interval: cfg.Database.GetCheckpointInterval(),
	}, a.store, log)

	a.dispatcher.OnError(func(ev event.DomainEvent, err error) {
		log.Error("event handler failed", zap.String("event", ev.EventName()), zap.Error(err))
	})
	a.dispatcher.Subscribe(event.NewLoggingHandler(log))
	a.dispatcher.Subscribe(event.NewMetricsHandler(a.metrics))
	a.dispatcher.Subscribe(a.persister)
	if opts.events {
		a.hub = server.NewEventHub(log)
		a.dispatcher.Subscribe(a.hub)
	}

	streams := make([]*syncer.Stream, 0, len(cfg.Streams))
	for i := range cfg.Streams {
		st, err := a.buildStream(ctx, &cfg.Streams[i], opts.watch)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", cfg.Streams[i].Name, err)
		}
		streams = append(streams, st)
	}

	a.syncer, err = syncer.New(&syncer.Config{
		Interval:            cfg.Sync.GetInterval(),
		Concurrency:         cfg.Sync.Concurrency,
		MaxRetries:          cfg.Sync.MaxRetries,
		RetryBackoff:        cfg.Sync.GetRetryBackoff(),
		MaxDiskUsagePercent: float64(cfg.Sync.MaxDiskUsagePercent),
		OpensPerSecond:      cfg.Sync.OpensPerSecond,
	}, streams, a.store, a.persister, a.dispatcher, log)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *app) buildStream(ctx context.Context, sc *config.StreamConfig, watch bool) (*syncer.Stream, error) {
	log := logger.ForStream(sc.Name)

	source, err := a.buildSource(ctx, sc, log)
	if err != nil {
		return nil, err
	}

	destDir := sc.DestinationDir
	if destDir == "" {
		destDir = sc.Name
	}
	if !filepath.IsAbs(destDir) {
		destDir = filepath.Join(a.cfg.Sync.DestinationRoot, destDir)
	}
	dest, err := filesystem.NewManagerWithFs(afero.NewOsFs(), destDir, a.cfg.Sync.GetBufferSize())
	if err != nil {
		return nil, err
	}
	a.dests = append(a.dests, dest)

	filter, err := syncer.NewFilter(sc.Globs)
	if err != nil {
		return nil, err
	}

	st := &syncer.Stream{
		Name:   sc.Name,
		Source: source,
		Dest:   dest,
		Filter: filter,
		Cursor: cursor.Config{
			CursorField:               sc.CursorField,
			MaxHistorySize:            sc.MaxHistorySize,
			DaysToSyncIfHistoryIsFull: sc.GetDaysToSyncIfHistoryIsFull(),
		},
		FilesPerPartition: sc.GetFilesPerPartition(),
	}

	if watch && sc.Watch {
		w, err := local.NewWatcher(sc.Path, a.cfg.Sync.GetWatchDebounce(), log)
		if err != nil {
			return nil, err
		}
		st.Notifier = w
	}
	return st, nil
}

func (a *app) buildSource(ctx context.Context, sc *config.StreamConfig, log *zap.Logger) (port.Source, error) {
	switch sc.Source {
	case config.SourceLocal:
		return local.New(sc.Path, log), nil

	case config.SourceS3:
		s3cfg := a.cfg.Sources.S3
		client, err := s3.NewClient(ctx, s3.ClientConfig{
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			UsePathStyle:    s3cfg.UsePathStyle,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return s3.New(client, sc.Bucket, sc.Prefix, log), nil

	case config.SourceGCS:
		if a.gcs == nil {
			client, err := gcs.NewClient(ctx, a.cfg.Sources.GCS.CredentialsFile)
			if err != nil {
				return nil, err
			}
			a.gcs = client
		}
		return gcs.New(a.gcs, sc.Bucket, sc.Prefix, log), nil

	case config.SourceSynology:
		if a.synology == nil {
			syno := a.cfg.Sources.Synology
			a.synology = synology.NewClient(synology.ClientConfig{
				BaseURL:       syno.BaseURL,
				Username:      syno.Username,
				Password:      syno.Password,
				SkipTLSVerify: syno.SkipTLSVerify,
				Timeout:       syno.GetTimeout(),
			})
		}
		return synology.NewSource(a.synology, sc.Path, log), nil
	}
	return nil, fmt.Errorf("unknown source %q", sc.Source)
}

// Close flushes coalesced checkpoints and releases clients
func (a *app) Close(ctx context.Context) error {
	var err error
	if a.persister != nil {
		err = multierr.Append(err, a.persister.Close(ctx))
	}
	if a.synology != nil && a.synology.IsLoggedIn() {
		err = multierr.Append(err, a.synology.Logout(ctx))
	}
	if a.gcs != nil {
		err = multierr.Append(err, a.gcs.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return err
}
