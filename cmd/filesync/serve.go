package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/service/maintenance"
	"github.com/vertextoedge/filesync/internal/service/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sync streams on a schedule and serve the HTTP API",
	Long: `Serve runs every stream on the configured interval, re-runs local
streams with watch enabled when their directory changes, prunes old
checkpoints and exposes stream states, metrics and a live event feed over
HTTP.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{events: cfg.HTTP.EnableEvents, watch: true})
	if err != nil {
		return err
	}
	log := a.logger
	log.Info("starting filesync",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.Strings("streams", a.syncer.Streams()),
	)

	maintenanceService := maintenance.New(&maintenance.Config{
		Interval:            cfg.Maintenance.GetInterval(),
		CheckpointRetention: cfg.Maintenance.GetCheckpointRetention(),
		TempFileMaxAge:      cfg.Maintenance.GetTempFileMaxAge(),
	}, a.store, a.dests, log)

	httpServer := server.New(&server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		EnableEvents:  cfg.HTTP.EnableEvents,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}, a.store, a.syncer, a.dests, a.metrics.Handler(), a.hub, log)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	syncerDone := make(chan struct{})
	go func() {
		defer close(syncerDone)
		if err := a.syncer.Start(ctx); err != nil {
			log.Error("syncer stopped with error", zap.Error(err))
		}
	}()

	go func() {
		if err := maintenanceService.Start(ctx); err != nil {
			log.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	log.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("destination_root", cfg.Sync.DestinationRoot),
	)

	select {
	case <-sigChan:
		log.Info("shutdown signal received, stopping services...")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	a.syncer.Stop()
	maintenanceService.Stop()

	// in-flight runs write their final checkpoint before returning
	select {
	case <-syncerDone:
	case <-shutdownCtx.Done():
		log.Warn("timed out waiting for running syncs")
	}

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	if err := a.Close(shutdownCtx); err != nil {
		log.Error("failed to close cleanly", zap.Error(err))
		return err
	}

	log.Info("application stopped successfully")
	return nil
}
