package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/config"
	"github.com/micom7/fleet-server/internal/database"
	"github.com/micom7/fleet-server/internal/logger"
	"github.com/micom7/fleet-server/internal/models"
	"github.com/micom7/fleet-server/internal/puller"
	"github.com/micom7/fleet-server/internal/repository"
	"github.com/micom7/fleet-server/internal/syncer"
)

func main() {
	cfg, err := config.LoadSync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "fleet-sync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting fleet replication engine",
		zap.Duration("interval", cfg.Interval),
		zap.Duration("pull_timeout", cfg.PullTimeout),
		zap.Duration("default_window", cfg.DefaultWindow))

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to fleet database", zap.Error(err))
	}
	defer database.Close(db)

	fleetRepo := repository.NewFleetRepository(db, log)

	newPuller := func(v models.VehicleRecord) syncer.Puller {
		key := v.APIKey
		if key == "" {
			key = cfg.DefaultAPIKey
		}
		return puller.New(v, key, cfg.PullTimeout, log)
	}

	orch := syncer.NewOrchestrator(fleetRepo, newPuller, cfg.DefaultWindow, log)
	sched := syncer.NewScheduler(orch, fleetRepo, cfg.Interval, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Scheduler error", zap.Error(err))
		cancel()
	}

	log.Info("Fleet replication engine stopped")
}
