package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/collector"
	"github.com/micom7/fleet-server/internal/config"
	"github.com/micom7/fleet-server/internal/database"
	"github.com/micom7/fleet-server/internal/logger"
	"github.com/micom7/fleet-server/internal/outbound"
	"github.com/micom7/fleet-server/internal/repository"
)

func readVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

func main() {
	cfg, err := config.LoadOutbound()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "outbound")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting outbound API", zap.String("listen", cfg.ListenAddr))

	// A dead store at startup is not fatal here: the surface keeps answering
	// /status with db_ok=false and 503 on the data routes.
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to build database pool", zap.Error(err))
	}
	defer database.Close(db)
	if err := db.Ping(); err != nil {
		log.Warn("Database unreachable at startup, serving degraded", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	measurements := repository.NewMeasurementRepository(db, log)
	channels := repository.NewChannelConfigRepository(db, log)
	alarms := repository.NewAlarmRepository(db, log)
	latest := collector.NewLatestCache(redisClient, cfg.LatestMaxAge, log)

	server := outbound.NewServer(measurements, channels, alarms, latest, outbound.Options{
		APIKey:        cfg.APIKey,
		VehicleIDHint: cfg.VehicleIDHint,
		Version:       readVersion(cfg.VersionFile),
		AgentPort:     cfg.AgentPort,
		LatestMaxAge:  cfg.LatestMaxAge,
		RowLimit:      cfg.DataRowLimit,
		RowCap:        cfg.DataRowCap,
	}, log)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("HTTP server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP server", zap.Error(err))
	}

	log.Info("Outbound API stopped")
}
