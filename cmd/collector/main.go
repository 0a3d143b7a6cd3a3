package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/bus"
	"github.com/micom7/fleet-server/internal/collector"
	"github.com/micom7/fleet-server/internal/config"
	"github.com/micom7/fleet-server/internal/database"
	"github.com/micom7/fleet-server/internal/logger"
	"github.com/micom7/fleet-server/internal/modbus"
	"github.com/micom7/fleet-server/internal/models"
	"github.com/micom7/fleet-server/internal/repository"
)

const (
	dbConnectAttempts = 5
	dbConnectDelay    = 5 * time.Second
)

// connectDB retries the vehicle store a few times before giving up. The
// channel configuration lives there, so the collector cannot start without it.
func connectDB(cfg *config.CollectorConfig, log *zap.Logger) (*sql.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= dbConnectAttempts; attempt++ {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err == nil {
			log.Info("database connected")
			return db, nil
		}
		lastErr = err
		log.Error("database connection attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(dbConnectDelay)
	}
	return nil, lastErr
}

func buildModules(cfg *config.CollectorConfig, log *zap.Logger) (map[models.ModuleTag]collector.DeviceReader, map[models.ModuleTag]config.DeviceFamily) {
	devices := make(map[models.ModuleTag]collector.DeviceReader, len(cfg.Modules))
	families := make(map[models.ModuleTag]config.DeviceFamily, len(cfg.Modules))
	for _, m := range cfg.Modules {
		switch m.Family {
		case config.FamilyET7017:
			devices[m.Tag] = modbus.NewET7017Module(string(m.Tag), m.Host, m.Port, m.UnitID, cfg.ModbusTimeout, cfg.ReconnectDelay, log)
		case config.FamilyET7284:
			devices[m.Tag] = modbus.NewET7284Module(string(m.Tag), m.Host, m.Port, m.UnitID, cfg.ModbusTimeout, cfg.ReconnectDelay, log)
		default:
			log.Error("unknown device family, module skipped",
				zap.String("module", string(m.Tag)), zap.String("family", string(m.Family)))
			continue
		}
		families[m.Tag] = m.Family
	}
	return devices, families
}

func main() {
	cfg, err := config.LoadCollector()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "collector")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting telemetry collector",
		zap.Float64("polling_hz", cfg.PollingHz),
		zap.Int("modules", len(cfg.Modules)))

	db, err := connectDB(cfg, log)
	if err != nil {
		log.Fatal("Database unreachable, cannot load channel configuration", zap.Error(err))
	}
	defer database.Close(db)

	channelRepo := repository.NewChannelConfigRepository(db, log)
	measurementRepo := repository.NewMeasurementRepository(db, log)

	configs, err := channelRepo.LoadEnabled()
	if err != nil {
		log.Fatal("Failed to load channel configuration", zap.Error(err))
	}
	if len(configs) == 0 {
		log.Warn("channel_config is empty, no channels will be sampled")
	} else {
		log.Info("Channel configuration loaded", zap.Int("channels", len(configs)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calib := collector.NewCalibrationStore(configs)
	watcher := collector.NewConfigWatcher(cfg.Database.DSN(), calib, channelRepo, log)
	go watcher.Run(ctx)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	latest := collector.NewLatestCache(redisClient, 3*cfg.Interval(), log)

	broadcaster := bus.NewBroadcaster(8, log)

	if cfg.MQTT.Enabled {
		bridge, err := bus.NewMQTTBridge(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix, byte(cfg.MQTT.QoS), log)
		if err != nil {
			log.Error("MQTT bridge disabled, broker unreachable", zap.Error(err))
		} else {
			msgs, _ := broadcaster.Subscribe()
			go bridge.Run(ctx, msgs)
		}
	}

	// The read deadline caps one cycle's device phase: the per-device driver
	// timeout plus a joining margin.
	readDeadline := cfg.ModbusTimeout + 500*time.Millisecond

	devices, families := buildModules(cfg, log)
	coll := collector.NewCollector(devices, families, calib, measurementRepo,
		broadcaster, latest, cfg.Interval(), readDeadline, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := coll.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Collector error", zap.Error(err))
		cancel()
	}

	log.Info("Collector stopped")
}
