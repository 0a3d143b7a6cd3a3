package collector

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// configChannel is the pg_notify channel announcing channel_config changes.
// The notification is at-least-once and may carry no payload; it only means
// "re-read the configuration now".
const configChannel = "config_changed"

// CalibrationStore holds the channel configuration snapshot read by the
// acquisition cycle. The snapshot is an immutable value behind an atomic
// reference: readers always see one consistent generation, a reload swaps
// the whole slice and never mutates the live one.
type CalibrationStore struct {
	v atomic.Value // []models.ChannelConfig
}

func NewCalibrationStore(configs []models.ChannelConfig) *CalibrationStore {
	s := &CalibrationStore{}
	s.Replace(configs)
	return s
}

// Snapshot returns the current generation. Callers must not modify it.
func (s *CalibrationStore) Snapshot() []models.ChannelConfig {
	return s.v.Load().([]models.ChannelConfig)
}

// Replace atomically publishes a new generation.
func (s *CalibrationStore) Replace(configs []models.ChannelConfig) {
	if configs == nil {
		configs = []models.ChannelConfig{}
	}
	s.v.Store(configs)
}

// channelLoader is the slice of ChannelConfigRepository the watcher needs.
type channelLoader interface {
	LoadEnabled() ([]models.ChannelConfig, error)
}

// ConfigWatcher listens for config_changed notifications and reloads the
// calibration snapshot. pq.Listener owns the reconnect loop; a failed reload
// is logged and the previous snapshot stays authoritative.
type ConfigWatcher struct {
	dsn      string
	store    *CalibrationStore
	loader   channelLoader
	logger   *zap.Logger
	pingTick time.Duration
}

func NewConfigWatcher(dsn string, store *CalibrationStore, loader channelLoader, logger *zap.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		dsn:      dsn,
		store:    store,
		loader:   loader,
		logger:   logger,
		pingTick: 90 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (w *ConfigWatcher) Run(ctx context.Context) {
	listener := pq.NewListener(w.dsn, 5*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected, pq.ListenerEventReconnected:
				w.logger.Info("config listener connected")
			case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
				w.logger.Warn("config listener connection lost", zap.Error(err))
			}
		})
	defer listener.Close()

	if err := listener.Listen(configChannel); err != nil {
		w.logger.Error("LISTEN failed, calibration hot-reload disabled", zap.Error(err))
		return
	}
	w.logger.Info("listening for calibration changes", zap.String("channel", configChannel))

	ping := time.NewTicker(w.pingTick)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			// nil notification signals a driver reconnect; the channel set
			// may have changed underneath us, so reload in that case too.
			if n != nil {
				w.logger.Info("config change notification",
					zap.String("payload", n.Extra))
			}
			w.reload()
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				w.logger.Warn("config listener ping failed", zap.Error(err))
			}
		}
	}
}

func (w *ConfigWatcher) reload() {
	configs, err := w.loader.LoadEnabled()
	if err != nil {
		w.logger.Error("calibration reload failed, keeping previous snapshot",
			zap.Error(err))
		return
	}
	w.store.Replace(configs)
	w.logger.Info("calibration snapshot replaced", zap.Int("channels", len(configs)))
}
