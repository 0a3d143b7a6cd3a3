package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/bus"
	"github.com/micom7/fleet-server/internal/config"
	"github.com/micom7/fleet-server/internal/modbus"
	"github.com/micom7/fleet-server/internal/models"
)

// DeviceReader is the slice of modbus.Module the cycle needs.
type DeviceReader interface {
	Name() string
	Read() ([]uint16, error)
}

// CycleStore persists one cycle batch. Ping is used to re-check a store that
// failed on a previous cycle before trusting it again.
type CycleStore interface {
	InsertCycle(cycleTime time.Time, readings []models.Reading) error
	Ping() error
}

// Collector drives the fixed-frequency acquisition loop: concurrent device
// reads, decode, calibrate, persist, publish. Persistence and publication are
// independent failure domains: the bus sees every cycle even with the store
// down.
type Collector struct {
	devices  map[models.ModuleTag]DeviceReader
	families map[models.ModuleTag]config.DeviceFamily
	calib    *CalibrationStore
	store    CycleStore
	bus      *bus.Broadcaster
	latest   *LatestCache

	interval     time.Duration
	readDeadline time.Duration
	logger       *zap.Logger
	now          func() time.Time

	storeDegraded bool
}

// NewCollector wires the acquisition pipeline. latest may be nil when the
// Redis cache is not deployed.
func NewCollector(
	devices map[models.ModuleTag]DeviceReader,
	families map[models.ModuleTag]config.DeviceFamily,
	calib *CalibrationStore,
	store CycleStore,
	broadcaster *bus.Broadcaster,
	latest *LatestCache,
	interval, readDeadline time.Duration,
	logger *zap.Logger,
) *Collector {
	return &Collector{
		devices:      devices,
		families:     families,
		calib:        calib,
		store:        store,
		bus:          broadcaster,
		latest:       latest,
		interval:     interval,
		readDeadline: readDeadline,
		logger:       logger,
		now:          time.Now,
	}
}

// Run loops until ctx is cancelled. After each cycle it sleeps the remainder
// of the period; an overrunning cycle is logged and the next one starts
// immediately, missed ticks are never caught up.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("collector started",
		zap.Duration("interval", c.interval),
		zap.Int("devices", len(c.devices)))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()
		c.RunCycle(ctx)
		elapsed := time.Since(start)

		if remain := c.interval - elapsed; remain > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(remain):
			}
		} else {
			c.logger.Warn("cycle overran period",
				zap.Duration("elapsed", elapsed),
				zap.Duration("interval", c.interval))
		}
	}
}

// RunCycle executes exactly one acquisition cycle.
func (c *Collector) RunCycle(ctx context.Context) {
	cycleTime := c.now().UTC()

	snapshots := c.readDevices()
	readings := c.decodeAll(snapshots)

	c.persist(cycleTime, readings)

	if c.latest != nil {
		if err := c.latest.Store(ctx, cycleTime, readings); err != nil {
			c.logger.Warn("latest cache update failed", zap.Error(err))
		}
	}

	// Published regardless of persistence outcome: subscribers must see live
	// data even while storage is down.
	c.bus.Publish(bus.Message{Topic: bus.TopicData, CycleTime: cycleTime, Readings: readings})
}

// readDevices issues one read per device concurrently and joins the results.
// A device that misses the deadline contributes a nil snapshot for this cycle;
// its goroutine finishes on its own transport timeout.
func (c *Collector) readDevices() map[models.ModuleTag][]uint16 {
	type result struct {
		tag   models.ModuleTag
		words []uint16
		err   error
	}

	results := make(chan result, len(c.devices))
	for tag, dev := range c.devices {
		go func(tag models.ModuleTag, dev DeviceReader) {
			words, err := dev.Read()
			results <- result{tag: tag, words: words, err: err}
		}(tag, dev)
	}

	snapshots := make(map[models.ModuleTag][]uint16, len(c.devices))
	deadline := time.NewTimer(c.readDeadline)
	defer deadline.Stop()

	for pending := len(c.devices); pending > 0; pending-- {
		select {
		case r := <-results:
			if r.err != nil {
				if errors.Is(r.err, modbus.ErrBackoff) {
					c.logger.Debug("device in reconnect backoff",
						zap.String("module", string(r.tag)))
				} else {
					c.logger.Warn("device read failed",
						zap.String("module", string(r.tag)), zap.Error(r.err))
				}
				continue
			}
			snapshots[r.tag] = r.words
		case <-deadline.C:
			c.logger.Warn("device read deadline reached",
				zap.Int("missing", pending))
			return snapshots
		}
	}
	return snapshots
}

// decodeAll produces one reading per configured channel from whichever device
// snapshot owns it. Any per-channel failure yields an absent reading and the
// cycle continues.
func (c *Collector) decodeAll(snapshots map[models.ModuleTag][]uint16) []models.Reading {
	snapshot := c.calib.Snapshot()
	readings := make([]models.Reading, 0, len(snapshot))
	for _, cfg := range snapshot {
		var value *float64
		if raw, ok := c.extractRaw(cfg, snapshots); ok {
			v, err := modbus.Normalize(raw, cfg.RawMin, cfg.RawMax, cfg.PhysMin, cfg.PhysMax)
			if err != nil {
				c.logger.Error("channel calibration invalid, skipping",
					zap.Int("channel_id", cfg.ChannelID), zap.Error(err))
			} else {
				value = &v
			}
		}
		readings = append(readings, models.Reading{ChannelID: cfg.ChannelID, Value: value})
	}
	return readings
}

func (c *Collector) extractRaw(cfg models.ChannelConfig, snapshots map[models.ModuleTag][]uint16) (float64, bool) {
	family, ok := c.families[cfg.Module]
	if !ok {
		c.logger.Error("unknown module for channel",
			zap.String("module", string(cfg.Module)),
			zap.Int("channel_id", cfg.ChannelID))
		return 0, false
	}
	words := snapshots[cfg.Module]
	if words == nil {
		return 0, false
	}
	switch family {
	case config.FamilyET7017:
		v, ok := modbus.DecodeAnalog(words, cfg.ChannelIndex)
		return float64(v), ok
	case config.FamilyET7284:
		v, ok := modbus.DecodePulse(words, cfg.ChannelIndex)
		return float64(v), ok
	default:
		c.logger.Error("unknown device family",
			zap.String("family", string(family)),
			zap.Int("channel_id", cfg.ChannelID))
		return 0, false
	}
}

// persist writes the batch best-effort. A failure degrades the store until a
// ping on a later cycle succeeds; publication is unaffected either way.
func (c *Collector) persist(cycleTime time.Time, readings []models.Reading) {
	if c.storeDegraded {
		if err := c.store.Ping(); err != nil {
			c.logger.Error("store still unreachable, publish-only cycle", zap.Error(err))
			return
		}
		c.storeDegraded = false
		c.logger.Info("store connection restored")
	}
	if err := c.store.InsertCycle(cycleTime, readings); err != nil {
		c.storeDegraded = true
		c.logger.Error("cycle persist failed, dropping store connection",
			zap.Error(err))
	}
}
