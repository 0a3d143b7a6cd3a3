package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// Scheduler drives replication on a fixed cadence: read the roster, sync all
// vehicles concurrently, sleep whatever remains of the interval. One misbehaving
// vehicle never cancels or delays another.
type Scheduler struct {
	orch     *Orchestrator
	store    FleetStore
	interval time.Duration
	logger   *zap.Logger
}

func NewScheduler(orch *Orchestrator, store FleetStore, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{orch: orch, store: store, interval: interval, logger: logger}
}

// Run loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("replication scheduler started", zap.Duration("interval", s.interval))
	for {
		start := time.Now()
		s.RunOnce(ctx)
		elapsed := time.Since(start)

		wait := s.interval - elapsed
		if wait < 0 {
			wait = 0
		}
		s.logger.Info("sync cycle done",
			zap.Duration("elapsed", elapsed),
			zap.Duration("sleep", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RunOnce executes a single replication cycle over the current roster.
func (s *Scheduler) RunOnce(ctx context.Context) {
	vehicles, err := s.store.ListVehicles()
	if err != nil {
		s.logger.Error("failed to read vehicle roster", zap.Error(err))
		return
	}
	if len(vehicles) == 0 {
		s.logger.Info("no vehicles in roster, skipping cycle")
		return
	}

	s.logger.Info("starting sync cycle", zap.Int("vehicles", len(vehicles)))
	var wg sync.WaitGroup
	for _, v := range vehicles {
		wg.Add(1)
		go func(v models.VehicleRecord) {
			defer wg.Done()
			// A panic in one vehicle's pass must not take down the scheduler
			// or the sibling passes.
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("sync pass panicked",
						zap.String("vehicle", vehicleName(v)),
						zap.Any("panic", r))
				}
			}()
			s.orch.SyncVehicle(ctx, v)
		}(v)
	}
	wg.Wait()
}
