package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
	"github.com/micom7/fleet-server/internal/puller"
)

// Puller is the read side of one vehicle's outbound surface.
type Puller interface {
	Status(ctx context.Context) (*models.StatusPayload, error)
	Channels(ctx context.Context) ([]models.ChannelPayload, error)
	Data(ctx context.Context, from, to time.Time) ([]models.DataRow, error)
	Alarms(ctx context.Context, from, to time.Time) ([]models.AlarmPayload, error)
}

// FleetStore is the fleet-side persistence consumed by a sync pass.
type FleetStore interface {
	ListVehicles() ([]models.VehicleRecord, error)
	MarkSeen(vehicleID string, seenAt time.Time, softwareVersion *string) error
	MarkStatus(vehicleID, status string) error
	AdvanceLastSync(vehicleID string, to time.Time) error
	UpsertChannels(vehicleID string, channels []models.ChannelPayload) error
	WriteMeasurements(vehicleID string, rows []models.DataRow) (int64, error)
	UpsertAlarms(vehicleID string, alarms []models.AlarmPayload) error
	AppendJournal(entry models.SyncJournalEntry) error
}

// PullerFactory builds the puller for one vehicle and pass.
type PullerFactory func(vehicle models.VehicleRecord) Puller

// Orchestrator executes one full synchronization pass per vehicle. Step
// fatality is uneven on purpose: a failed status pull aborts the pass, failed
// channel or alarm replication is logged and skipped, and a failed
// measurement step leaves the high-water mark untouched so the gap is
// retried in full next cycle.
type Orchestrator struct {
	store         FleetStore
	newPuller     PullerFactory
	defaultWindow time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewOrchestrator(store FleetStore, newPuller PullerFactory, defaultWindow time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:         store,
		newPuller:     newPuller,
		defaultWindow: defaultWindow,
		logger:        logger,
		now:           time.Now,
	}
}

// SyncVehicle runs one pass. Every pass ends with exactly one journal entry,
// whatever happened in between.
func (o *Orchestrator) SyncVehicle(ctx context.Context, vehicle models.VehicleRecord) {
	started := o.now().UTC()
	log := o.logger.With(
		zap.String("vehicle", vehicleName(vehicle)),
		zap.String("pass_id", uuid.NewString()))
	p := o.newPuller(vehicle)

	// 1. Status. Fatal for the pass: no partial writes without it.
	status, err := p.Status(ctx)
	if err != nil {
		syncStatus := models.SyncError
		if errors.Is(err, puller.ErrTimeout) {
			syncStatus = models.SyncTimeout
		}
		log.Warn("status pull failed", zap.String("sync_status", syncStatus), zap.Error(err))
		if uerr := o.store.MarkStatus(vehicle.ID, syncStatus); uerr != nil {
			log.Error("record sync status", zap.Error(uerr))
		}
		o.journal(log, vehicle.ID, started, syncStatus, 0, err.Error())
		return
	}

	// 2. The vehicle answered: it is seen, whatever the rest of the pass does.
	now := o.now().UTC()
	var swVersion *string
	if status.SoftwareVersion != "" {
		swVersion = &status.SoftwareVersion
	}
	if err := o.store.MarkSeen(vehicle.ID, now, swVersion); err != nil {
		log.Error("record last_seen_at", zap.Error(err))
	}
	log.Info("vehicle online",
		zap.String("software_version", status.SoftwareVersion),
		zap.Bool("db_ok", status.DBOk))

	// 3. Channel configuration, best-effort.
	if channels, err := p.Channels(ctx); err != nil {
		log.Warn("channel sync failed", zap.Error(err))
	} else if err := o.store.UpsertChannels(vehicle.ID, channels); err != nil {
		log.Warn("channel upsert failed", zap.Error(err))
	}

	// 4. Pull window from the high-water mark: a vehicle offline for days
	// resumes exactly where it left off.
	from := now.Add(-o.defaultWindow)
	if vehicle.LastSyncAt != nil {
		from = *vehicle.LastSyncAt
	}
	to := now

	// 5. Measurements. last_sync_at advances on success even with zero rows
	// (an empty window must not be re-polled forever), and stays put on any
	// failure so the gap is retried.
	var rowsWritten int64
	var passErrMsg string
	rows, err := p.Data(ctx, from, to)
	if err != nil {
		log.Error("measurement pull failed", zap.Error(err))
		passErrMsg = err.Error()
	} else {
		rowsWritten, err = o.store.WriteMeasurements(vehicle.ID, rows)
		if err != nil {
			log.Error("measurement write failed", zap.Error(err))
			passErrMsg = err.Error()
		} else {
			if err := o.store.AdvanceLastSync(vehicle.ID, to); err != nil {
				log.Error("advance last_sync_at", zap.Error(err))
			}
			log.Info("measurements replicated",
				zap.Int64("rows", rowsWritten),
				zap.Duration("window", to.Sub(from)))
		}
	}

	// 6. Alarms over the same window, best-effort.
	if alarms, err := p.Alarms(ctx, from, to); err != nil {
		log.Warn("alarm sync failed", zap.Error(err))
	} else if err := o.store.UpsertAlarms(vehicle.ID, alarms); err != nil {
		log.Warn("alarm upsert failed", zap.Error(err))
	}

	// 7. Journal, always.
	o.journal(log, vehicle.ID, started, models.SyncOK, rowsWritten, passErrMsg)
}

func (o *Orchestrator) journal(log *zap.Logger, vehicleID string, started time.Time, status string, rows int64, errMsg string) {
	entry := models.SyncJournalEntry{
		VehicleID:   vehicleID,
		StartedAt:   started,
		FinishedAt:  o.now().UTC(),
		Status:      status,
		RowsWritten: rows,
	}
	if errMsg != "" {
		entry.ErrorMsg = &errMsg
	}
	if err := o.store.AppendJournal(entry); err != nil {
		log.Error("journal write failed", zap.Error(err))
	}
}

func vehicleName(v models.VehicleRecord) string {
	if v.Name != "" {
		return v.Name
	}
	return v.ID
}
