package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// FleetRepository owns every fleet-side table touched by replication:
// vehicles, channel_config, measurements, alarms_log and sync_journal.
// Each method is one row-scoped transaction, so a failing unit of work never
// rolls back an unrelated concurrent one.
type FleetRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewFleetRepository(db *sql.DB, logger *zap.Logger) *FleetRepository {
	return &FleetRepository{db: db, logger: logger}
}

// withTx runs fn inside a transaction whose first statement establishes the
// sync role for row-level security. Pooled connections are reused across
// callers, so the setting is transaction-scoped and re-issued on every
// checkout rather than assumed to persist.
func (r *FleetRepository) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.Exec(`SELECT set_config('app.user_role', 'superuser', true)`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("set role: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ListVehicles returns the roster with the fields replication needs.
func (r *FleetRepository) ListVehicles() ([]models.VehicleRecord, error) {
	var vehicles []models.VehicleRecord
	err := r.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT id, name, host(vpn_ip), api_port, api_key, last_sync_at
			FROM vehicles
			ORDER BY name`)
		if err != nil {
			return fmt.Errorf("query vehicles: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				v        models.VehicleRecord
				apiKey   sql.NullString
				lastSync sql.NullTime
			)
			if err := rows.Scan(&v.ID, &v.Name, &v.VPNIP, &v.APIPort, &apiKey, &lastSync); err != nil {
				return fmt.Errorf("scan vehicle: %w", err)
			}
			v.APIKey = apiKey.String
			if lastSync.Valid {
				t := lastSync.Time
				v.LastSyncAt = &t
			}
			vehicles = append(vehicles, v)
		}
		return rows.Err()
	})
	return vehicles, err
}

// MarkSeen records a successful status pull: last_seen_at, sync_status=ok and
// the reported software version (kept if the vehicle stopped reporting one).
func (r *FleetRepository) MarkSeen(vehicleID string, seenAt time.Time, softwareVersion *string) error {
	return r.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE vehicles
			SET last_seen_at     = $1,
			    sync_status      = 'ok',
			    software_version = COALESCE($2, software_version)
			WHERE id = $3`,
			seenAt, softwareVersion, vehicleID)
		return err
	})
}

// MarkStatus records a failed status pull as 'timeout' or 'error'.
func (r *FleetRepository) MarkStatus(vehicleID, status string) error {
	return r.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE vehicles SET sync_status = $1 WHERE id = $2`,
			status, vehicleID)
		return err
	})
}

// AdvanceLastSync stores the replication high-water mark.
func (r *FleetRepository) AdvanceLastSync(vehicleID string, to time.Time) error {
	return r.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE vehicles SET last_sync_at = $1 WHERE id = $2`,
			to, vehicleID)
		return err
	})
}

// UpsertChannels replicates a vehicle's channel metadata. The vehicle's
// physical range maps onto min_value/max_value in the fleet schema.
func (r *FleetRepository) UpsertChannels(vehicleID string, channels []models.ChannelPayload) error {
	if len(channels) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return r.withTx(func(tx *sql.Tx) error {
		var sb strings.Builder
		sb.WriteString(`
			INSERT INTO channel_config
				(vehicle_id, channel_id, name, unit, min_value, max_value, synced_at)
			VALUES `)
		args := make([]interface{}, 0, len(channels)*7)
		for i, c := range channels {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 7
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7)
			args = append(args, vehicleID, c.ChannelID, c.Name, c.Unit,
				c.PhysMin, c.PhysMax, now)
		}
		sb.WriteString(`
			ON CONFLICT (vehicle_id, channel_id) DO UPDATE
				SET name      = EXCLUDED.name,
				    unit      = EXCLUDED.unit,
				    min_value = EXCLUDED.min_value,
				    max_value = EXCLUDED.max_value,
				    synced_at = EXCLUDED.synced_at`)
		_, err := tx.Exec(sb.String(), args...)
		return err
	})
}

// WriteMeasurements inserts pulled rows with insert-if-absent semantics keyed
// on (vehicle_id, channel_id, time) and returns the number of rows actually
// written. Null values are skipped (NOT NULL column in the fleet schema).
// Re-running the same window is a no-op, which is what makes gap-filling safe.
func (r *FleetRepository) WriteMeasurements(vehicleID string, rows []models.DataRow) (int64, error) {
	type parsedRow struct {
		channelID int
		value     float64
		ts        time.Time
	}
	data := make([]parsedRow, 0, len(rows))
	for _, row := range rows {
		if row.Value == nil {
			continue
		}
		ts, err := models.ParseTime(row.Time)
		if err != nil {
			return 0, fmt.Errorf("parse row time %q: %w", row.Time, err)
		}
		data = append(data, parsedRow{channelID: row.ChannelID, value: *row.Value, ts: ts})
	}
	if len(data) == 0 {
		return 0, nil
	}

	var written int64
	err := r.withTx(func(tx *sql.Tx) error {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO measurements (vehicle_id, channel_id, value, time) VALUES `)
		args := make([]interface{}, 0, len(data)*4)
		for i, d := range data {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 4
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4)
			args = append(args, vehicleID, d.channelID, d.value, d.ts)
		}
		sb.WriteString(` ON CONFLICT (vehicle_id, channel_id, time) DO NOTHING`)
		res, err := tx.Exec(sb.String(), args...)
		if err != nil {
			return err
		}
		written, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// UpsertAlarms replicates alarm rows. A re-ingested alarm_id only moves
// resolved_at; the original trigger fields are immutable once created, so the
// open -> resolved lifecycle never loses the initial event.
func (r *FleetRepository) UpsertAlarms(vehicleID string, alarms []models.AlarmPayload) error {
	if len(alarms) == 0 {
		return nil
	}
	type parsedAlarm struct {
		payload   models.AlarmPayload
		triggered time.Time
		resolved  *time.Time
	}
	data := make([]parsedAlarm, 0, len(alarms))
	for _, a := range alarms {
		triggered, err := models.ParseTime(a.TriggeredAt)
		if err != nil {
			return fmt.Errorf("parse triggered_at %q: %w", a.TriggeredAt, err)
		}
		resolved, err := models.ParseTimePtr(a.ResolvedAt)
		if err != nil {
			return fmt.Errorf("parse resolved_at: %w", err)
		}
		data = append(data, parsedAlarm{payload: a, triggered: triggered, resolved: resolved})
	}

	return r.withTx(func(tx *sql.Tx) error {
		var sb strings.Builder
		sb.WriteString(`
			INSERT INTO alarms_log
				(vehicle_id, alarm_id, channel_id, severity, message, triggered_at, resolved_at)
			VALUES `)
		args := make([]interface{}, 0, len(data)*7)
		for i, d := range data {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 7
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7)
			args = append(args, vehicleID, d.payload.AlarmID, d.payload.ChannelID,
				d.payload.Severity, d.payload.Message, d.triggered, d.resolved)
		}
		sb.WriteString(`
			ON CONFLICT (vehicle_id, alarm_id) DO UPDATE
				SET resolved_at = EXCLUDED.resolved_at`)
		_, err := tx.Exec(sb.String(), args...)
		return err
	})
}

// AppendJournal records one sync pass. The journal is append-only; rows are
// never updated or deleted.
func (r *FleetRepository) AppendJournal(entry models.SyncJournalEntry) error {
	return r.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO sync_journal
				(vehicle_id, started_at, finished_at, status, rows_written, error_msg)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.VehicleID, entry.StartedAt, entry.FinishedAt,
			entry.Status, entry.RowsWritten, entry.ErrorMsg)
		return err
	})
}
