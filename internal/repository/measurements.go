package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// MeasurementRepository owns the vehicle-local measurements table: one batch
// insert per cycle and the read queries behind the outbound surface.
type MeasurementRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMeasurementRepository(db *sql.DB, logger *zap.Logger) *MeasurementRepository {
	return &MeasurementRepository{db: db, logger: logger}
}

// Ping probes the underlying connection, used by the acquisition cycle to
// decide when a degraded store is worth retrying.
func (r *MeasurementRepository) Ping() error {
	return r.db.Ping()
}

// InsertCycle writes the whole cycle batch in one transaction. Absent readings
// are stored as NULL so downtime of a single channel stays visible.
func (r *MeasurementRepository) InsertCycle(cycleTime time.Time, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO measurements (time, channel_id, value) VALUES ")
	args := make([]interface{}, 0, len(readings)*3)
	for i, rd := range readings {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
		args = append(args, cycleTime, rd.ChannelID, rd.Value)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cycle insert: %w", err)
	}
	if _, err := tx.Exec(sb.String(), args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert cycle batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle batch: %w", err)
	}
	return nil
}

// Window returns rows in [from, to) ordered by time, fetching one row past
// limit so the caller can detect truncation.
func (r *MeasurementRepository) Window(from, to time.Time, channelID *int, limit int) ([]models.DataRow, bool, error) {
	query := `
		SELECT channel_id, value, time
		FROM measurements
		WHERE time >= $1 AND time < $2`
	args := []interface{}{from, to}
	if channelID != nil {
		query += " AND channel_id = $3"
		args = append(args, *channelID)
	}
	query += fmt.Sprintf(" ORDER BY time ASC LIMIT $%d", len(args)+1)
	args = append(args, limit+1)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query measurement window: %w", err)
	}
	defer rows.Close()

	var out []models.DataRow
	for rows.Next() {
		var (
			channel int
			value   sql.NullFloat64
			ts      time.Time
		)
		if err := rows.Scan(&channel, &value, &ts); err != nil {
			return nil, false, fmt.Errorf("scan measurement row: %w", err)
		}
		row := models.DataRow{ChannelID: channel, Time: models.FormatTime(ts)}
		if value.Valid {
			v := value.Float64
			row.Value = &v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	truncated := len(out) > limit
	if truncated {
		out = out[:limit]
	}
	return out, truncated, nil
}

// LatestPerChannel returns the newest row of every channel.
func (r *MeasurementRepository) LatestPerChannel() ([]models.DataRow, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT ON (channel_id) channel_id, value, time
		FROM measurements
		ORDER BY channel_id, time DESC`)
	if err != nil {
		return nil, fmt.Errorf("query latest measurements: %w", err)
	}
	defer rows.Close()

	var out []models.DataRow
	for rows.Next() {
		var (
			channel int
			value   sql.NullFloat64
			ts      time.Time
		)
		if err := rows.Scan(&channel, &value, &ts); err != nil {
			return nil, fmt.Errorf("scan latest row: %w", err)
		}
		row := models.DataRow{ChannelID: channel, Time: models.FormatTime(ts)}
		if value.Valid {
			v := value.Float64
			row.Value = &v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LastMeasurementAt returns the time of the newest stored row, or nil for an
// empty table.
func (r *MeasurementRepository) LastMeasurementAt() (*time.Time, error) {
	var ts sql.NullTime
	if err := r.db.QueryRow(`SELECT MAX(time) FROM measurements`).Scan(&ts); err != nil {
		return nil, fmt.Errorf("query last measurement time: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Time, nil
}
