package repository

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// AlarmRepository reads the vehicle-local alarms_log table for the outbound
// /alarms endpoint. Severity comes from the joined rule when one still exists.
type AlarmRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAlarmRepository(db *sql.DB, logger *zap.Logger) *AlarmRepository {
	return &AlarmRepository{db: db, logger: logger}
}

// Window returns alarms that were triggered or resolved inside [from, to),
// in trigger order.
func (r *AlarmRepository) Window(from, to time.Time, unresolvedOnly bool) ([]models.AlarmPayload, error) {
	query := `
		SELECT al.id, al.channel_id, ar.severity, al.message,
		       al.triggered_at, al.resolved_at
		FROM alarms_log al
		LEFT JOIN alarm_rules ar ON ar.id = al.rule_id
		WHERE (al.triggered_at >= $1 AND al.triggered_at < $2
		       OR al.resolved_at >= $1 AND al.resolved_at < $2)`
	if unresolvedOnly {
		query += " AND al.resolved_at IS NULL"
	}
	query += " ORDER BY al.triggered_at ASC"

	rows, err := r.db.Query(query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query alarm window: %w", err)
	}
	defer rows.Close()

	var out []models.AlarmPayload
	for rows.Next() {
		var (
			a          models.AlarmPayload
			channelID  sql.NullInt64
			severity   sql.NullString
			triggered  time.Time
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&a.AlarmID, &channelID, &severity, &a.Message,
			&triggered, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan alarm row: %w", err)
		}
		if channelID.Valid {
			ch := int(channelID.Int64)
			a.ChannelID = &ch
		}
		if severity.Valid {
			s := severity.String
			a.Severity = &s
		}
		a.TriggeredAt = models.FormatTime(triggered)
		if resolvedAt.Valid {
			a.ResolvedAt = models.FormatTimePtr(&resolvedAt.Time)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
