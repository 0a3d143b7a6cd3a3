package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// ChannelConfigRepository reads the vehicle's channel_config table, the source
// of truth for calibration snapshots and the /channels endpoint.
type ChannelConfigRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewChannelConfigRepository(db *sql.DB, logger *zap.Logger) *ChannelConfigRepository {
	return &ChannelConfigRepository{db: db, logger: logger}
}

// LoadEnabled returns the enabled channels in channel order, as consumed by
// the acquisition cycle.
func (r *ChannelConfigRepository) LoadEnabled() ([]models.ChannelConfig, error) {
	rows, err := r.db.Query(`
		SELECT channel_id, module, channel_index, signal_type,
		       raw_min, raw_max, phys_min, phys_max
		FROM channel_config
		WHERE enabled = TRUE
		ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("load channel config: %w", err)
	}
	defer rows.Close()

	var configs []models.ChannelConfig
	for rows.Next() {
		var c models.ChannelConfig
		c.Enabled = true
		if err := rows.Scan(&c.ChannelID, &c.Module, &c.ChannelIndex, &c.SignalType,
			&c.RawMin, &c.RawMax, &c.PhysMin, &c.PhysMax); err != nil {
			return nil, fmt.Errorf("scan channel config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// ListAll returns every channel with its metadata for the outbound /channels
// response, enabled or not.
func (r *ChannelConfigRepository) ListAll() ([]models.ChannelConfig, error) {
	rows, err := r.db.Query(`
		SELECT channel_id, name, unit, module, channel_index, signal_type,
		       raw_min, raw_max, phys_min, phys_max, enabled, updated_at
		FROM channel_config
		ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channel config: %w", err)
	}
	defer rows.Close()

	var configs []models.ChannelConfig
	for rows.Next() {
		var c models.ChannelConfig
		var unit sql.NullString
		if err := rows.Scan(&c.ChannelID, &c.Name, &unit, &c.Module, &c.ChannelIndex,
			&c.SignalType, &c.RawMin, &c.RawMax, &c.PhysMin, &c.PhysMax,
			&c.Enabled, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel config: %w", err)
		}
		c.Unit = unit.String
		configs = append(configs, c)
	}
	return configs, rows.Err()
}
