package models

import "time"

// Sync statuses stored on vehicles.sync_status and sync_journal.status.
const (
	SyncOK      = "ok"
	SyncTimeout = "timeout"
	SyncError   = "error"
)

// VehicleRecord is one row of the fleet vehicles table. Only the sync
// orchestrator mutates it; the acquisition side never sees this type.
type VehicleRecord struct {
	ID              string
	Name            string
	VPNIP           string
	APIPort         int
	APIKey          string
	SoftwareVersion *string
	LastSeenAt      *time.Time
	LastSyncAt      *time.Time
	SyncStatus      string
}

// Measurement is one replicated fact in the fleet store. Rows are unique on
// (vehicle_id, channel_id, time); re-inserting an existing row is a no-op.
type Measurement struct {
	VehicleID string
	ChannelID int
	Time      time.Time
	Value     float64
}

// SyncJournalEntry is one append-only audit row per sync pass.
type SyncJournalEntry struct {
	VehicleID   string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	RowsWritten int64
	ErrorMsg    *string
}
