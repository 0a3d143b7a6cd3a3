package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

func setupFleetRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *FleetRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewFleetRepository(db, zap.NewNop())
}

func expectRoleTx(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("set_config").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestListVehicles(t *testing.T) {
	db, mock, repo := setupFleetRepo(t)
	defer db.Close()

	lastSync := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "name", "host", "api_port", "api_key", "last_sync_at"}).
		AddRow("veh-1", "KrAZ-01", "10.8.0.11", 8001, "key-1", lastSync).
		AddRow("veh-2", "KrAZ-02", "10.8.0.12", 8001, nil, nil)

	expectRoleTx(mock)
	mock.ExpectQuery("SELECT id, name").WillReturnRows(rows)
	mock.ExpectCommit()

	vehicles, err := repo.ListVehicles()
	require.NoError(t, err)
	require.Len(t, vehicles, 2)
	assert.Equal(t, "10.8.0.11", vehicles[0].VPNIP)
	require.NotNil(t, vehicles[0].LastSyncAt)
	assert.True(t, vehicles[0].LastSyncAt.Equal(lastSync))
	assert.Empty(t, vehicles[1].APIKey)
	assert.Nil(t, vehicles[1].LastSyncAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteMeasurements_CountsOnlyInsertedRows(t *testing.T) {
	db, mock, repo := setupFleetRepo(t)
	defer db.Close()

	v1, v2 := 1.5, 2.5
	rows := []models.DataRow{
		{ChannelID: 1, Value: &v1, Time: "2026-03-01T10:00:00.000Z"},
		{ChannelID: 1, Value: &v2, Time: "2026-03-01T10:00:01.000Z"},
	}

	expectRoleTx(mock)
	// One of the two rows already exists; ON CONFLICT DO NOTHING leaves it be.
	mock.ExpectExec("INSERT INTO measurements").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	written, err := repo.WriteMeasurements("veh-1", rows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), written)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteMeasurements_SkipsNullValues(t *testing.T) {
	db, mock, repo := setupFleetRepo(t)
	defer db.Close()

	rows := []models.DataRow{
		{ChannelID: 1, Value: nil, Time: "2026-03-01T10:00:00.000Z"},
		{ChannelID: 2, Value: nil, Time: "2026-03-01T10:00:00.000Z"},
	}

	// Every row is null: nothing to write, no transaction at all.
	written, err := repo.WriteMeasurements("veh-1", rows)
	require.NoError(t, err)
	assert.Zero(t, written)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteMeasurements_BadTimestampFailsBeforeWriting(t *testing.T) {
	db, mock, repo := setupFleetRepo(t)
	defer db.Close()

	v := 1.0
	_, err := repo.WriteMeasurements("veh-1", []models.DataRow{
		{ChannelID: 1, Value: &v, Time: "not-a-time"},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAlarms(t *testing.T) {
	db, mock, repo := setupFleetRepo(t)
	defer db.Close()

	resolved := "2026-03-01T11:00:00.000Z"
	ch := 3
	sev := "critical"
	alarms := []models.AlarmPayload{
		{AlarmID: 7, ChannelID: &ch, Severity: &sev, Message: "oil pressure low",
			TriggeredAt: "2026-03-01T10:30:00.000Z", ResolvedAt: &resolved},
	}

	expectRoleTx(mock)
	mock.ExpectExec("INSERT INTO alarms_log").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertAlarms("veh-1", alarms))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSeen(t *testing.T) {
	db, mock, repo := setupFleetRepo(t)
	defer db.Close()

	sw := "1.4.2"
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	expectRoleTx(mock)
	mock.ExpectExec("UPDATE vehicles").
		WithArgs(seen, sw, "veh-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkSeen("veh-1", seen, &sw))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkStatus_RollsBackOnError(t *testing.T) {
	db, mock, repo := setupFleetRepo(t)
	defer db.Close()

	expectRoleTx(mock)
	mock.ExpectExec("UPDATE vehicles").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.MarkStatus("veh-1", models.SyncTimeout)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendJournal(t *testing.T) {
	db, mock, repo := setupFleetRepo(t)
	defer db.Close()

	msg := "request timed out"
	entry := models.SyncJournalEntry{
		VehicleID:   "veh-1",
		StartedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt:  time.Date(2026, 3, 1, 10, 0, 10, 0, time.UTC),
		Status:      models.SyncTimeout,
		RowsWritten: 0,
		ErrorMsg:    &msg,
	}

	expectRoleTx(mock)
	mock.ExpectExec("INSERT INTO sync_journal").
		WithArgs(entry.VehicleID, entry.StartedAt, entry.FinishedAt,
			entry.Status, entry.RowsWritten, msg).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AppendJournal(entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChannels_EmptyIsNoop(t *testing.T) {
	db, mock, repo := setupFleetRepo(t)
	defer db.Close()

	require.NoError(t, repo.UpsertChannels("veh-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
