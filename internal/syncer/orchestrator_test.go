package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
	"github.com/micom7/fleet-server/internal/puller"
)

type fakePuller struct {
	statusErr   error
	status      models.StatusPayload
	channels    []models.ChannelPayload
	channelsErr error
	rows        []models.DataRow
	dataErr     error
	alarms      []models.AlarmPayload
	alarmsErr   error

	dataFrom, dataTo time.Time
}

func (f *fakePuller) Status(ctx context.Context) (*models.StatusPayload, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &f.status, nil
}

func (f *fakePuller) Channels(ctx context.Context) ([]models.ChannelPayload, error) {
	return f.channels, f.channelsErr
}

func (f *fakePuller) Data(ctx context.Context, from, to time.Time) ([]models.DataRow, error) {
	f.dataFrom, f.dataTo = from, to
	return f.rows, f.dataErr
}

func (f *fakePuller) Alarms(ctx context.Context, from, to time.Time) ([]models.AlarmPayload, error) {
	return f.alarms, f.alarmsErr
}

type fakeFleetStore struct {
	mu sync.Mutex

	vehicles    []models.VehicleRecord
	listErr     error
	writeErr    error
	writeResult int64

	seenAt        *time.Time
	statusMarks   []string
	lastSyncTo    *time.Time
	channelsGot   [][]models.ChannelPayload
	rowsGot       [][]models.DataRow
	alarmsGot     [][]models.AlarmPayload
	journal       []models.SyncJournalEntry
	syncedVehicle []string
}

func (f *fakeFleetStore) ListVehicles() ([]models.VehicleRecord, error) {
	return f.vehicles, f.listErr
}

func (f *fakeFleetStore) MarkSeen(vehicleID string, seenAt time.Time, sw *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seenAt = &seenAt
	return nil
}

func (f *fakeFleetStore) MarkStatus(vehicleID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusMarks = append(f.statusMarks, status)
	return nil
}

func (f *fakeFleetStore) AdvanceLastSync(vehicleID string, to time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSyncTo = &to
	return nil
}

func (f *fakeFleetStore) UpsertChannels(vehicleID string, channels []models.ChannelPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelsGot = append(f.channelsGot, channels)
	return nil
}

func (f *fakeFleetStore) WriteMeasurements(vehicleID string, rows []models.DataRow) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.rowsGot = append(f.rowsGot, rows)
	f.syncedVehicle = append(f.syncedVehicle, vehicleID)
	return f.writeResult, nil
}

func (f *fakeFleetStore) UpsertAlarms(vehicleID string, alarms []models.AlarmPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarmsGot = append(f.alarmsGot, alarms)
	return nil
}

func (f *fakeFleetStore) AppendJournal(entry models.SyncJournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journal = append(f.journal, entry)
	return nil
}

func newTestOrchestrator(store *fakeFleetStore, p Puller) *Orchestrator {
	return NewOrchestrator(store,
		func(models.VehicleRecord) Puller { return p },
		time.Minute, zap.NewNop())
}

func vehicle() models.VehicleRecord {
	return models.VehicleRecord{ID: "veh-1", Name: "KrAZ-01", VPNIP: "10.8.0.11", APIPort: 8001}
}

func TestSyncVehicle_StatusTimeoutAbortsPass(t *testing.T) {
	store := &fakeFleetStore{}
	p := &fakePuller{statusErr: fmt.Errorf("/status: %w", puller.ErrTimeout)}
	o := newTestOrchestrator(store, p)

	o.SyncVehicle(context.Background(), vehicle())

	assert.Equal(t, []string{models.SyncTimeout}, store.statusMarks)
	assert.Nil(t, store.seenAt)
	assert.Empty(t, store.rowsGot)
	assert.Empty(t, store.alarmsGot)
	assert.Nil(t, store.lastSyncTo)

	require.Len(t, store.journal, 1)
	entry := store.journal[0]
	assert.Equal(t, models.SyncTimeout, entry.Status)
	assert.Zero(t, entry.RowsWritten)
	require.NotNil(t, entry.ErrorMsg)
}

func TestSyncVehicle_StatusErrorAbortsPass(t *testing.T) {
	store := &fakeFleetStore{}
	p := &fakePuller{statusErr: fmt.Errorf("/status: %w", puller.ErrUnreachable)}
	o := newTestOrchestrator(store, p)

	o.SyncVehicle(context.Background(), vehicle())

	assert.Equal(t, []string{models.SyncError}, store.statusMarks)
	require.Len(t, store.journal, 1)
	assert.Equal(t, models.SyncError, store.journal[0].Status)
}

func TestSyncVehicle_FullPass(t *testing.T) {
	v := 3.7
	store := &fakeFleetStore{writeResult: 2}
	p := &fakePuller{
		status:   models.StatusPayload{SoftwareVersion: "1.4.2", DBOk: true},
		channels: []models.ChannelPayload{{ChannelID: 1, Name: "pressure"}},
		rows: []models.DataRow{
			{ChannelID: 1, Value: &v, Time: "2026-03-01T10:00:00.000Z"},
			{ChannelID: 1, Value: &v, Time: "2026-03-01T10:00:01.000Z"},
		},
		alarms: []models.AlarmPayload{{AlarmID: 7, Message: "m", TriggeredAt: "2026-03-01T10:00:00.000Z"}},
	}
	o := newTestOrchestrator(store, p)

	o.SyncVehicle(context.Background(), vehicle())

	require.NotNil(t, store.seenAt)
	require.Len(t, store.channelsGot, 1)
	require.Len(t, store.rowsGot, 1)
	require.Len(t, store.alarmsGot, 1)
	require.NotNil(t, store.lastSyncTo)
	assert.Equal(t, p.dataTo, *store.lastSyncTo)

	require.Len(t, store.journal, 1)
	entry := store.journal[0]
	assert.Equal(t, models.SyncOK, entry.Status)
	assert.Equal(t, int64(2), entry.RowsWritten)
	assert.Nil(t, entry.ErrorMsg)
}

func TestSyncVehicle_DataFailureKeepsHighWaterMark(t *testing.T) {
	prev := time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC)
	veh := vehicle()
	veh.LastSyncAt = &prev

	store := &fakeFleetStore{}
	p := &fakePuller{
		status:  models.StatusPayload{SoftwareVersion: "1.4.2"},
		dataErr: fmt.Errorf("/data: %w", puller.ErrTimeout),
	}
	o := newTestOrchestrator(store, p)

	o.SyncVehicle(context.Background(), veh)

	// The gap stays open for the next cycle.
	assert.Nil(t, store.lastSyncTo)
	assert.Equal(t, prev, p.dataFrom)

	// The pass is still journaled, with the failure recorded.
	require.Len(t, store.journal, 1)
	assert.Equal(t, models.SyncOK, store.journal[0].Status)
	require.NotNil(t, store.journal[0].ErrorMsg)

	// Alarms were still attempted.
	assert.Len(t, store.alarmsGot, 1)
}

func TestSyncVehicle_WriteFailureKeepsHighWaterMark(t *testing.T) {
	store := &fakeFleetStore{writeErr: errors.New("unique_violation on wrong column")}
	p := &fakePuller{
		status: models.StatusPayload{},
		rows:   []models.DataRow{},
	}
	o := newTestOrchestrator(store, p)

	o.SyncVehicle(context.Background(), vehicle())

	assert.Nil(t, store.lastSyncTo)
	require.Len(t, store.journal, 1)
	require.NotNil(t, store.journal[0].ErrorMsg)
}

func TestSyncVehicle_ZeroRowsStillAdvances(t *testing.T) {
	store := &fakeFleetStore{writeResult: 0}
	p := &fakePuller{status: models.StatusPayload{}}
	o := newTestOrchestrator(store, p)

	o.SyncVehicle(context.Background(), vehicle())

	require.NotNil(t, store.lastSyncTo)
	require.Len(t, store.journal, 1)
	assert.Zero(t, store.journal[0].RowsWritten)
	assert.Equal(t, models.SyncOK, store.journal[0].Status)
}

func TestSyncVehicle_DefaultWindowWithoutHighWaterMark(t *testing.T) {
	store := &fakeFleetStore{}
	p := &fakePuller{status: models.StatusPayload{}}
	o := newTestOrchestrator(store, p)

	o.SyncVehicle(context.Background(), vehicle())

	assert.Equal(t, time.Minute, p.dataTo.Sub(p.dataFrom))
}

func TestSyncVehicle_ChannelFailureDoesNotAbort(t *testing.T) {
	store := &fakeFleetStore{writeResult: 1}
	p := &fakePuller{
		status:      models.StatusPayload{},
		channelsErr: errors.New("malformed payload"),
	}
	o := newTestOrchestrator(store, p)

	o.SyncVehicle(context.Background(), vehicle())

	assert.Empty(t, store.channelsGot)
	assert.NotNil(t, store.lastSyncTo)
	assert.Len(t, store.journal, 1)
}
