package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/store"
	"github.com/ukydev/fleet-dispatch/internal/tripsync"
)

type fakeTripStore struct {
	mu          sync.Mutex
	queryResult []models.Trip
	queryErr    error
	setErr      error
	setCalls    []models.Trip
}

func (f *fakeTripStore) Query(ctx context.Context, fl store.Filter, limit int64) ([]models.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]models.Trip, len(f.queryResult))
	copy(out, f.queryResult)
	return out, nil
}

func (f *fakeTripStore) Subscribe(ctx context.Context, fl store.Filter) (store.Feed, error) {
	panic("not used in resolver tests")
}

func (f *fakeTripStore) Set(ctx context.Context, trip models.Trip) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, trip)
	if f.setErr != nil {
		return "", f.setErr
	}
	return trip.ID, nil
}

func (f *fakeTripStore) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeTripStore) lastSet() models.Trip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls[len(f.setCalls)-1]
}

type fakeRoster struct {
	vehicles []models.Vehicle
	drivers  []models.Driver
}

func (f *fakeRoster) Vehicles(ctx context.Context, companyID string) ([]models.Vehicle, error) {
	return f.vehicles, nil
}

func (f *fakeRoster) Drivers(ctx context.Context, companyID string) ([]models.Driver, error) {
	return f.drivers, nil
}

type notification struct {
	driverID  string
	companyID string
	tripID    string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (f *fakeNotifier) DriverAssigned(driverID, companyID string, trip models.Trip) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notification{driverID: driverID, companyID: companyID, tripID: trip.ID})
}

type alwaysOnline struct{}

func (alwaysOnline) IsConnected() bool { return true }

func trip(id string, vehicleID, driverID string, status models.TripStatus) models.Trip {
	return models.Trip{
		ID:                  id,
		CompanyID:           "C1",
		VehicleID:           vehicleID,
		DriverID:            driverID,
		ScheduledPickupTime: time.Now().Add(time.Hour),
		Category:            models.TripCategoryPassenger,
		Status:              status,
	}
}

func newTestResolver(t *testing.T, fs *fakeTripStore, roster *fakeRoster, loaded ...models.Trip) (*Resolver, *tripsync.Engine, *fakeNotifier) {
	t.Helper()
	engine := tripsync.NewEngine(fs)
	for _, tr := range loaded {
		engine.Restore(tr)
	}
	mutator := tripsync.NewMutator(fs, engine, alwaysOnline{})
	notifier := &fakeNotifier{}
	r := NewResolver(engine, mutator, roster, notifier)
	if roster != nil {
		require.NoError(t, r.RefreshRosters(context.Background(), "C1"))
	}
	return r, engine, notifier
}

func TestResolver_AvailableVehiclesExcludesReferenced(t *testing.T) {
	roster := &fakeRoster{vehicles: []models.Vehicle{
		{ID: "V1", CompanyID: "C1"},
		{ID: "V2", CompanyID: "C1"},
		{ID: "V3", CompanyID: "C1"},
	}}
	// Status does not matter: even a completed trip pins its vehicle while
	// the record stays loaded.
	r, _, _ := newTestResolver(t, &fakeTripStore{}, roster,
		trip("T1", "V1", "D1", models.TripStatusCompleted),
		trip("T2", "V2", "", models.TripStatusScheduled),
	)

	free := r.AvailableVehicles()
	require.Len(t, free, 1)
	assert.Equal(t, "V3", free[0].ID)

	// Property: no returned id matches any loaded trip's vehicle reference.
	for _, v := range free {
		assert.NotEqual(t, "V1", v.ID)
		assert.NotEqual(t, "V2", v.ID)
	}
}

func TestResolver_AvailableDriversExcludesReferenced(t *testing.T) {
	roster := &fakeRoster{drivers: []models.Driver{
		{ID: "D1", CompanyID: "C1"},
		{ID: "D2", CompanyID: "C1"},
	}}
	r, _, _ := newTestResolver(t, &fakeTripStore{}, roster,
		trip("T1", "", "D1", models.TripStatusScheduled),
	)

	free := r.AvailableDrivers()
	require.Len(t, free, 1)
	assert.Equal(t, "D2", free[0].ID)
}

func TestResolver_AssignTripDerivesStatus(t *testing.T) {
	fs := &fakeTripStore{}
	r, _, _ := newTestResolver(t, fs, nil)

	unassigned := trip("T1", "", "", models.TripStatusScheduled)
	require.NoError(t, r.AssignTrip(context.Background(), unassigned, "V1", "D1"))
	persisted := fs.lastSet()
	assert.Equal(t, models.TripStatusAssigned, persisted.Status)
	assert.Equal(t, "V1", persisted.VehicleID)
	assert.Equal(t, "D1", persisted.DriverID)

	// Clearing either reference drops the trip back to scheduled.
	assigned := trip("T1", "V1", "D1", models.TripStatusAssigned)
	require.NoError(t, r.AssignTrip(context.Background(), assigned, "V1", ""))
	assert.Equal(t, models.TripStatusScheduled, fs.lastSet().Status)
}

func TestResolver_AssignTripNotifiesNewDriverOnce(t *testing.T) {
	fs := &fakeTripStore{}
	r, _, notifier := newTestResolver(t, fs, nil)

	unassigned := trip("T1", "", "", models.TripStatusScheduled)
	require.NoError(t, r.AssignTrip(context.Background(), unassigned, "V1", "D1"))
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "D1", notifier.calls[0].driverID)
	assert.Equal(t, "C1", notifier.calls[0].companyID)

	// Re-assigning with the same driver does not notify again.
	assigned := trip("T1", "V1", "D1", models.TripStatusAssigned)
	require.NoError(t, r.AssignTrip(context.Background(), assigned, "V2", "D1"))
	assert.Len(t, notifier.calls, 1)

	// Clearing the driver does not notify.
	require.NoError(t, r.AssignTrip(context.Background(), assigned, "V1", ""))
	assert.Len(t, notifier.calls, 1)

	// A different driver does.
	require.NoError(t, r.AssignTrip(context.Background(), assigned, "V1", "D2"))
	require.Len(t, notifier.calls, 2)
	assert.Equal(t, "D2", notifier.calls[1].driverID)
}

func TestResolver_AssignTripNoNotificationOnFailedPersist(t *testing.T) {
	fs := &fakeTripStore{setErr: apperrors.Transient("set trip", assert.AnError)}
	r, _, notifier := newTestResolver(t, fs, nil)

	unassigned := trip("T1", "", "", models.TripStatusScheduled)
	require.Error(t, r.AssignTrip(context.Background(), unassigned, "V1", "D1"))
	assert.Empty(t, notifier.calls)
}

func TestResolver_StartTripStampsPickupOnce(t *testing.T) {
	fs := &fakeTripStore{}
	r, _, _ := newTestResolver(t, fs, nil)
	started := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
	r.now = func() time.Time { return started }

	assigned := trip("T1", "V1", "D1", models.TripStatusAssigned)
	require.NoError(t, r.StartTrip(context.Background(), assigned))
	persisted := fs.lastSet()
	assert.Equal(t, models.TripStatusInProgress, persisted.Status)
	require.NotNil(t, persisted.ActualPickupTime)
	assert.Equal(t, started, *persisted.ActualPickupTime)

	// Repeating the call keeps the original stamp.
	r.now = func() time.Time { return started.Add(time.Hour) }
	require.NoError(t, r.StartTrip(context.Background(), persisted))
	again := fs.lastSet()
	require.NotNil(t, again.ActualPickupTime)
	assert.Equal(t, started, *again.ActualPickupTime)
}

func TestResolver_StartTripRejectsWrongStatus(t *testing.T) {
	fs := &fakeTripStore{}
	r, _, _ := newTestResolver(t, fs, nil)

	scheduled := trip("T1", "", "", models.TripStatusScheduled)
	err := r.StartTrip(context.Background(), scheduled)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Empty(t, fs.setCalls)
}

func TestResolver_CompleteTripStampsDropoffOnce(t *testing.T) {
	fs := &fakeTripStore{}
	r, _, _ := newTestResolver(t, fs, nil)
	finished := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return finished }

	inProgress := trip("T1", "V1", "D1", models.TripStatusInProgress)
	pickup := finished.Add(-2 * time.Hour)
	inProgress.ActualPickupTime = &pickup

	require.NoError(t, r.CompleteTrip(context.Background(), inProgress))
	persisted := fs.lastSet()
	assert.Equal(t, models.TripStatusCompleted, persisted.Status)
	require.NotNil(t, persisted.ActualDropoffTime)
	assert.Equal(t, finished, *persisted.ActualDropoffTime)
	assert.Equal(t, pickup, *persisted.ActualPickupTime, "pickup stamp untouched")

	r.now = func() time.Time { return finished.Add(time.Hour) }
	require.NoError(t, r.CompleteTrip(context.Background(), persisted))
	assert.Equal(t, finished, *fs.lastSet().ActualDropoffTime)
}

func TestResolver_CancelTrip(t *testing.T) {
	fs := &fakeTripStore{}
	r, _, _ := newTestResolver(t, fs, nil)

	inProgress := trip("T1", "V1", "D1", models.TripStatusInProgress)
	require.NoError(t, r.CancelTrip(context.Background(), inProgress))
	assert.Equal(t, models.TripStatusCancelled, fs.lastSet().Status)

	completed := trip("T2", "V1", "D1", models.TripStatusCompleted)
	err := r.CancelTrip(context.Background(), completed)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}
