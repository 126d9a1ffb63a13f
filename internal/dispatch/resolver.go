// Package dispatch holds the assignment and availability logic built on top
// of the sync engine's current snapshot.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/store"
	"github.com/ukydev/fleet-dispatch/internal/tripsync"
)

// Notifier delivers the driver-assignment push. Fire-and-forget: the
// resolver consumes no result from it.
type Notifier interface {
	DriverAssigned(driverID, companyID string, trip models.Trip)
}

// Resolver computes vehicle and driver availability from the loaded rosters
// and the engine's current trip snapshot, and performs the assignment and
// lifecycle operations.
type Resolver struct {
	engine   *tripsync.Engine
	mutator  *tripsync.Mutator
	roster   store.RosterStore
	notifier Notifier

	mu       sync.Mutex
	vehicles []models.Vehicle
	drivers  []models.Driver

	now func() time.Time
}

// NewResolver builds a resolver. Call RefreshRosters before the availability
// queries are meaningful.
func NewResolver(e *tripsync.Engine, m *tripsync.Mutator, r store.RosterStore, n Notifier) *Resolver {
	return &Resolver{engine: e, mutator: m, roster: r, notifier: n, now: time.Now}
}

// RefreshRosters reloads the vehicle and driver rosters for the company.
func (r *Resolver) RefreshRosters(ctx context.Context, companyID string) error {
	vehicles, err := r.roster.Vehicles(ctx, companyID)
	if err != nil {
		return err
	}
	drivers, err := r.roster.Drivers(ctx, companyID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.vehicles = vehicles
	r.drivers = drivers
	r.mu.Unlock()
	return nil
}

// AvailableVehicles returns every loaded vehicle not referenced by any
// currently loaded trip. This is deliberately a coarse whole-roster check:
// trip status and time windows are not considered, so a vehicle on a
// completed trip still inside the snapshot window reads as unavailable.
func (r *Resolver) AvailableVehicles() []models.Vehicle {
	used := make(map[string]struct{})
	for _, t := range r.engine.Current() {
		if t.VehicleID != "" {
			used[t.VehicleID] = struct{}{}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var free []models.Vehicle
	for _, v := range r.vehicles {
		if _, taken := used[v.ID]; !taken {
			free = append(free, v)
		}
	}
	return free
}

// AvailableDrivers returns every loaded driver not referenced by any
// currently loaded trip. Same coarse policy as AvailableVehicles.
func (r *Resolver) AvailableDrivers() []models.Driver {
	used := make(map[string]struct{})
	for _, t := range r.engine.Current() {
		if t.DriverID != "" {
			used[t.DriverID] = struct{}{}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var free []models.Driver
	for _, d := range r.drivers {
		if _, taken := used[d.ID]; !taken {
			free = append(free, d)
		}
	}
	return free
}

// AssignTrip sets the trip's vehicle and driver references (empty string
// clears one), derives the resulting status, and persists the change. When
// the driver changed to a new non-empty id, the assignment notification
// fires exactly once after a successful persist.
func (r *Resolver) AssignTrip(ctx context.Context, trip models.Trip, vehicleID, driverID string) error {
	previousDriverID := trip.DriverID
	trip.VehicleID = vehicleID
	trip.DriverID = driverID
	trip.Status = models.DeriveStatus(vehicleID, driverID)

	if err := r.mutator.UpdateTrip(ctx, trip); err != nil {
		return err
	}
	if driverID != "" && driverID != previousDriverID {
		log.WithFields(log.Fields{
			"trip_id":   trip.ID,
			"driver_id": driverID,
		}).Info("Notifying driver of assignment")
		r.notifier.DriverAssigned(driverID, trip.CompanyID, trip)
	}
	return nil
}

// StartTrip moves an assigned trip into progress, stamping the actual pickup
// time only if it is not already set. Repeating the call on a trip already
// in progress is a no-op transition.
func (r *Resolver) StartTrip(ctx context.Context, trip models.Trip) error {
	if trip.Status != models.TripStatusAssigned && trip.Status != models.TripStatusInProgress {
		return apperrors.Validation("start trip",
			fmt.Errorf("cannot start trip in status %s", trip.Status))
	}
	if trip.ActualPickupTime == nil {
		now := r.now()
		trip.ActualPickupTime = &now
	}
	trip.Status = models.TripStatusInProgress
	return r.mutator.UpdateTrip(ctx, trip)
}

// CompleteTrip finishes a trip in progress, stamping the actual dropoff time
// only if it is not already set.
func (r *Resolver) CompleteTrip(ctx context.Context, trip models.Trip) error {
	if trip.Status != models.TripStatusInProgress && trip.Status != models.TripStatusCompleted {
		return apperrors.Validation("complete trip",
			fmt.Errorf("cannot complete trip in status %s", trip.Status))
	}
	if trip.ActualDropoffTime == nil {
		now := r.now()
		trip.ActualDropoffTime = &now
	}
	trip.Status = models.TripStatusCompleted
	return r.mutator.UpdateTrip(ctx, trip)
}

// CancelTrip cancels a trip from any non-terminal state.
func (r *Resolver) CancelTrip(ctx context.Context, trip models.Trip) error {
	if !trip.Status.CanTransition(models.TripStatusCancelled) {
		return apperrors.Validation("cancel trip",
			errors.New("trip is already completed or cancelled"))
	}
	trip.Status = models.TripStatusCancelled
	return r.mutator.UpdateTrip(ctx, trip)
}
