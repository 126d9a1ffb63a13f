package models

import (
	"time"
)

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripStatusScheduled  TripStatus = "scheduled"
	TripStatusAssigned   TripStatus = "assigned"
	TripStatusInProgress TripStatus = "in_progress"
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s TripStatus) Terminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

// CanTransition reports whether the state machine permits moving from s to
// next. Assignment moves scheduled <-> assigned, drivers move assigned ->
// in_progress -> completed, and any non-terminal state may be cancelled.
func (s TripStatus) CanTransition(next TripStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == TripStatusCancelled {
		return true
	}
	switch s {
	case TripStatusScheduled:
		return next == TripStatusAssigned
	case TripStatusAssigned:
		return next == TripStatusScheduled || next == TripStatusInProgress
	case TripStatusInProgress:
		return next == TripStatusCompleted
	}
	return false
}

// TripCategory distinguishes passenger movements from cargo runs. Set at
// creation, immutable afterwards.
type TripCategory string

const (
	TripCategoryPassenger TripCategory = "passenger"
	TripCategoryCargo     TripCategory = "cargo"
)

// Place is a named point with address text. Coordinates are carried for the
// map views but unused by the dispatch core.
type Place struct {
	Name    string  `json:"name" bson:"name"`
	Address string  `json:"address" bson:"address"`
	Lat     float64 `json:"lat" bson:"lat"`
	Lon     float64 `json:"lon" bson:"lon"`
}

// Trip represents one scheduled movement of passengers or cargo.
//
// VehicleID and DriverID use the empty string as the "unassigned" sentinel;
// callers should go through Assigned and DeriveStatus rather than comparing
// against "" inline.
type Trip struct {
	ID                   string       `json:"id" bson:"_id,omitempty"`
	CompanyID            string       `json:"company_id" bson:"company_id"`
	VehicleID            string       `json:"vehicle_id" bson:"vehicle_id"`
	DriverID             string       `json:"driver_id" bson:"driver_id"`
	TripNumber           string       `json:"trip_number" bson:"trip_number"`
	PickupLocation       Place        `json:"pickup_location" bson:"pickup_location"`
	DropoffLocation      Place        `json:"dropoff_location" bson:"dropoff_location"`
	ScheduledPickupTime  time.Time    `json:"scheduled_pickup_time" bson:"scheduled_pickup_time"`
	ScheduledDropoffTime time.Time    `json:"scheduled_dropoff_time" bson:"scheduled_dropoff_time"`
	ActualPickupTime     *time.Time   `json:"actual_pickup_time,omitempty" bson:"actual_pickup_time,omitempty"`
	ActualDropoffTime    *time.Time   `json:"actual_dropoff_time,omitempty" bson:"actual_dropoff_time,omitempty"`
	PassengerCount       int          `json:"passenger_count" bson:"passenger_count"`
	Fare                 *float64     `json:"fare,omitempty" bson:"fare,omitempty"`
	Category             TripCategory `json:"category" bson:"category"`
	Status               TripStatus   `json:"status" bson:"status"`
	CreatedAt            time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at" bson:"updated_at"`
}

// Assigned reports whether both a vehicle and a driver are set.
func (t *Trip) Assigned() bool {
	return t.VehicleID != "" && t.DriverID != ""
}

// DeriveStatus returns the status an assignment of the given references
// produces: assigned when both are set, scheduled otherwise.
func DeriveStatus(vehicleID, driverID string) TripStatus {
	if vehicleID != "" && driverID != "" {
		return TripStatusAssigned
	}
	return TripStatusScheduled
}

// StaleAfter is how far in the past a scheduled pickup may lie before the
// trip is dropped from local snapshots.
const StaleAfter = 30 * 24 * time.Hour

// Stale reports whether the trip's scheduled pickup is more than 30 days
// before now.
func (t *Trip) Stale(now time.Time) bool {
	return t.ScheduledPickupTime.Before(now.Add(-StaleAfter))
}
