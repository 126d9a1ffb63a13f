// Package store defines the remote document store contract the sync engine
// and mutation controller depend on, plus its MongoDB implementation.
package store

import (
	"context"
	"strings"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// ChangeType tags a change-feed event.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// ChangeEvent is one entry of the push feed. Removed events carry only the
// document id.
type ChangeEvent struct {
	Type ChangeType
	ID   string
	Trip models.Trip
}

// Filter scopes a trip query or subscription. CompanyID is required; DriverID
// and Statuses narrow the result when set.
type Filter struct {
	CompanyID string
	DriverID  string
	Statuses  []models.TripStatus
}

// Key identifies a subscription for last-subscriber-wins replacement.
func (f Filter) Key() string {
	parts := []string{f.CompanyID, f.DriverID}
	for _, s := range f.Statuses {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, "|")
}

// Matches reports whether a trip falls inside the filter.
func (f Filter) Matches(t models.Trip) bool {
	if t.CompanyID != f.CompanyID {
		return false
	}
	if f.DriverID != "" && t.DriverID != f.DriverID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}

// Feed is an open change-feed subscription. Events delivers batches until the
// feed terminates; Err reports the terminal cause after Events is closed, nil
// for an ordinary close.
type Feed interface {
	Events() <-chan []ChangeEvent
	Err() error
	Close()
}

// TripStore is the remote document store for trips. Implementations classify
// failures through the apperrors package so callers can branch on kind.
type TripStore interface {
	// Query returns trips matching the filter sorted ascending by scheduled
	// pickup time. limit <= 0 means no limit.
	Query(ctx context.Context, f Filter, limit int64) ([]models.Trip, error)
	// Subscribe opens a change feed for the filter with at-least-once
	// delivery of events.
	Subscribe(ctx context.Context, f Filter) (Feed, error)
	// Set creates or fully updates a trip. A trip with an empty ID receives
	// a store-assigned one, returned to the caller.
	Set(ctx context.Context, trip models.Trip) (string, error)
	// Delete removes a trip by id. Deleting an absent id reports a not-found
	// classified error.
	Delete(ctx context.Context, id string) error
}

// RosterStore serves the vehicle and driver rosters the availability
// resolver works against.
type RosterStore interface {
	Vehicles(ctx context.Context, companyID string) ([]models.Vehicle, error)
	Drivers(ctx context.Context, companyID string) ([]models.Driver, error)
}
