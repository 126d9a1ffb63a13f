package tripsync

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/store"
)

// ConnectivityMonitor reports whether the device currently has a network
// path to the remote store. Polled synchronously before every mutation.
type ConnectivityMonitor interface {
	IsConnected() bool
}

// Op tags a mutation for replay.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// RetryOp is the replayable record of the last failed mutation: the
// operation tag plus its captured arguments. It is a plain value so it can
// be inspected by tests and the UI rather than a captured closure.
type RetryOp struct {
	Op   Op
	Trip models.Trip // add / update
	ID   string      // delete
}

// Mutator applies trip mutations optimistically against the engine's local
// collection and reconciles them with the remote outcome. Failures are
// absorbed here and turned into (message, retryable, retry command) state;
// they never propagate rollback duties to callers.
type Mutator struct {
	store   store.TripStore
	engine  *Engine
	monitor ConnectivityMonitor

	mu      sync.Mutex
	retry   *RetryOp
	lastErr error
}

// NewMutator builds a mutation controller over the engine's collection.
func NewMutator(s store.TripStore, e *Engine, monitor ConnectivityMonitor) *Mutator {
	return &Mutator{store: s, engine: e, monitor: monitor}
}

// AddTrip persists a new trip. The authoritative copy lands through the
// engine's own feed event once the store confirms; inserting it here as well
// would race the feed into a duplicate.
func (m *Mutator) AddTrip(ctx context.Context, trip models.Trip) error {
	m.discardRetry()
	if err := validateTrip(trip); err != nil {
		m.fail(err, nil)
		return err
	}
	if !m.monitor.IsConnected() {
		err := apperrors.Offline("add trip")
		m.fail(err, &RetryOp{Op: OpAdd, Trip: trip})
		return err
	}
	if _, err := m.store.Set(ctx, trip); err != nil {
		return m.resolve(err, &RetryOp{Op: OpAdd, Trip: trip}, nil)
	}
	m.clear()
	return nil
}

// UpdateTrip persists changes to an existing trip. As with AddTrip, the
// local collection is updated by the resulting feed event, not here.
func (m *Mutator) UpdateTrip(ctx context.Context, trip models.Trip) error {
	m.discardRetry()
	if err := validateTrip(trip); err != nil {
		m.fail(err, nil)
		return err
	}
	if !m.monitor.IsConnected() {
		err := apperrors.Offline("update trip")
		m.fail(err, &RetryOp{Op: OpUpdate, Trip: trip})
		return err
	}
	if _, err := m.store.Set(ctx, trip); err != nil {
		return m.resolve(err, &RetryOp{Op: OpUpdate, Trip: trip}, nil)
	}
	m.clear()
	return nil
}

// DeleteTrip removes the trip locally first, retaining a copy, then issues
// the remote delete. A not-found outcome means the trip was already gone and
// counts as success.
func (m *Mutator) DeleteTrip(ctx context.Context, id string) error {
	m.discardRetry()
	if !m.monitor.IsConnected() {
		err := apperrors.Offline("delete trip")
		m.fail(err, &RetryOp{Op: OpDelete, ID: id})
		return err
	}

	removed, had := m.engine.Remove(id)

	err := m.store.Delete(ctx, id)
	if err == nil || apperrors.KindOf(err) == apperrors.KindNotFound {
		m.clear()
		return nil
	}
	rollback := func() {
		if had {
			log.WithField("trip_id", id).Info("Rolling back optimistic delete")
			m.engine.Restore(removed)
		}
	}
	return m.resolve(err, &RetryOp{Op: OpDelete, ID: id}, rollback)
}

// Retry replays the pending retry command, if any. It re-enters the normal
// mutation path, including the connectivity pre-check.
func (m *Mutator) Retry(ctx context.Context) error {
	op := m.PendingRetry()
	if op == nil {
		return nil
	}
	switch op.Op {
	case OpAdd:
		return m.AddTrip(ctx, op.Trip)
	case OpUpdate:
		return m.UpdateTrip(ctx, op.Trip)
	case OpDelete:
		return m.DeleteTrip(ctx, op.ID)
	}
	return nil
}

// PendingRetry returns a copy of the stored retry command, nil when none is
// pending.
func (m *Mutator) PendingRetry() *RetryOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retry == nil {
		return nil
	}
	op := *m.retry
	return &op
}

// LastError returns the classified error of the most recent failed mutation,
// nil after a success.
func (m *Mutator) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ErrorMessage returns the user-facing message for the current error state.
func (m *Mutator) ErrorMessage() string {
	return apperrors.Message(m.LastError())
}

// Retryable reports whether the current error state can be replayed.
func (m *Mutator) Retryable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retry != nil
}

// resolve classifies a mutation failure and applies the matching policy:
// permission denials roll back without a retry command, transient and
// unknown failures roll back and capture one, anything else just surfaces.
func (m *Mutator) resolve(err error, retry *RetryOp, rollback func()) error {
	switch apperrors.KindOf(err) {
	case apperrors.KindPermissionDenied:
		if rollback != nil {
			rollback()
		}
		m.fail(err, nil)
	case apperrors.KindTransient, apperrors.KindUnknown:
		if rollback != nil {
			rollback()
		}
		m.fail(err, retry)
	default:
		m.fail(err, nil)
	}
	return err
}

func (m *Mutator) fail(err error, retry *RetryOp) {
	m.mu.Lock()
	m.lastErr = err
	m.retry = retry
	m.mu.Unlock()
	log.WithError(err).WithField("retryable", retry != nil).Warn("Trip mutation failed")
}

func (m *Mutator) clear() {
	m.mu.Lock()
	m.lastErr = nil
	m.retry = nil
	m.mu.Unlock()
}

// discardRetry drops any pending retry command: a new mutation always
// supersedes the previous failure.
func (m *Mutator) discardRetry() {
	m.mu.Lock()
	m.retry = nil
	m.mu.Unlock()
}

// validateTrip rejects structurally invalid trips before anything is sent or
// applied locally.
func validateTrip(t models.Trip) error {
	switch {
	case t.CompanyID == "":
		return apperrors.Validation("validate trip", errors.New("trip must belong to a company"))
	case t.PassengerCount < 0:
		return apperrors.Validation("validate trip", errors.New("passenger count cannot be negative"))
	case t.Fare != nil && *t.Fare < 0:
		return apperrors.Validation("validate trip", errors.New("fare cannot be negative"))
	case t.Category != models.TripCategoryPassenger && t.Category != models.TripCategoryCargo:
		return apperrors.Validation("validate trip", errors.New("unknown trip category"))
	}
	return nil
}
