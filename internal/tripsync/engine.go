// Package tripsync keeps the local, UI-bound trip collection consistent with
// the remote change feed while supporting optimistic local mutations with
// rollback and retry.
package tripsync

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/store"
)

// snapshotLimit bounds the initial bulk fetch.
const snapshotLimit = 50

// Subscription is one active snapshot stream. Snapshots delivers the current
// filtered, sorted trip list after every applied change; the channel holds
// only the latest snapshot, older unread ones are replaced. After Snapshots
// closes, Err reports the terminal feed error, nil for an ordinary cancel.
type Subscription struct {
	key         string
	filter      store.Filter
	fullReplace bool
	snapshots   chan []models.Trip
	cancel      context.CancelFunc
	done        chan struct{}
	err         error
}

// Key identifies the query this subscription serves.
func (s *Subscription) Key() string { return s.key }

// Snapshots is the stream of trip list snapshots.
func (s *Subscription) Snapshots() <-chan []models.Trip { return s.snapshots }

// Err blocks until the subscription has ended, then reports why.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Cancel tears the subscription down.
func (s *Subscription) Cancel() { s.cancel() }

// Engine owns the canonical local trip collection and reconciles the remote
// change feed into it. One subscription is active at a time; subscribing
// again replaces the previous one (last subscriber wins). All collection
// access is serialized through a single mutex, which is what keeps the
// apply-restate-emit cycle safe against the mutation controller.
type Engine struct {
	store store.TripStore

	mu    sync.Mutex
	trips []models.Trip
	sub   *Subscription

	now func() time.Time
}

// NewEngine builds an engine over the given trip store.
func NewEngine(s store.TripStore) *Engine {
	return &Engine{store: s, now: time.Now}
}

// Subscribe fetches the initial snapshot for the filter, replaces any
// previous local state, and follows the change feed until cancelled.
func (e *Engine) Subscribe(ctx context.Context, f store.Filter) (*Subscription, error) {
	return e.subscribe(ctx, f, false)
}

// SubscribeDriver scopes the stream to one driver's active workload
// (assigned or in-progress trips). The working set is small and short-lived,
// so every feed event triggers a full snapshot refetch instead of
// incremental diffing.
func (e *Engine) SubscribeDriver(ctx context.Context, companyID, driverID string) (*Subscription, error) {
	f := store.Filter{
		CompanyID: companyID,
		DriverID:  driverID,
		Statuses:  []models.TripStatus{models.TripStatusAssigned, models.TripStatusInProgress},
	}
	return e.subscribe(ctx, f, true)
}

func (e *Engine) subscribe(ctx context.Context, f store.Filter, fullReplace bool) (*Subscription, error) {
	e.teardown()

	subCtx, cancel := context.WithCancel(ctx)
	// The feed must be open before the bulk fetch: a trip written between the
	// two would otherwise be in neither, and modify events for absent ids
	// never insert. Events raced by the query wait in the feed and apply
	// idempotently on top of the snapshot.
	feed, err := e.store.Subscribe(subCtx, f)
	if err != nil {
		cancel()
		return nil, err
	}

	trips, err := e.store.Query(subCtx, f, snapshotLimit)
	if err != nil {
		cancel()
		feed.Close()
		return nil, err
	}

	sub := &Subscription{
		key:         f.Key(),
		filter:      f,
		fullReplace: fullReplace,
		snapshots:   make(chan []models.Trip, 1),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	e.mu.Lock()
	e.sub = sub
	e.replaceLocked(trips)
	e.emitLocked()
	e.mu.Unlock()

	log.WithFields(log.Fields{
		"key":   sub.key,
		"trips": len(trips),
	}).Info("Trip subscription started")

	go e.pump(subCtx, sub, feed)
	return sub, nil
}

// teardown cancels the active subscription and waits for its pump to exit.
func (e *Engine) teardown() {
	e.mu.Lock()
	old := e.sub
	e.sub = nil
	e.mu.Unlock()
	if old != nil {
		old.cancel()
		<-old.done
	}
}

func (e *Engine) pump(ctx context.Context, sub *Subscription, feed store.Feed) {
	defer close(sub.done)
	// Detach before closing so no emit can race the close.
	defer close(sub.snapshots)
	defer func() {
		e.mu.Lock()
		if e.sub == sub {
			e.sub = nil
		}
		e.mu.Unlock()
	}()

	for batch := range feed.Events() {
		if sub.fullReplace {
			e.refresh(ctx, sub)
			continue
		}
		e.apply(sub, batch)
	}
	if err := feed.Err(); err != nil {
		log.WithError(err).WithField("key", sub.key).Error("Trip feed terminated")
		sub.err = err
	}
}

// refresh re-queries the full snapshot for a full-replacement subscription.
// A failed refetch keeps the previous state rather than emitting nothing.
func (e *Engine) refresh(ctx context.Context, sub *Subscription) {
	trips, err := e.store.Query(ctx, sub.filter, snapshotLimit)
	if err != nil {
		log.WithError(err).WithField("key", sub.key).Warn("Snapshot refresh failed, keeping previous state")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub != sub {
		return
	}
	e.replaceLocked(trips)
	e.emitLocked()
}

// apply merges one batch of feed events into the collection, then re-derives
// the global invariants and emits a fresh snapshot. The feed may deliver
// events out of order relative to local optimistic edits, so trust nothing
// incremental: every batch ends in a full restate.
func (e *Engine) apply(sub *Subscription, batch []store.ChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub != sub {
		// Replaced while the batch was in flight.
		return
	}
	for _, ev := range batch {
		switch ev.Type {
		case store.ChangeAdded:
			if e.indexLocked(ev.Trip.ID) >= 0 {
				// Idempotent re-add: already present, no-op.
				continue
			}
			if ev.Trip.Stale(e.now()) {
				log.WithFields(log.Fields{
					"trip_id": ev.Trip.ID,
					"pickup":  ev.Trip.ScheduledPickupTime,
				}).Debug("Dropping stale trip from feed")
				continue
			}
			e.trips = append(e.trips, ev.Trip)
		case store.ChangeModified:
			// Absent entries may have been filtered out earlier; never insert
			// on modify.
			if i := e.indexLocked(ev.Trip.ID); i >= 0 {
				e.trips[i] = ev.Trip
			}
		case store.ChangeRemoved:
			if i := e.indexLocked(ev.ID); i >= 0 {
				e.trips = append(e.trips[:i], e.trips[i+1:]...)
			}
		}
	}
	e.restateLocked()
	e.emitLocked()
}

// Current returns a copy of the collection as last emitted.
func (e *Engine) Current() []models.Trip {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := make([]models.Trip, len(e.trips))
	copy(snap, e.trips)
	return snap
}

// Get looks a trip up by id in the local collection.
func (e *Engine) Get(id string) (models.Trip, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.indexLocked(id); i >= 0 {
		return e.trips[i], true
	}
	return models.Trip{}, false
}

// Remove deletes a trip from the local collection ahead of remote
// confirmation and returns the removed copy for rollback. Removing an absent
// id is a no-op.
func (e *Engine) Remove(id string) (models.Trip, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(id)
	if i < 0 {
		return models.Trip{}, false
	}
	removed := e.trips[i]
	e.trips = append(e.trips[:i], e.trips[i+1:]...)
	e.emitLocked()
	return removed, true
}

// Restore re-inserts a previously removed trip and re-establishes ordering.
func (e *Engine) Restore(t models.Trip) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexLocked(t.ID) < 0 {
		e.trips = append(e.trips, t)
	}
	e.restateLocked()
	e.emitLocked()
}

func (e *Engine) indexLocked(id string) int {
	for i := range e.trips {
		if e.trips[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) replaceLocked(trips []models.Trip) {
	e.trips = append(e.trips[:0:0], trips...)
	e.restateLocked()
}

// restateLocked re-derives the collection invariants: one entry per id, no
// stale trips, ascending by scheduled pickup time. Staleness is evaluated
// against wall-clock now at filter time, not at fetch time.
func (e *Engine) restateLocked() {
	now := e.now()
	seen := make(map[string]struct{}, len(e.trips))
	kept := e.trips[:0]
	for _, t := range e.trips {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		if t.Stale(now) {
			continue
		}
		kept = append(kept, t)
	}
	e.trips = kept
	sort.SliceStable(e.trips, func(i, j int) bool {
		return e.trips[i].ScheduledPickupTime.Before(e.trips[j].ScheduledPickupTime)
	})
}

// emitLocked delivers the current snapshot to the active subscription,
// replacing an unread older snapshot rather than blocking.
func (e *Engine) emitLocked() {
	if e.sub == nil {
		return
	}
	snap := make([]models.Trip, len(e.trips))
	copy(snap, e.trips)
	for {
		select {
		case e.sub.snapshots <- snap:
			return
		default:
			select {
			case <-e.sub.snapshots:
			default:
			}
		}
	}
}
