package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/store"
)

// TripNumberAllocator generates human-readable sequential trip numbers of
// the form TR-{yyyyMMdd}-{seq}. The sequence is advisory-unique only:
// concurrent calls for the same company and day can read the same count and
// allocate duplicates.
type TripNumberAllocator struct {
	store store.TripStore
	now   func() time.Time
	randN func(n int) int
}

// NewTripNumberAllocator builds an allocator over the trip store.
func NewTripNumberAllocator(s store.TripStore) *TripNumberAllocator {
	return &TripNumberAllocator{store: s, now: time.Now, randN: rand.Intn}
}

// Generate returns the next trip number for the company. The store fetch has
// no date filter; trips are counted locally against today's window. A fetch
// failure falls back to a random 4-digit suffix so the caller always
// receives a usable number.
func (a *TripNumberAllocator) Generate(ctx context.Context, companyID string) string {
	now := a.now()
	date := now.Format("20060102")

	trips, err := a.store.Query(ctx, store.Filter{CompanyID: companyID}, 0)
	if err != nil {
		log.WithError(err).WithField("company_id", companyID).
			Warn("Trip number fetch failed, falling back to random suffix")
		return fmt.Sprintf("TR-%s-%04d", date, a.randN(10000))
	}

	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	tomorrowStart := todayStart.AddDate(0, 0, 1)
	count := 0
	for _, t := range trips {
		if !t.CreatedAt.Before(todayStart) && t.CreatedAt.Before(tomorrowStart) {
			count++
		}
	}
	return fmt.Sprintf("TR-%s-%03d", date, count+1)
}
