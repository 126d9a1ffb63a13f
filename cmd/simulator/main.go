package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/store"
)

// The simulator seeds a company fleet into MongoDB and keeps mutating trips
// on a ticker so the change stream exercises reconciliation end to end.

var addresses = []string{
	"12 Harbour Street", "240 Victoria Road", "8 Station Approach",
	"55 Mill Lane", "3 Cathedral Square", "190 Longwater Avenue",
	"27 Quayside", "81 Castle Hill", "14 Orchard Close", "66 Bridge End",
}

var driverNames = []string{
	"Arthur Bell", "Nadia Osman", "Piotr Kowalski", "Grace Endo",
	"Marco Silva", "Leyla Demir", "Sam Whittaker", "Ines Costa",
}

func randomPlace() models.Place {
	addr := addresses[rand.Intn(len(addresses))]
	return models.Place{Name: addr, Address: addr}
}

func seedVehicles(ctx context.Context, s *store.MongoRosterStore, companyID string, n int) []string {
	makes := []string{"Ford", "Mercedes", "Iveco", "Toyota", "Volkswagen"}
	vehicleModels := []string{"Transit", "Sprinter", "Daily", "HiAce", "Crafter"}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v := models.Vehicle{
			ID:           uuid.NewString(),
			CompanyID:    companyID,
			PlateNumber:  fmt.Sprintf("FL-%03d-%c", rand.Intn(1000), 'A'+rune(rand.Intn(26))),
			Make:         makes[rand.Intn(len(makes))],
			Model:        vehicleModels[rand.Intn(len(vehicleModels))],
			Year:         2018 + rand.Intn(7),
			SeatCapacity: 4 + rand.Intn(12),
			Status:       "active",
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		if _, err := s.VehiclesCollection.InsertOne(ctx, v); err != nil {
			log.WithError(err).Error("Failed to seed vehicle")
			continue
		}
		ids = append(ids, v.ID)
	}
	log.WithField("vehicles", len(ids)).Info("Seeded vehicles")
	return ids
}

func seedDrivers(ctx context.Context, s *store.MongoRosterStore, companyID string, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		d := models.Driver{
			ID:            uuid.NewString(),
			CompanyID:     companyID,
			Name:          driverNames[i%len(driverNames)],
			Phone:         fmt.Sprintf("+44 7700 900%03d", rand.Intn(1000)),
			LicenseNumber: fmt.Sprintf("DL%08d", rand.Intn(100000000)),
			Status:        "active",
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		if _, err := s.DriversCollection.InsertOne(ctx, d); err != nil {
			log.WithError(err).Error("Failed to seed driver")
			continue
		}
		ids = append(ids, d.ID)
	}
	log.WithField("drivers", len(ids)).Info("Seeded drivers")
	return ids
}

func newTrip(companyID, tripNumber string) models.Trip {
	pickup := time.Now().Add(time.Duration(rand.Intn(72)) * time.Hour)
	category := models.TripCategoryPassenger
	if rand.Intn(4) == 0 {
		category = models.TripCategoryCargo
	}
	fare := float64(20 + rand.Intn(180))
	return models.Trip{
		CompanyID:            companyID,
		TripNumber:           tripNumber,
		PickupLocation:       randomPlace(),
		DropoffLocation:      randomPlace(),
		ScheduledPickupTime:  pickup,
		ScheduledDropoffTime: pickup.Add(time.Duration(30+rand.Intn(180)) * time.Minute),
		PassengerCount:       rand.Intn(8),
		Fare:                 &fare,
		Category:             category,
		Status:               models.TripStatusScheduled,
	}
}

// advance pushes a trip one step through its lifecycle.
func advance(trip models.Trip, vehicleIDs, driverIDs []string, now time.Time) models.Trip {
	switch trip.Status {
	case models.TripStatusScheduled:
		trip.VehicleID = vehicleIDs[rand.Intn(len(vehicleIDs))]
		trip.DriverID = driverIDs[rand.Intn(len(driverIDs))]
		trip.Status = models.DeriveStatus(trip.VehicleID, trip.DriverID)
	case models.TripStatusAssigned:
		if trip.ActualPickupTime == nil {
			trip.ActualPickupTime = &now
		}
		trip.Status = models.TripStatusInProgress
	case models.TripStatusInProgress:
		if trip.ActualDropoffTime == nil {
			trip.ActualDropoffTime = &now
		}
		trip.Status = models.TripStatusCompleted
	}
	return trip
}

func main() {
	cfg := config.Load()
	companyID := cfg.CompanyID
	if companyID == "" {
		companyID = "sim-company"
	}

	fleetSize := 10
	if val := os.Getenv("FLEET_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			fleetSize = n
		}
	}
	interval := 2 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	log.WithFields(log.Fields{
		"company_id": companyID,
		"fleet_size": fleetSize,
		"interval":   interval,
	}).Info("Starting dispatch simulation")

	client, err := store.ConnectMongo(cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer client.Disconnect(context.Background())
	db := client.Database(cfg.MongoDatabase)

	tripStore := &store.MongoTripStore{Collection: db.Collection("trips")}
	rosterStore := &store.MongoRosterStore{
		VehiclesCollection: db.Collection("vehicles"),
		DriversCollection:  db.Collection("drivers"),
	}

	ctx := context.Background()
	vehicleIDs := seedVehicles(ctx, rosterStore, companyID, fleetSize)
	driverIDs := seedDrivers(ctx, rosterStore, companyID, fleetSize)
	if len(vehicleIDs) == 0 || len(driverIDs) == 0 {
		log.Error("Nothing seeded. Ensure MongoDB is reachable. Exiting.")
		return
	}

	allocator := dispatch.NewTripNumberAllocator(tripStore)

	tick := time.NewTicker(interval)
	defer tick.Stop()
	for range tick.C {
		trips, err := tripStore.Query(ctx, store.Filter{CompanyID: companyID}, 0)
		if err != nil {
			log.WithError(err).Error("Failed to query trips")
			continue
		}

		// Keep a handful of open trips in flight.
		open := 0
		for _, t := range trips {
			if !t.Status.Terminal() {
				open++
			}
		}
		if open < fleetSize/2 {
			tripNumber := allocator.Generate(ctx, companyID)
			if id, err := tripStore.Set(ctx, newTrip(companyID, tripNumber)); err != nil {
				log.WithError(err).Error("Failed to create trip")
			} else {
				log.WithField("trip_id", id).Info("Created trip")
			}
		}

		// Advance one random open trip per tick.
		for _, i := range rand.Perm(len(trips)) {
			t := trips[i]
			if t.Status.Terminal() {
				continue
			}
			advanced := advance(t, vehicleIDs, driverIDs, time.Now())
			if _, err := tripStore.Set(ctx, advanced); err != nil {
				log.WithError(err).Error("Failed to advance trip")
				break
			}
			log.WithFields(log.Fields{
				"trip_id": t.ID,
				"from":    t.Status,
				"to":      advanced.Status,
			}).Info("Advanced trip")
			break
		}

		// Occasionally drop a completed trip to exercise removals.
		if rand.Intn(5) == 0 {
			for _, t := range trips {
				if t.Status == models.TripStatusCompleted {
					if err := tripStore.Delete(ctx, t.ID); err != nil {
						log.WithError(err).Error("Failed to delete trip")
					} else {
						log.WithField("trip_id", t.ID).Info("Deleted completed trip")
					}
					break
				}
			}
		}
	}
}
