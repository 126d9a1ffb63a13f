package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/notify"
	"github.com/ukydev/fleet-dispatch/internal/store"
	"github.com/ukydev/fleet-dispatch/internal/tripsync"
)

func main() {
	cfg := config.Load()
	if cfg.CompanyID == "" {
		log.Fatal("COMPANY_ID is required")
	}

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

	dispatcher, err := notify.NewMQTTDispatcher(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MQTT broker")
	}
	defer dispatcher.Disconnect()

	engine := tripsync.NewEngine(tripStore)
	mutator := tripsync.NewMutator(tripStore, engine, dispatcher)
	resolver := dispatch.NewResolver(engine, mutator, rosterStore, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := resolver.RefreshRosters(ctx, cfg.CompanyID); err != nil {
		log.WithError(err).Warn("Initial roster refresh failed")
	}

	sub, err := engine.Subscribe(ctx, store.Filter{CompanyID: cfg.CompanyID})
	if err != nil {
		log.WithError(err).Fatal("Failed to subscribe to trip feed")
	}

	go func() {
		for snapshot := range sub.Snapshots() {
			log.WithFields(log.Fields{
				"company_id": cfg.CompanyID,
				"trips":      len(snapshot),
			}).Info("Trip snapshot updated")
		}
		if err := sub.Err(); err != nil {
			log.WithError(err).Error("Trip subscription ended")
			stop()
		}
	}()

	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"connected": dispatcher.IsConnected(),
			"trips":     len(engine.Current()),
		})
	})
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("Health endpoint listening")
		if err := http.ListenAndServe(cfg.HTTPAddr, nil); err != nil {
			log.WithError(err).Error("Health endpoint stopped")
		}
	}()

	<-ctx.Done()
	sub.Cancel()
	log.Info("Shutting down")
}
