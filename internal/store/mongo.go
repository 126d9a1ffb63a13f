package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// ConnectMongo connects to MongoDB and verifies the connection.
func ConnectMongo(uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// Mongo server error codes treated as transient.
var transientCodes = []int{
	6,     // HostUnreachable
	89,    // NetworkTimeout
	91,    // ShutdownInProgress
	11600, // InterruptedAtShutdown
	262,   // ExceededTimeLimit
}

// classify translates a raw driver error into its apperrors kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperrors.NotFound(op, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorCode(13) { // Unauthorized
			return apperrors.PermissionDenied(op, err)
		}
		for _, code := range transientCodes {
			if se.HasErrorCode(code) {
				return apperrors.Transient(op, err)
			}
		}
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Transient(op, err)
	}
	return apperrors.Unknown(op, err)
}

// MongoTripStore implements TripStore on a trips collection, using change
// streams for the push feed.
type MongoTripStore struct {
	Collection *mongo.Collection
}

func (s *MongoTripStore) filterDoc(f Filter) bson.M {
	doc := bson.M{"company_id": f.CompanyID}
	if f.DriverID != "" {
		doc["driver_id"] = f.DriverID
	}
	if len(f.Statuses) > 0 {
		doc["status"] = bson.M{"$in": f.Statuses}
	}
	return doc
}

// Query returns matching trips sorted ascending by scheduled pickup time.
func (s *MongoTripStore) Query(ctx context.Context, f Filter, limit int64) ([]models.Trip, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_pickup_time", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := s.Collection.Find(ctx, s.filterDoc(f), opts)
	if err != nil {
		return nil, classify("query trips", err)
	}
	defer cursor.Close(ctx)
	var trips []models.Trip
	if err := cursor.All(ctx, &trips); err != nil {
		return nil, classify("query trips", err)
	}
	return trips, nil
}

// Set creates or fully replaces a trip. Trips without an id get a
// store-assigned one; CreatedAt is stamped on first persist and UpdatedAt on
// every call.
func (s *MongoTripStore) Set(ctx context.Context, trip models.Trip) (string, error) {
	now := time.Now()
	if trip.ID == "" {
		trip.ID = uuid.NewString()
	}
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = now
	}
	trip.UpdatedAt = now
	_, err := s.Collection.ReplaceOne(ctx, bson.M{"_id": trip.ID}, trip,
		options.Replace().SetUpsert(true))
	if err != nil {
		return "", classify("set trip", err)
	}
	return trip.ID, nil
}

// Delete removes a trip by id.
func (s *MongoTripStore) Delete(ctx context.Context, id string) error {
	result, err := s.Collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return classify("delete trip", err)
	}
	if result.DeletedCount == 0 {
		return apperrors.NotFound("delete trip", fmt.Errorf("trip %s not found", id))
	}
	return nil
}

// changeStreamEvent is the subset of a change stream document we decode.
type changeStreamEvent struct {
	OperationType string      `bson:"operationType"`
	FullDocument  models.Trip `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// mongoFeed pumps change stream documents into event batches.
type mongoFeed struct {
	events chan []ChangeEvent
	cancel context.CancelFunc
	err    error
	done   chan struct{}
}

func (m *mongoFeed) Events() <-chan []ChangeEvent { return m.events }

func (m *mongoFeed) Err() error {
	<-m.done
	return m.err
}

func (m *mongoFeed) Close() {
	m.cancel()
	<-m.done
}

// changeStreamPipeline restricts the stream to the company's documents so
// one subscription does not pay for the whole collection's write traffic.
// Deletes carry no document, so they always pass and the consumer drops ids
// it does not hold; driver and status narrowing stays client side.
func changeStreamPipeline(f Filter) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"operationType": "delete"},
			bson.M{"fullDocument.company_id": f.CompanyID},
		}}}},
	}
}

// Subscribe opens a change stream on the trips collection. The company
// predicate is pushed into the stream pipeline; the remaining filter fields
// are matched client side.
func (s *MongoTripStore) Subscribe(ctx context.Context, f Filter) (Feed, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := s.Collection.Watch(streamCtx, changeStreamPipeline(f), opts)
	if err != nil {
		cancel()
		return nil, classify("subscribe trips", err)
	}

	feed := &mongoFeed{
		events: make(chan []ChangeEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go feed.pump(streamCtx, stream, f)
	return feed, nil
}

func (m *mongoFeed) pump(ctx context.Context, stream *mongo.ChangeStream, f Filter) {
	defer close(m.done)
	defer close(m.events)
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var raw changeStreamEvent
		if err := stream.Decode(&raw); err != nil {
			log.WithError(err).Warn("Failed to decode change stream event")
			continue
		}
		ev, ok := translate(raw, f)
		if !ok {
			continue
		}
		select {
		case m.events <- []ChangeEvent{ev}:
		case <-ctx.Done():
			return
		}
	}
	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		m.err = classify("trip feed", err)
	}
}

func translate(raw changeStreamEvent, f Filter) (ChangeEvent, bool) {
	switch raw.OperationType {
	case "insert":
		if !f.Matches(raw.FullDocument) {
			return ChangeEvent{}, false
		}
		return ChangeEvent{Type: ChangeAdded, ID: raw.FullDocument.ID, Trip: raw.FullDocument}, true
	case "update", "replace":
		if !f.Matches(raw.FullDocument) {
			return ChangeEvent{}, false
		}
		return ChangeEvent{Type: ChangeModified, ID: raw.FullDocument.ID, Trip: raw.FullDocument}, true
	case "delete":
		return ChangeEvent{Type: ChangeRemoved, ID: raw.DocumentKey.ID}, true
	}
	return ChangeEvent{}, false
}

// MongoRosterStore implements RosterStore on the vehicles and drivers
// collections.
type MongoRosterStore struct {
	VehiclesCollection *mongo.Collection
	DriversCollection  *mongo.Collection
}

// Vehicles returns every vehicle registered to the company.
func (s *MongoRosterStore) Vehicles(ctx context.Context, companyID string) ([]models.Vehicle, error) {
	cursor, err := s.VehiclesCollection.Find(ctx, bson.M{"company_id": companyID})
	if err != nil {
		return nil, classify("query vehicles", err)
	}
	defer cursor.Close(ctx)
	var vehicles []models.Vehicle
	if err := cursor.All(ctx, &vehicles); err != nil {
		return nil, classify("query vehicles", err)
	}
	return vehicles, nil
}

// Drivers returns every driver registered to the company.
func (s *MongoRosterStore) Drivers(ctx context.Context, companyID string) ([]models.Driver, error) {
	cursor, err := s.DriversCollection.Find(ctx, bson.M{"company_id": companyID})
	if err != nil {
		return nil, classify("query drivers", err)
	}
	defer cursor.Close(ctx)
	var drivers []models.Driver
	if err := cursor.All(ctx, &drivers); err != nil {
		return nil, classify("query drivers", err)
	}
	return drivers, nil
}
