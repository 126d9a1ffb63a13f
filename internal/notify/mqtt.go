// Package notify delivers driver-assignment pushes over MQTT and exposes
// the broker connection state as the connectivity signal the mutation
// controller polls.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

const (
	publishQoS     = 1
	connectTimeout = 10 * time.Second
)

// assignmentMessage is the payload published to the driver's assignment
// topic.
type assignmentMessage struct {
	TripID              string    `json:"trip_id"`
	TripNumber          string    `json:"trip_number"`
	CompanyID           string    `json:"company_id"`
	DriverID            string    `json:"driver_id"`
	VehicleID           string    `json:"vehicle_id"`
	PickupAddress       string    `json:"pickup_address"`
	DropoffAddress      string    `json:"dropoff_address"`
	ScheduledPickupTime time.Time `json:"scheduled_pickup_time"`
}

// MQTTDispatcher publishes assignment notifications and reports broker
// connectivity.
type MQTTDispatcher struct {
	client mqtt.Client
}

// NewMQTTDispatcher connects to the broker and returns the dispatcher.
func NewMQTTDispatcher(brokerURL, clientID string) (*MQTTDispatcher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}
	return &MQTTDispatcher{client: client}, nil
}

// IsConnected reports whether the broker link is up. The mutation controller
// uses this as its offline pre-check.
func (d *MQTTDispatcher) IsConnected() bool {
	return d.client.IsConnectionOpen()
}

// DriverAssigned publishes the assignment to the driver's topic.
// Fire-and-forget: failures are logged, never returned.
func (d *MQTTDispatcher) DriverAssigned(driverID, companyID string, trip models.Trip) {
	payload, err := json.Marshal(assignmentPayload(driverID, companyID, trip))
	if err != nil {
		log.WithError(err).Error("Failed to marshal assignment notification")
		return
	}
	topic := assignmentTopic(companyID, driverID)
	token := d.client.Publish(topic, publishQoS, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.WithError(err).WithField("topic", topic).Error("Failed to publish assignment notification")
			return
		}
		log.WithFields(log.Fields{
			"topic":   topic,
			"trip_id": trip.ID,
		}).Info("Published assignment notification")
	}()
}

// Disconnect closes the broker link.
func (d *MQTTDispatcher) Disconnect() {
	d.client.Disconnect(250)
}

func assignmentTopic(companyID, driverID string) string {
	return fmt.Sprintf("fleet/%s/drivers/%s/assignments", companyID, driverID)
}

func assignmentPayload(driverID, companyID string, trip models.Trip) assignmentMessage {
	return assignmentMessage{
		TripID:              trip.ID,
		TripNumber:          trip.TripNumber,
		CompanyID:           companyID,
		DriverID:            driverID,
		VehicleID:           trip.VehicleID,
		PickupAddress:       trip.PickupLocation.Address,
		DropoffAddress:      trip.DropoffLocation.Address,
		ScheduledPickupTime: trip.ScheduledPickupTime,
	}
}
