package models

import (
	"time"
)

// Vehicle represents a fleet vehicle.
type Vehicle struct {
	ID           string    `json:"id" bson:"_id,omitempty"`
	CompanyID    string    `json:"company_id" bson:"company_id"`
	PlateNumber  string    `json:"plate_number" bson:"plate_number"`
	Make         string    `json:"make" bson:"make"`
	Model        string    `json:"model" bson:"model"`
	Year         int       `json:"year" bson:"year"`
	SeatCapacity int       `json:"seat_capacity" bson:"seat_capacity"`
	Status       string    `json:"status" bson:"status"` // "active" or "inactive"
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}
