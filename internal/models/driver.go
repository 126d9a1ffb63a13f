package models

import (
	"time"
)

// Driver represents a driver on the company roster.
type Driver struct {
	ID            string    `json:"id" bson:"_id,omitempty"`
	CompanyID     string    `json:"company_id" bson:"company_id"`
	Name          string    `json:"name" bson:"name"`
	Phone         string    `json:"phone" bson:"phone"`
	Email         string    `json:"email" bson:"email"`
	LicenseNumber string    `json:"license_number" bson:"license_number"`
	Status        string    `json:"status" bson:"status"` // "active" or "inactive"
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}
