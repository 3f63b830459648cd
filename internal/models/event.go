package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Event struct {
	gorm.Model
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Location             string     `json:"location"`
	StartsAt             time.Time  `json:"starts_at"`
	RegistrationOpensAt  *time.Time `json:"registration_opens_at"`
	RegistrationClosesAt *time.Time `json:"registration_closes_at"`
	Price                float64    `json:"price"`
	// Capacity 0 means unlimited.
	Capacity int  `json:"capacity"`
	Active   bool `json:"active"`
	// PaymentConfig holds the fees.PaymentConfig document. NULL selects the
	// default configuration.
	PaymentConfig datatypes.JSON `json:"payment_config"`
}

// RegistrationOpen reports whether now falls inside the registration window.
func (e Event) RegistrationOpen(now time.Time) bool {
	if e.RegistrationOpensAt != nil && now.Before(*e.RegistrationOpensAt) {
		return false
	}
	if e.RegistrationClosesAt != nil && now.After(*e.RegistrationClosesAt) {
		return false
	}
	return true
}
