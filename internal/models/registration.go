package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RegistrationStatus string

const (
	StatusPending       RegistrationStatus = "PENDING"
	StatusConfirmed     RegistrationStatus = "CONFIRMED"
	StatusCancelled     RegistrationStatus = "CANCELLED"
	StatusPaymentFailed RegistrationStatus = "PAYMENT_FAILED"
)

func (s RegistrationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusPaymentFailed:
		return true
	}
	return false
}

// Terminal reports whether the webhook path treats the status as final.
func (s RegistrationStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusPaymentFailed
}

type Registration struct {
	gorm.Model
	EventID    uint               `json:"event_id" gorm:"index:idx_event_national_id"`
	Name       string             `json:"name"`
	Email      string             `json:"email"`
	NationalID string             `json:"national_id" gorm:"index:idx_event_national_id"`
	Phone      string             `json:"phone"`
	Status     RegistrationStatus `json:"status" gorm:"index;default:PENDING"`

	// PaymentID starts as the checkout preference id and is replaced by the
	// provider's payment id once a notification is reconciled.
	PaymentID         string         `json:"payment_id" gorm:"index"`
	PreferenceID      string         `json:"preference_id" gorm:"index"`
	MerchantOrderID   string         `json:"merchant_order_id" gorm:"index"`
	ExternalReference string         `json:"external_reference" gorm:"uniqueIndex"`
	PaymentError      *string        `json:"payment_error"`
	PaymentDetails    datatypes.JSON `json:"payment_details"`

	CheckedInAt *time.Time `json:"checked_in_at"`
	Version     uint       `json:"-" gorm:"not null;default:1"`
}

func (r *Registration) BeforeCreate(tx *gorm.DB) error {
	if r.ExternalReference == "" {
		r.ExternalReference = uuid.NewString()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}
