package models

import (
	"gorm.io/gorm"
)

const (
	HistorySourceCheckout = "checkout"
	HistorySourceWebhook  = "webhook"
	HistorySourceAdmin    = "admin"
)

// RegistrationHistory is one status transition of a registration.
type RegistrationHistory struct {
	gorm.Model
	RegistrationID uint               `json:"registration_id" gorm:"index"`
	FromStatus     RegistrationStatus `json:"from_status"`
	ToStatus       RegistrationStatus `json:"to_status"`
	Source         string             `json:"source"`
	ProviderStatus string             `json:"provider_status,omitempty"`
	ActorID        *uint              `json:"actor_id,omitempty"`
	Note           string             `json:"note,omitempty"`
}
