package models

import (
	"time"

	"gorm.io/gorm"
)

// APIKey lets a door scanner act as the staff member who issued it. Only the
// digest of the key is stored.
type APIKey struct {
	gorm.Model
	UserID     uint       `json:"user_id" gorm:"index"`
	User       User       `json:"-"`
	KeyHash    string     `json:"-" gorm:"uniqueIndex"`
	Hint       string     `json:"hint"`
	Name       string     `json:"name"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
