package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const HeaderAPIKey = "X-API-Key"

var ErrInvalidAPIKey = errors.New("invalid api key")

// GenerateAPIKey returns a fresh random key and the digest to store for it.
func GenerateAPIKey() (key, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	key = hex.EncodeToString(b)
	return key, HashAPIKey(key), nil
}

func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// resolveAPIKey looks up the owner of key and stamps its last use.
func (h *AuthHandler) resolveAPIKey(ctx context.Context, key string) (uint, string, error) {
	var apiKey models.APIKey
	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Preload("User").Where("key_hash = ?", HashAPIKey(key)).First(&apiKey).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, "", ErrInvalidAPIKey
		}
		return 0, "", err
	}

	now := time.Now()
	if apiKey.Expired(now) || apiKey.User.ID == 0 {
		return 0, "", ErrInvalidAPIKey
	}

	if err := h.conn.DB(ctx).Model(&apiKey).UpdateColumn("last_used_at", now).Error; err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Uint("api_key_id", apiKey.ID).Msg("failed to record api key use")
	}
	return apiKey.UserID, apiKey.User.Role, nil
}
