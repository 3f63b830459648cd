package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/comunidade-viva/eventos-api/internal/config"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedAdmin creates the bootstrap administrator when ADMIN_EMAIL and
// ADMIN_PASSWORD are set and no user with that email exists yet.
func (c *Conn) SeedAdmin(ctx context.Context, cfg *config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))

	return c.Do(ctx, func(db *gorm.DB) error {
		var existing models.User
		err := db.Where("email = ?", email).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}

		admin := models.User{
			Name:         cfg.AdminName,
			Email:        email,
			PasswordHash: string(hash),
			Role:         models.RoleAdmin,
		}
		if err := db.Create(&admin).Error; err != nil {
			return err
		}
		c.log.Info().Str("email", admin.Email).Msg("seeded admin user")
		return nil
	})
}
