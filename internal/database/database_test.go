package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/comunidade-viva/eventos-api/internal/config"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, Migrate(db)
}

func TestIsPreparedStatementError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"missing statement code", &pgconn.PgError{Code: "26000"}, true},
		{"duplicate statement code", &pgconn.PgError{Code: "42P05"}, true},
		{"wrapped code", fmt.Errorf("query: %w", &pgconn.PgError{Code: "26000"}), true},
		{"other pg code", &pgconn.PgError{Code: "23505"}, false},
		{"pooler message", errors.New(`ERROR: prepared statement "stmtcache_1" does not exist`), true},
		{"already exists message", errors.New(`prepared statement "s0" already exists`), true},
		{"unrelated", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPreparedStatementError(tt.err); got != tt.want {
				t.Errorf("IsPreparedStatementError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConn_DoRetriesOnceAfterReconnect(t *testing.T) {
	opens := 0
	conn, err := NewConn(func() (*gorm.DB, error) {
		opens++
		return openMemory()
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConn returned error: %v", err)
	}

	calls := 0
	err = conn.Do(context.Background(), func(db *gorm.DB) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "26000", Message: "prepared statement does not exist"}
		}
		return db.Create(&models.Event{Title: "Retiro"}).Error
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if opens != 2 {
		t.Errorf("expected exactly one reconnect, got %d opens", opens)
	}
}

func TestConn_DoGivesUpAfterSecondFailure(t *testing.T) {
	opens := 0
	conn, _ := NewConn(func() (*gorm.DB, error) {
		opens++
		return openMemory()
	}, zerolog.Nop())

	calls := 0
	err := conn.Do(context.Background(), func(db *gorm.DB) error {
		calls++
		return &pgconn.PgError{Code: "42P05"}
	})

	if !IsPreparedStatementError(err) {
		t.Errorf("expected the second prepared statement error, got %v", err)
	}
	if calls != 2 || opens != 2 {
		t.Errorf("expected 2 calls and 2 opens, got %d and %d", calls, opens)
	}
}

func TestConn_DoDoesNotRetryOtherErrors(t *testing.T) {
	opens := 0
	conn, _ := NewConn(func() (*gorm.DB, error) {
		opens++
		return openMemory()
	}, zerolog.Nop())

	boom := errors.New("boom")
	calls := 0
	err := conn.Do(context.Background(), func(db *gorm.DB) error {
		calls++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if calls != 1 || opens != 1 {
		t.Errorf("expected no retry, got %d calls and %d opens", calls, opens)
	}
}

func TestConn_SeedAdmin(t *testing.T) {
	db, err := openMemory()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	conn := Wrap(db)
	cfg := &config.Config{AdminName: "Admin", AdminEmail: "admin@example.com", AdminPassword: "s3cret"}

	if err := conn.SeedAdmin(context.Background(), cfg); err != nil {
		t.Fatalf("SeedAdmin returned error: %v", err)
	}
	// Second run must not duplicate.
	if err := conn.SeedAdmin(context.Background(), cfg); err != nil {
		t.Fatalf("SeedAdmin returned error: %v", err)
	}

	var users []models.User
	db.Find(&users)
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Role != models.RoleAdmin {
		t.Errorf("expected ADMIN role, got %s", users[0].Role)
	}
	if bcrypt.CompareHashAndPassword([]byte(users[0].PasswordHash), []byte("s3cret")) != nil {
		t.Error("stored hash does not match password")
	}
}

func TestConn_SeedAdminSkipsWithoutCredentials(t *testing.T) {
	db, _ := openMemory()
	conn := Wrap(db)

	if err := conn.SeedAdmin(context.Background(), &config.Config{}); err != nil {
		t.Fatalf("SeedAdmin returned error: %v", err)
	}

	var count int64
	db.Model(&models.User{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no users, got %d", count)
	}
}
