package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/comunidade-viva/eventos-api/internal/config"
	"github.com/comunidade-viva/eventos-api/internal/logging"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Conn owns the gorm handle and can swap it for a fresh one when the
// server-side prepared statement cache goes out of sync with the pool.
type Conn struct {
	mu   sync.RWMutex
	db   *gorm.DB
	open func() (*gorm.DB, error)
	log  zerolog.Logger
}

func Connect(cfg *config.Config, log zerolog.Logger) (*Conn, error) {
	open := func() (*gorm.DB, error) {
		return openDB(cfg, log)
	}

	db, err := open()
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return &Conn{db: db, open: open, log: log}, nil
}

// NewConn builds a Conn from an opener; the first handle is opened eagerly.
func NewConn(open func() (*gorm.DB, error), log zerolog.Logger) (*Conn, error) {
	db, err := open()
	if err != nil {
		return nil, err
	}
	return &Conn{db: db, open: open, log: log}, nil
}

// Wrap adapts an existing handle. Reconnect is a no-op on the result.
func Wrap(db *gorm.DB) *Conn {
	return &Conn{db: db, log: zerolog.Nop()}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Event{},
		&models.Registration{},
		&models.RegistrationHistory{},
		&models.APIKey{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func openDB(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logging.NewGormLogger(log)}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.DatabaseDriver) {
	case "postgres", "postgresql":
		if cfg.DatabaseDSN == "" {
			return nil, errors.New("DATABASE_DSN is required for postgres")
		}
		dialector = postgres.New(postgres.Config{DSN: cfg.DatabaseDSN})
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DatabasePath)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func (c *Conn) DB(ctx context.Context) *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db.WithContext(ctx)
}

// Reconnect opens a new handle and closes the old one.
func (c *Conn) Reconnect() error {
	if c.open == nil {
		return nil
	}

	fresh, err := c.open()
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}

	c.mu.Lock()
	old := c.db
	c.db = fresh
	c.mu.Unlock()

	if sqlDB, err := old.DB(); err == nil {
		sqlDB.Close()
	}
	return nil
}

// Do runs fn against the current handle. A prepared statement error forces
// one reconnect and a single retry; any other error is returned as is.
func (c *Conn) Do(ctx context.Context, fn func(db *gorm.DB) error) error {
	err := fn(c.DB(ctx))
	if err == nil || !IsPreparedStatementError(err) {
		return err
	}

	c.log.Warn().Err(err).Msg("prepared statement error, reconnecting")
	if rerr := c.Reconnect(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return fn(c.DB(ctx))
}

func (c *Conn) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsPreparedStatementError matches invalid_sql_statement_name (26000) and
// duplicate_prepared_statement (42P05), plus the messages poolers emit
// without a SQLSTATE.
func IsPreparedStatementError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "26000" || pgErr.Code == "42P05"
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "prepared statement") &&
		(strings.Contains(msg, "does not exist") || strings.Contains(msg, "already exists"))
}
