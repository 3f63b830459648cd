package handlers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/auth"
	"github.com/comunidade-viva/eventos-api/internal/config"
	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/fees"
	"github.com/comunidade-viva/eventos-api/internal/mercadopago"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/danielgtaylor/huma/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:    "test-secret",
		FrontendURL:  "https://eventos.test/",
		PublicAPIURL: "https://api.eventos.test",
	}
}

func newTestCalculator() *fees.Calculator {
	return fees.NewCalculator(fees.NewMemoryCache(time.Minute, time.Now))
}

func adminAuth() auth.AuthInput {
	return auth.AuthInput{UserID: "1", UserRole: models.RoleAdmin}
}

func staffAuth() auth.AuthInput {
	return auth.AuthInput{UserID: "2", UserRole: models.RoleStaff}
}

func createEvent(t *testing.T, db *gorm.DB, mutate func(*models.Event)) models.Event {
	t.Helper()
	event := models.Event{
		Title:    "Retiro de Primavera",
		StartsAt: time.Now().Add(30 * 24 * time.Hour),
		Price:    100,
		Active:   true,
	}
	if mutate != nil {
		mutate(&event)
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("failed to create event: %v", err)
	}
	return event
}

func createRegistration(t *testing.T, db *gorm.DB, reg models.Registration) models.Registration {
	t.Helper()
	if reg.Name == "" {
		reg.Name = "Participante"
	}
	if reg.Status == "" {
		reg.Status = models.StatusPending
	}
	if err := db.Create(&reg).Error; err != nil {
		t.Fatalf("failed to create registration: %v", err)
	}
	return reg
}

func statusOf(err error) int {
	var se huma.StatusError
	if errors.As(err, &se) {
		return se.GetStatus()
	}
	return 0
}

// fakeProvider records preference calls and serves payments from a map.
type fakeProvider struct {
	created   []mercadopago.PreferenceRequest
	updated   []string
	lookups   []string
	payments  map[string]*mercadopago.Payment
	createErr error
	getErr    error
}

func (p *fakeProvider) CreatePreference(_ context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created = append(p.created, req)
	id := fmt.Sprintf("pref-%d", len(p.created))
	return &mercadopago.Preference{
		ID:                mercadopago.ID(id),
		InitPoint:         "https://mp.test/checkout/" + id,
		ExternalReference: req.ExternalReference,
	}, nil
}

func (p *fakeProvider) UpdatePreference(_ context.Context, id string, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.updated = append(p.updated, id)
	return &mercadopago.Preference{
		ID:        mercadopago.ID(id),
		InitPoint: "https://mp.test/checkout/" + id,
	}, nil
}

func (p *fakeProvider) GetPayment(_ context.Context, id string) (*mercadopago.Payment, error) {
	p.lookups = append(p.lookups, id)
	if p.getErr != nil {
		return nil, p.getErr
	}
	payment, ok := p.payments[id]
	if !ok {
		return nil, &mercadopago.APIError{StatusCode: 404, Message: "Payment not found"}
	}
	return payment, nil
}

func (p *fakeProvider) calls() int {
	return len(p.created) + len(p.updated)
}

type recordingNotifier struct {
	confirmed []models.Registration
	events    []models.Event
}

func (n *recordingNotifier) NotifyConfirmed(event models.Event, reg models.Registration) error {
	n.confirmed = append(n.confirmed, reg)
	n.events = append(n.events, event)
	return nil
}
