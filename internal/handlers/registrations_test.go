package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func setupRegistrationHandler(t *testing.T) (*RegistrationHandler, *gorm.DB, *recordingNotifier) {
	db := setupTestDB(t)
	notifier := &recordingNotifier{}
	h := NewRegistrationHandler(database.Wrap(db), newTestCalculator(), notifier, zerolog.Nop(), false)
	return h, db, notifier
}

func withSelection(method string, installments int) models.PaymentDetails {
	return models.PaymentDetails{Selection: &models.PaymentSelection{
		Method:       method,
		Installments: installments,
		SelectedAt:   time.Now(),
	}}
}

func TestHandleCheckIn(t *testing.T) {
	h, db, _ := setupRegistrationHandler(t)
	event := createEvent(t, db, nil)
	confirmed := createRegistration(t, db, models.Registration{EventID: event.ID, NationalID: "52998224725", Status: models.StatusConfirmed})
	pending := createRegistration(t, db, models.Registration{EventID: event.ID, NationalID: "11144477735"})

	t.Run("Unauthenticated", func(t *testing.T) {
		_, err := h.HandleCheckIn(context.Background(), &CheckInInput{ID: confirmed.ID})
		if statusOf(err) != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %v", err)
		}
	})

	t.Run("Staff", func(t *testing.T) {
		resp, err := h.HandleCheckIn(context.Background(), &CheckInInput{AuthInput: staffAuth(), ID: confirmed.ID})
		if err != nil {
			t.Fatalf("HandleCheckIn returned error: %v", err)
		}
		if resp.Body.CheckedInAt == nil {
			t.Errorf("expected checked_in_at in response")
		}
		var stored models.Registration
		db.First(&stored, confirmed.ID)
		if stored.CheckedInAt == nil {
			t.Errorf("expected checked_in_at to be stored")
		}
	})

	t.Run("Twice", func(t *testing.T) {
		_, err := h.HandleCheckIn(context.Background(), &CheckInInput{AuthInput: adminAuth(), ID: confirmed.ID})
		if statusOf(err) != http.StatusConflict {
			t.Fatalf("expected 409, got %v", err)
		}
	})

	t.Run("NotConfirmed", func(t *testing.T) {
		_, err := h.HandleCheckIn(context.Background(), &CheckInInput{AuthInput: adminAuth(), ID: pending.ID})
		var diag *DiagnosticError
		if !errors.As(err, &diag) || diag.Status != http.StatusBadRequest {
			t.Fatalf("expected 400 diagnostic, got %v", err)
		}
		if diag.Diagnostics["status"] != models.StatusPending {
			t.Errorf("expected current status in diagnostics, got %v", diag.Diagnostics)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := h.HandleCheckIn(context.Background(), &CheckInInput{AuthInput: adminAuth(), ID: 999})
		if statusOf(err) != http.StatusNotFound {
			t.Fatalf("expected 404, got %v", err)
		}
	})
}

func TestHandleUpdateStatus(t *testing.T) {
	h, db, notifier := setupRegistrationHandler(t)
	event := createEvent(t, db, nil)
	reg := createRegistration(t, db, models.Registration{EventID: event.ID, NationalID: "52998224725"})

	input := &UpdateStatusInput{AuthInput: staffAuth(), ID: reg.ID}
	input.Body.Status = models.StatusConfirmed
	input.Body.Note = "paid in cash at the door"

	t.Run("StaffForbidden", func(t *testing.T) {
		_, err := h.HandleUpdateStatus(context.Background(), input)
		if statusOf(err) != http.StatusForbidden {
			t.Fatalf("expected 403, got %v", err)
		}
	})

	t.Run("AdminOverride", func(t *testing.T) {
		input.AuthInput = adminAuth()
		resp, err := h.HandleUpdateStatus(context.Background(), input)
		if err != nil {
			t.Fatalf("HandleUpdateStatus returned error: %v", err)
		}
		if resp.Body.Status != string(models.StatusConfirmed) {
			t.Errorf("expected CONFIRMED, got %s", resp.Body.Status)
		}

		var history []models.RegistrationHistory
		db.Where("registration_id = ?", reg.ID).Find(&history)
		if len(history) != 1 {
			t.Fatalf("expected one history row, got %d", len(history))
		}
		hist := history[0]
		if hist.Source != models.HistorySourceAdmin || hist.FromStatus != models.StatusPending || hist.ActorID == nil || *hist.ActorID != 1 {
			t.Errorf("unexpected history row %+v", hist)
		}
		if len(notifier.confirmed) != 1 || notifier.confirmed[0].ID != reg.ID {
			t.Errorf("expected confirmation notice, got %d", len(notifier.confirmed))
		}
	})

	t.Run("SameStatus", func(t *testing.T) {
		if _, err := h.HandleUpdateStatus(context.Background(), input); err != nil {
			t.Fatalf("HandleUpdateStatus returned error: %v", err)
		}
		var count int64
		db.Model(&models.RegistrationHistory{}).Where("registration_id = ?", reg.ID).Count(&count)
		if count != 1 || len(notifier.confirmed) != 1 {
			t.Errorf("expected no new history or notice, got %d rows and %d notices", count, len(notifier.confirmed))
		}
	})
}

func TestHandleList(t *testing.T) {
	h, db, _ := setupRegistrationHandler(t)
	first := createEvent(t, db, nil)
	second := createEvent(t, db, func(e *models.Event) { e.Title = "Congresso" })
	createRegistration(t, db, models.Registration{EventID: first.ID, NationalID: "52998224725", Status: models.StatusConfirmed})
	createRegistration(t, db, models.Registration{EventID: first.ID, NationalID: "11144477735"})
	createRegistration(t, db, models.Registration{EventID: second.ID, NationalID: "52998224725"})

	resp, err := h.HandleList(context.Background(), &ListRegistrationsInput{AuthInput: staffAuth(), EventID: first.ID})
	if err != nil {
		t.Fatalf("HandleList returned error: %v", err)
	}
	if len(resp.Body) != 2 {
		t.Errorf("expected 2 registrations for event, got %d", len(resp.Body))
	}

	resp, err = h.HandleList(context.Background(), &ListRegistrationsInput{AuthInput: staffAuth(), Status: string(models.StatusPending)})
	if err != nil {
		t.Fatalf("HandleList returned error: %v", err)
	}
	if len(resp.Body) != 2 {
		t.Errorf("expected 2 pending registrations, got %d", len(resp.Body))
	}
}

func TestHandleStats(t *testing.T) {
	h, db, _ := setupRegistrationHandler(t)
	event := createEvent(t, db, nil)
	other := createEvent(t, db, func(e *models.Event) { e.Title = "Congresso"; e.Price = 50 })

	now := time.Now()
	createRegistration(t, db, models.Registration{EventID: event.ID, NationalID: "1", Status: models.StatusConfirmed,
		PaymentDetails: withSelection("pix", 0).Encode(), CheckedInAt: &now})
	createRegistration(t, db, models.Registration{EventID: event.ID, NationalID: "2", Status: models.StatusConfirmed,
		PaymentDetails: withSelection("credit_card", 3).Encode()})
	createRegistration(t, db, models.Registration{EventID: other.ID, NationalID: "3", Status: models.StatusConfirmed})
	createRegistration(t, db, models.Registration{EventID: event.ID, NationalID: "4", Status: models.StatusPending})
	createRegistration(t, db, models.Registration{EventID: event.ID, NationalID: "5", Status: models.StatusCancelled})

	t.Run("AllEvents", func(t *testing.T) {
		resp, err := h.HandleStats(context.Background(), &StatsInput{AuthInput: adminAuth()})
		if err != nil {
			t.Fatalf("HandleStats returned error: %v", err)
		}
		stats := resp.Body

		if stats.Total != 5 || stats.CheckedIn != 1 {
			t.Errorf("expected 5 total and 1 checked in, got %d and %d", stats.Total, stats.CheckedIn)
		}
		want := map[string]int64{"PENDING": 1, "CONFIRMED": 3, "CANCELLED": 1, "PAYMENT_FAILED": 0}
		for status, n := range want {
			if stats.ByStatus[status] != n {
				t.Errorf("expected %d %s, got %d", n, status, stats.ByStatus[status])
			}
		}

		// pix 0.99 + credit 3x 6.99; the registration without details counts at
		// its event price with no fee.
		if stats.GrossRevenue != 250 || stats.ProcessingFees != 7.98 || stats.NetRevenue != 242.02 {
			t.Errorf("unexpected revenue %v / %v / %v", stats.GrossRevenue, stats.ProcessingFees, stats.NetRevenue)
		}
		if m := stats.ByMethod["credit_card"]; m.Count != 1 || m.ProcessingFees != 6.99 {
			t.Errorf("unexpected credit breakdown %+v", m)
		}
		if m := stats.ByMethod["unknown"]; m.Count != 1 || m.GrossRevenue != 50 {
			t.Errorf("unexpected fallback breakdown %+v", m)
		}
		if len(stats.ByEvent) != 2 || stats.ByEvent[0].EventID != event.ID || stats.ByEvent[0].Count != 2 {
			t.Errorf("unexpected per-event breakdown %+v", stats.ByEvent)
		}
	})

	t.Run("OneEvent", func(t *testing.T) {
		resp, err := h.HandleStats(context.Background(), &StatsInput{AuthInput: staffAuth(), EventID: other.ID})
		if err != nil {
			t.Fatalf("HandleStats returned error: %v", err)
		}
		if resp.Body.Total != 1 || resp.Body.GrossRevenue != 50 || len(resp.Body.ByEvent) != 1 {
			t.Errorf("unexpected stats %+v", resp.Body)
		}
	})
}

func TestHandleUpdateStatus_MissingEvent(t *testing.T) {
	db := setupTestDB(t)
	notifier := &recordingNotifier{}
	var logs bytes.Buffer
	h := NewRegistrationHandler(database.Wrap(db), newTestCalculator(), notifier, zerolog.New(&logs), false)

	event := createEvent(t, db, nil)
	reg := createRegistration(t, db, models.Registration{EventID: event.ID, NationalID: "52998224725"})
	db.Delete(&event)

	input := &UpdateStatusInput{AuthInput: adminAuth(), ID: reg.ID}
	input.Body.Status = models.StatusConfirmed
	if _, err := h.HandleUpdateStatus(context.Background(), input); err != nil {
		t.Fatalf("HandleUpdateStatus returned error: %v", err)
	}

	if len(notifier.events) != 1 || notifier.events[0].ID != event.ID {
		t.Errorf("expected notice to carry the event id, got %+v", notifier.events)
	}
	if !strings.Contains(logs.String(), "event not found for confirmation notice") {
		t.Errorf("expected a warning for the missing event, got %q", logs.String())
	}
}
