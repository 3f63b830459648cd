package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/auth"
	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/fees"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventHandler struct {
	conn  *database.Conn
	calc  *fees.Calculator
	log   zerolog.Logger
	debug bool
}

func NewEventHandler(conn *database.Conn, calc *fees.Calculator, log zerolog.Logger, debug bool) *EventHandler {
	return &EventHandler{conn: conn, calc: calc, log: log, debug: debug}
}

type EventResponse struct {
	ID                   uint                `json:"id"`
	Title                string              `json:"title"`
	Description          string              `json:"description"`
	Location             string              `json:"location"`
	StartsAt             time.Time           `json:"starts_at"`
	RegistrationOpensAt  *time.Time          `json:"registration_opens_at,omitempty"`
	RegistrationClosesAt *time.Time          `json:"registration_closes_at,omitempty"`
	Price                float64             `json:"price"`
	Capacity             int                 `json:"capacity"`
	Active               bool                `json:"active"`
	PaymentConfig        *fees.PaymentConfig `json:"payment_config,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

func toEventResponse(e models.Event) EventResponse {
	// A stored config that no longer parses is shown as absent; the
	// payment-options endpoint reports the error.
	cfg, _ := fees.ParseConfig(e.PaymentConfig)
	return EventResponse{
		ID:                   e.ID,
		Title:                e.Title,
		Description:          e.Description,
		Location:             e.Location,
		StartsAt:             e.StartsAt,
		RegistrationOpensAt:  e.RegistrationOpensAt,
		RegistrationClosesAt: e.RegistrationClosesAt,
		Price:                e.Price,
		Capacity:             e.Capacity,
		Active:               e.Active,
		PaymentConfig:        cfg,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

// findEvent loads an event; inactive events are hidden unless includeInactive.
func findEvent(ctx context.Context, conn *database.Conn, id uint, includeInactive bool) (models.Event, error) {
	var event models.Event
	err := conn.Do(ctx, func(db *gorm.DB) error {
		return db.First(&event, id).Error
	})
	if err != nil {
		return event, err
	}
	if !event.Active && !includeInactive {
		return event, gorm.ErrRecordNotFound
	}
	return event, nil
}

type ListEventsInput struct{}

type ListEventsOutput struct {
	Body []EventResponse
}

func (h *EventHandler) HandleList(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
	var events []models.Event
	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Where("active = ?", true).Order("starts_at ASC").Find(&events).Error
	})
	if err != nil {
		return nil, internalError(h.log, h.debug, "Failed to list events", err)
	}

	resp := &ListEventsOutput{Body: make([]EventResponse, 0, len(events))}
	for _, e := range events {
		resp.Body = append(resp.Body, toEventResponse(e))
	}
	return resp, nil
}

type GetEventInput struct {
	ID uint `path:"id" minimum:"1"`
}

type GetEventOutput struct {
	Body EventResponse
}

func (h *EventHandler) HandleGet(ctx context.Context, input *GetEventInput) (*GetEventOutput, error) {
	event, err := findEvent(ctx, h.conn, input.ID, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("Event not found")
		}
		return nil, internalError(h.log, h.debug, "Failed to load event", err)
	}
	return &GetEventOutput{Body: toEventResponse(event)}, nil
}

type PaymentOptionsOutput struct {
	Body *fees.Options
}

func (h *EventHandler) HandlePaymentOptions(ctx context.Context, input *GetEventInput) (*PaymentOptionsOutput, error) {
	event, err := findEvent(ctx, h.conn, input.ID, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("Event not found")
		}
		return nil, internalError(h.log, h.debug, "Failed to load event", err)
	}

	cfg, err := fees.ParseConfig(event.PaymentConfig)
	if err != nil {
		return nil, diagnostic(http.StatusInternalServerError, "Event payment configuration is invalid", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
	}

	opts, err := h.calc.Calculate(ctx, event.Price, cfg)
	if err != nil {
		return nil, internalError(h.log, h.debug, "Failed to calculate payment options", err)
	}
	return &PaymentOptionsOutput{Body: opts}, nil
}

type EventBody struct {
	Title                string         `json:"title" minLength:"1" maxLength:"200"`
	Description          string         `json:"description,omitempty" maxLength:"5000"`
	Location             string         `json:"location,omitempty" maxLength:"300"`
	StartsAt             time.Time      `json:"starts_at"`
	RegistrationOpensAt  *time.Time     `json:"registration_opens_at,omitempty"`
	RegistrationClosesAt *time.Time     `json:"registration_closes_at,omitempty"`
	Price                float64        `json:"price" minimum:"0"`
	Capacity             int            `json:"capacity,omitempty" minimum:"0" doc:"0 means unlimited"`
	Active               bool           `json:"active,omitempty"`
	PaymentConfig        map[string]any `json:"payment_config,omitempty" doc:"Payment methods, fee passthrough and installments; omitted means all methods without passthrough"`
}

// apply copies b onto e after validating the payment configuration.
func (b EventBody) apply(e *models.Event) error {
	if b.RegistrationOpensAt != nil && b.RegistrationClosesAt != nil && b.RegistrationClosesAt.Before(*b.RegistrationOpensAt) {
		return huma.Error422UnprocessableEntity("registration window closes before it opens")
	}

	var raw datatypes.JSON
	if b.PaymentConfig != nil {
		encoded, err := json.Marshal(b.PaymentConfig)
		if err != nil {
			return huma.Error422UnprocessableEntity("invalid payment_config", err)
		}
		cfg, err := fees.ParseConfig(encoded)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			return huma.Error422UnprocessableEntity(err.Error())
		}
		raw = datatypes.JSON(encoded)
	}

	e.Title = b.Title
	e.Description = b.Description
	e.Location = b.Location
	e.StartsAt = b.StartsAt
	e.RegistrationOpensAt = b.RegistrationOpensAt
	e.RegistrationClosesAt = b.RegistrationClosesAt
	e.Price = b.Price
	e.Capacity = b.Capacity
	e.Active = b.Active
	e.PaymentConfig = raw
	return nil
}

type AdminListEventsInput struct {
	auth.AuthInput
}

func (h *EventHandler) HandleAdminList(ctx context.Context, input *AdminListEventsInput) (*ListEventsOutput, error) {
	if _, err := input.Authorize(models.RoleAdmin, models.RoleStaff); err != nil {
		return nil, err
	}

	var events []models.Event
	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Order("starts_at DESC").Find(&events).Error
	})
	if err != nil {
		return nil, internalError(h.log, h.debug, "Failed to list events", err)
	}

	resp := &ListEventsOutput{Body: make([]EventResponse, 0, len(events))}
	for _, e := range events {
		resp.Body = append(resp.Body, toEventResponse(e))
	}
	return resp, nil
}

type CreateEventInput struct {
	auth.AuthInput
	Body EventBody
}

func (h *EventHandler) HandleCreate(ctx context.Context, input *CreateEventInput) (*GetEventOutput, error) {
	if _, err := input.Authorize(models.RoleAdmin); err != nil {
		return nil, err
	}

	var event models.Event
	if err := input.Body.apply(&event); err != nil {
		return nil, err
	}

	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Create(&event).Error
	})
	if err != nil {
		return nil, internalError(h.log, h.debug, "Failed to create event", err)
	}

	h.log.Info().Uint("event_id", event.ID).Str("user_id", input.UserID).Msg("event created")
	return &GetEventOutput{Body: toEventResponse(event)}, nil
}

type UpdateEventInput struct {
	auth.AuthInput
	ID   uint `path:"id" minimum:"1"`
	Body EventBody
}

func (h *EventHandler) HandleUpdate(ctx context.Context, input *UpdateEventInput) (*GetEventOutput, error) {
	if _, err := input.Authorize(models.RoleAdmin); err != nil {
		return nil, err
	}

	var event models.Event
	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		event = models.Event{}
		if err := db.First(&event, input.ID).Error; err != nil {
			return err
		}
		if err := input.Body.apply(&event); err != nil {
			return err
		}
		return db.Save(&event).Error
	})
	if err != nil {
		var se huma.StatusError
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, huma.Error404NotFound("Event not found")
		case errors.As(err, &se):
			return nil, err
		}
		return nil, internalError(h.log, h.debug, "Failed to update event", err)
	}

	h.log.Info().Uint("event_id", event.ID).Str("user_id", input.UserID).Msg("event updated")
	return &GetEventOutput{Body: toEventResponse(event)}, nil
}
