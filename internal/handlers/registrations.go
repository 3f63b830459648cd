package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/auth"
	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/fees"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/comunidade-viva/eventos-api/internal/payments"
	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type RegistrationHandler struct {
	conn     *database.Conn
	calc     *fees.Calculator
	notifier payments.Notifier
	log      zerolog.Logger
	debug    bool
	now      func() time.Time
}

func NewRegistrationHandler(conn *database.Conn, calc *fees.Calculator, notifier payments.Notifier, log zerolog.Logger, debug bool) *RegistrationHandler {
	return &RegistrationHandler{
		conn:     conn,
		calc:     calc,
		notifier: notifier,
		log:      log.With().Str("component", "registrations").Logger(),
		debug:    debug,
		now:      time.Now,
	}
}

type RegistrationResponse struct {
	ID                uint                   `json:"id"`
	EventID           uint                   `json:"event_id"`
	Name              string                 `json:"name"`
	Email             string                 `json:"email"`
	NationalID        string                 `json:"national_id"`
	Phone             string                 `json:"phone"`
	Status            string                 `json:"status"`
	PaymentID         string                 `json:"payment_id"`
	PreferenceID      string                 `json:"preference_id"`
	MerchantOrderID   string                 `json:"merchant_order_id"`
	ExternalReference string                 `json:"external_reference"`
	PaymentError      *string                `json:"payment_error"`
	PaymentDetails    *models.PaymentDetails `json:"payment_details"`
	CheckedInAt       *time.Time             `json:"checked_in_at"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

func toRegistrationResponse(r models.Registration) RegistrationResponse {
	resp := RegistrationResponse{
		ID:                r.ID,
		EventID:           r.EventID,
		Name:              r.Name,
		Email:             r.Email,
		NationalID:        r.NationalID,
		Phone:             r.Phone,
		Status:            string(r.Status),
		PaymentID:         r.PaymentID,
		PreferenceID:      r.PreferenceID,
		MerchantOrderID:   r.MerchantOrderID,
		ExternalReference: r.ExternalReference,
		PaymentError:      r.PaymentError,
		CheckedInAt:       r.CheckedInAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if details, ok := models.DecodePaymentDetails(r.PaymentDetails); ok {
		resp.PaymentDetails = &details
	}
	return resp
}

type ListRegistrationsInput struct {
	auth.AuthInput
	EventID uint   `query:"eventId" doc:"Only registrations of this event"`
	Status  string `query:"status" enum:"PENDING,CONFIRMED,CANCELLED,PAYMENT_FAILED" doc:"Only registrations in this status"`
}

type ListRegistrationsOutput struct {
	Body []RegistrationResponse
}

func (h *RegistrationHandler) HandleList(ctx context.Context, input *ListRegistrationsInput) (*ListRegistrationsOutput, error) {
	if _, err := input.Authorize(models.RoleAdmin, models.RoleStaff); err != nil {
		return nil, err
	}

	var regs []models.Registration
	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		q := db.Order("created_at DESC")
		if input.EventID != 0 {
			q = q.Where("event_id = ?", input.EventID)
		}
		if input.Status != "" {
			q = q.Where("status = ?", input.Status)
		}
		return q.Find(&regs).Error
	})
	if err != nil {
		return nil, internalError(h.log, h.debug, "Failed to list registrations", err)
	}

	resp := &ListRegistrationsOutput{Body: make([]RegistrationResponse, 0, len(regs))}
	for _, r := range regs {
		resp.Body = append(resp.Body, toRegistrationResponse(r))
	}
	return resp, nil
}

type UpdateStatusInput struct {
	auth.AuthInput
	ID   uint `path:"id" minimum:"1"`
	Body struct {
		Status models.RegistrationStatus `json:"status" enum:"PENDING,CONFIRMED,CANCELLED,PAYMENT_FAILED"`
		Note   string                    `json:"note,omitempty" maxLength:"500"`
	}
}

type RegistrationOutput struct {
	Body RegistrationResponse
}

// HandleUpdateStatus is the manual override for registrations the provider
// flow could not settle.
func (h *RegistrationHandler) HandleUpdateStatus(ctx context.Context, input *UpdateStatusInput) (*RegistrationOutput, error) {
	actorID, err := input.Authorize(models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	target := input.Body.Status
	if !target.Valid() {
		return nil, huma.Error422UnprocessableEntity("invalid status " + string(target))
	}

	var reg models.Registration
	var previous models.RegistrationStatus
	err = h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			reg = models.Registration{}
			if err := tx.First(&reg, input.ID).Error; err != nil {
				return err
			}
			previous = reg.Status
			if previous == target {
				return nil
			}

			result := tx.Model(&models.Registration{}).
				Where("id = ? AND version = ?", reg.ID, reg.Version).
				Updates(map[string]any{
					"status":  target,
					"version": gorm.Expr("version + 1"),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return payments.ErrConcurrentUpdate
			}

			if err := tx.Create(&models.RegistrationHistory{
				RegistrationID: reg.ID,
				FromStatus:     previous,
				ToStatus:       target,
				Source:         models.HistorySourceAdmin,
				ActorID:        &actorID,
				Note:           input.Body.Note,
			}).Error; err != nil {
				return err
			}
			return tx.First(&reg, reg.ID).Error
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, huma.Error404NotFound("Registration not found")
		case errors.Is(err, payments.ErrConcurrentUpdate):
			return nil, huma.Error409Conflict("Registration was updated concurrently, try again")
		}
		return nil, internalError(h.log, h.debug, "Failed to update registration", err)
	}

	if previous != target {
		h.log.Info().
			Uint("registration_id", reg.ID).
			Uint("actor_id", actorID).
			Str("from", string(previous)).
			Str("to", string(target)).
			Msg("registration status overridden")

		if target == models.StatusConfirmed && h.notifier != nil {
			var event models.Event
			if err := h.conn.DB(ctx).First(&event, reg.EventID).Error; err != nil {
				h.log.Warn().Err(err).Uint("event_id", reg.EventID).Msg("event not found for confirmation notice")
				event.ID = reg.EventID
			}
			if err := h.notifier.NotifyConfirmed(event, reg); err != nil {
				h.log.Error().Err(err).Uint("registration_id", reg.ID).Msg("failed to send confirmation notice")
			}
		}
	}

	return &RegistrationOutput{Body: toRegistrationResponse(reg)}, nil
}

type CheckInInput struct {
	auth.AuthInput
	ID uint `path:"id" minimum:"1"`
}

func (h *RegistrationHandler) HandleCheckIn(ctx context.Context, input *CheckInInput) (*RegistrationOutput, error) {
	actorID, err := input.Authorize(models.RoleAdmin, models.RoleStaff)
	if err != nil {
		return nil, err
	}

	var reg models.Registration
	err = h.conn.Do(ctx, func(db *gorm.DB) error {
		reg = models.Registration{}
		return db.First(&reg, input.ID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("Registration not found")
		}
		return nil, internalError(h.log, h.debug, "Failed to load registration", err)
	}

	if reg.Status != models.StatusConfirmed {
		return nil, diagnostic(http.StatusBadRequest, "Only confirmed registrations can check in", map[string]any{
			"registration_id": reg.ID,
			"status":          reg.Status,
		})
	}
	if reg.CheckedInAt != nil {
		return nil, diagnostic(http.StatusConflict, "Registration already checked in", map[string]any{
			"registration_id": reg.ID,
			"checked_in_at":   reg.CheckedInAt,
		})
	}

	now := h.now()
	var result *gorm.DB
	err = h.conn.Do(ctx, func(db *gorm.DB) error {
		result = db.Model(&models.Registration{}).
			Where("id = ? AND checked_in_at IS NULL", reg.ID).
			Update("checked_in_at", now)
		return result.Error
	})
	if err != nil {
		return nil, internalError(h.log, h.debug, "Failed to check in", err)
	}
	if result.RowsAffected == 0 {
		return nil, huma.Error409Conflict("Registration already checked in")
	}
	reg.CheckedInAt = &now

	h.log.Info().Uint("registration_id", reg.ID).Uint("actor_id", actorID).Msg("checked in")
	return &RegistrationOutput{Body: toRegistrationResponse(reg)}, nil
}

type StatsInput struct {
	auth.AuthInput
	EventID uint `query:"eventId" doc:"Restrict to one event"`
}

type RevenueBreakdown struct {
	Count          int     `json:"count"`
	GrossRevenue   float64 `json:"gross_revenue"`
	ProcessingFees float64 `json:"processing_fees"`
	NetRevenue     float64 `json:"net_revenue"`
}

type EventStats struct {
	EventID uint   `json:"event_id"`
	Title   string `json:"title"`
	RevenueBreakdown
}

type StatsResponse struct {
	Total          int64                       `json:"total"`
	ByStatus       map[string]int64            `json:"by_status"`
	CheckedIn      int64                       `json:"checked_in"`
	GrossRevenue   float64                     `json:"gross_revenue"`
	ProcessingFees float64                     `json:"processing_fees"`
	NetRevenue     float64                     `json:"net_revenue"`
	ByMethod       map[string]RevenueBreakdown `json:"by_method"`
	ByEvent        []EventStats                `json:"by_event"`
}

type StatsOutput struct {
	Body StatsResponse
}

// HandleStats reports revenue for confirmed registrations. Each one is
// priced again with the method and installments it recorded, so the
// numbers agree with what checkout charged.
func (h *RegistrationHandler) HandleStats(ctx context.Context, input *StatsInput) (*StatsOutput, error) {
	if _, err := input.Authorize(models.RoleAdmin, models.RoleStaff); err != nil {
		return nil, err
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	var checkedIn int64
	var confirmed []models.Registration
	var events []models.Event

	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		scope := func(q *gorm.DB) *gorm.DB {
			if input.EventID != 0 {
				return q.Where("event_id = ?", input.EventID)
			}
			return q
		}
		if err := scope(db.Model(&models.Registration{})).
			Select("status, count(*) as count").
			Group("status").
			Scan(&counts).Error; err != nil {
			return err
		}
		if err := scope(db.Model(&models.Registration{})).
			Where("checked_in_at IS NOT NULL").
			Count(&checkedIn).Error; err != nil {
			return err
		}
		if err := scope(db.Where("status = ?", models.StatusConfirmed)).
			Find(&confirmed).Error; err != nil {
			return err
		}
		eq := db.Model(&models.Event{})
		if input.EventID != 0 {
			eq = eq.Where("id = ?", input.EventID)
		}
		return eq.Find(&events).Error
	})
	if err != nil {
		return nil, internalError(h.log, h.debug, "Failed to load statistics", err)
	}

	resp := StatsResponse{
		ByStatus:  map[string]int64{},
		CheckedIn: checkedIn,
		ByMethod:  map[string]RevenueBreakdown{},
	}
	for _, s := range []models.RegistrationStatus{models.StatusPending, models.StatusConfirmed, models.StatusCancelled, models.StatusPaymentFailed} {
		resp.ByStatus[string(s)] = 0
	}
	for _, c := range counts {
		resp.ByStatus[c.Status] = c.Count
		resp.Total += c.Count
	}

	eventsByID := make(map[uint]models.Event, len(events))
	configs := make(map[uint]*fees.PaymentConfig, len(events))
	for _, e := range events {
		eventsByID[e.ID] = e
		cfg, err := fees.ParseConfig(e.PaymentConfig)
		if err != nil {
			h.log.Warn().Err(err).Uint("event_id", e.ID).Msg("invalid payment config, using defaults for stats")
		}
		configs[e.ID] = cfg
	}

	perEvent := map[uint]*EventStats{}
	for _, reg := range confirmed {
		event := eventsByID[reg.EventID]
		method, gross, fee := h.replay(ctx, reg, event, configs[reg.EventID])

		resp.GrossRevenue += gross
		resp.ProcessingFees += fee

		m := resp.ByMethod[method]
		m.add(gross, fee)
		resp.ByMethod[method] = m

		es, ok := perEvent[reg.EventID]
		if !ok {
			es = &EventStats{EventID: reg.EventID, Title: event.Title}
			perEvent[reg.EventID] = es
		}
		es.add(gross, fee)
	}

	resp.GrossRevenue = fees.Round2(resp.GrossRevenue)
	resp.ProcessingFees = fees.Round2(resp.ProcessingFees)
	resp.NetRevenue = fees.Round2(resp.GrossRevenue - resp.ProcessingFees)

	resp.ByEvent = make([]EventStats, 0, len(perEvent))
	for _, es := range perEvent {
		resp.ByEvent = append(resp.ByEvent, *es)
	}
	sort.Slice(resp.ByEvent, func(i, j int) bool { return resp.ByEvent[i].EventID < resp.ByEvent[j].EventID })

	return &StatsOutput{Body: resp}, nil
}

// replay prices one confirmed registration. Registrations without usable
// payment details count at the event price with no fee.
func (h *RegistrationHandler) replay(ctx context.Context, reg models.Registration, event models.Event, cfg *fees.PaymentConfig) (string, float64, float64) {
	details, ok := models.DecodePaymentDetails(reg.PaymentDetails)
	if ok {
		if method, installments, found := details.MethodAndInstallments(); found {
			opt, err := h.calc.Option(ctx, event.Price, cfg, fees.Method(method), installments)
			if err == nil {
				return method, opt.FinalValue, opt.ProcessingFee()
			}
			h.log.Debug().Err(err).Uint("registration_id", reg.ID).Msg("recorded option no longer available, using event price")
		}
	}
	return "unknown", event.Price, 0
}

func (b *RevenueBreakdown) add(gross, fee float64) {
	b.Count++
	b.GrossRevenue = fees.Round2(b.GrossRevenue + gross)
	b.ProcessingFees = fees.Round2(b.ProcessingFees + fee)
	b.NetRevenue = fees.Round2(b.GrossRevenue - b.ProcessingFees)
}
