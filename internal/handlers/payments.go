package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/config"
	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/fees"
	"github.com/comunidade-viva/eventos-api/internal/mercadopago"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/comunidade-viva/eventos-api/internal/validator"
	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// PaymentProvider is the part of the Mercado Pago client the handlers use.
type PaymentProvider interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
	UpdatePreference(ctx context.Context, id string, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
}

type PaymentHandler struct {
	conn     *database.Conn
	calc     *fees.Calculator
	provider PaymentProvider
	cfg      *config.Config
	log      zerolog.Logger
	now      func() time.Time
}

func NewPaymentHandler(conn *database.Conn, calc *fees.Calculator, provider PaymentProvider, cfg *config.Config, log zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		conn:     conn,
		calc:     calc,
		provider: provider,
		cfg:      cfg,
		log:      log.With().Str("component", "payments").Logger(),
		now:      time.Now,
	}
}

type CheckoutResponse struct {
	RegistrationID uint        `json:"registrationId"`
	PreferenceID   string      `json:"preferenceId"`
	CheckoutURL    string      `json:"checkoutUrl"`
	Amount         float64     `json:"amount"`
	Option         fees.Option `json:"option"`
}

type CheckoutOutput struct {
	Body CheckoutResponse
}

type CreatePreferenceInput struct {
	Body struct {
		EventID       uint        `json:"eventId" minimum:"1"`
		Name          string      `json:"name" validate:"required,min=2,max=120"`
		Email         string      `json:"email" validate:"required,email,max=254"`
		CPF           string      `json:"cpf" validate:"required,cpf" doc:"Brazilian CPF, punctuation allowed"`
		Phone         string      `json:"phone,omitempty" validate:"omitempty,phone"`
		PaymentMethod fees.Method `json:"paymentMethod" enum:"pix,debit_card,credit_card"`
		Installments  int         `json:"installments,omitempty" minimum:"0" maximum:"12"`
	}
}

func (h *PaymentHandler) HandleCreatePreference(ctx context.Context, input *CreatePreferenceInput) (*CheckoutOutput, error) {
	body := input.Body
	if errs := validator.Validate(ctx, body); errs != nil {
		return nil, validationError(errs)
	}
	cpf := validator.NormalizeCPF(body.CPF)

	event, err := findEvent(ctx, h.conn, body.EventID, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("Event not found")
		}
		return nil, internalError(h.log, h.cfg.Debug, "Failed to load event", err)
	}

	if !event.RegistrationOpen(h.now()) {
		return nil, huma.Error400BadRequest("Registrations are closed for this event")
	}

	var confirmed int64
	var existing models.Registration
	err = h.conn.Do(ctx, func(db *gorm.DB) error {
		if err := db.Model(&models.Registration{}).
			Where("event_id = ? AND status = ?", event.ID, models.StatusConfirmed).
			Count(&confirmed).Error; err != nil {
			return err
		}
		existing = models.Registration{}
		err := db.Where("event_id = ? AND national_id = ? AND status = ?", event.ID, cpf, models.StatusConfirmed).
			Limit(1).Find(&existing).Error
		return err
	})
	if err != nil {
		return nil, internalError(h.log, h.cfg.Debug, "Failed to check registrations", err)
	}
	if event.Capacity > 0 && confirmed >= int64(event.Capacity) {
		return nil, huma.Error400BadRequest("Event is full")
	}
	if existing.ID != 0 {
		return nil, diagnostic(http.StatusConflict, "A confirmed registration already exists for this CPF", map[string]any{
			"registration_id": existing.ID,
			"status":          existing.Status,
		})
	}

	opt, err := h.selectOption(ctx, event, body.PaymentMethod, body.Installments)
	if err != nil {
		return nil, err
	}

	now := h.now()
	reg := models.Registration{
		EventID:    event.ID,
		Name:       strings.TrimSpace(body.Name),
		Email:      strings.ToLower(strings.TrimSpace(body.Email)),
		NationalID: cpf,
		Phone:      body.Phone,
		Status:     models.StatusPending,
		PaymentDetails: models.PaymentDetails{
			Selection: selection(opt, "", now),
		}.Encode(),
	}
	err = h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			reg.ID = 0
			if err := tx.Create(&reg).Error; err != nil {
				return err
			}
			return tx.Create(&models.RegistrationHistory{
				RegistrationID: reg.ID,
				ToStatus:       models.StatusPending,
				Source:         models.HistorySourceCheckout,
				Note:           string(opt.Method),
			}).Error
		})
	})
	if err != nil {
		return nil, internalError(h.log, h.cfg.Debug, "Failed to create registration", err)
	}

	pref, err := h.provider.CreatePreference(ctx, h.preferenceRequest(event, reg, opt))
	if err != nil {
		h.markFailed(ctx, reg, err)
		return nil, providerError(http.StatusBadGateway, "Failed to create payment preference", err)
	}

	prefID := pref.ID.String()
	details, _ := models.DecodePaymentDetails(reg.PaymentDetails)
	details.Selection.PreferenceID = prefID
	err = h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Registration{}).
			Where("id = ?", reg.ID).
			Updates(map[string]any{
				"payment_id":      prefID,
				"preference_id":   prefID,
				"payment_details": details.Encode(),
				"version":         gorm.Expr("version + 1"),
			}).Error
	})
	if err != nil {
		return nil, internalError(h.log, h.cfg.Debug, "Failed to save payment preference", err)
	}

	h.log.Info().
		Uint("registration_id", reg.ID).
		Uint("event_id", event.ID).
		Str("preference_id", prefID).
		Str("method", string(opt.Method)).
		Int("installments", opt.Installments).
		Float64("amount", opt.FinalValue).
		Msg("checkout preference created")

	return &CheckoutOutput{Body: CheckoutResponse{
		RegistrationID: reg.ID,
		PreferenceID:   prefID,
		CheckoutURL:    checkoutURL(pref),
		Amount:         opt.FinalValue,
		Option:         opt,
	}}, nil
}

type UpdatePreferenceInput struct {
	Body struct {
		RegistrationID uint        `json:"registrationId" minimum:"1"`
		PaymentMethod  fees.Method `json:"paymentMethod" enum:"pix,debit_card,credit_card"`
		Installments   int         `json:"installments,omitempty" minimum:"0" maximum:"12"`
	}
}

// HandleUpdatePreference switches the payment method of a checkout that has
// not been paid yet.
func (h *PaymentHandler) HandleUpdatePreference(ctx context.Context, input *UpdatePreferenceInput) (*CheckoutOutput, error) {
	var reg models.Registration
	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.First(&reg, input.Body.RegistrationID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("Registration not found")
		}
		return nil, internalError(h.log, h.cfg.Debug, "Failed to load registration", err)
	}

	if reg.Status != models.StatusPending {
		return nil, diagnostic(http.StatusBadRequest, "Only pending registrations can change payment method", map[string]any{
			"registration_id": reg.ID,
			"status":          reg.Status,
		})
	}

	event, err := findEvent(ctx, h.conn, reg.EventID, true)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("Event not found")
		}
		return nil, internalError(h.log, h.cfg.Debug, "Failed to load event", err)
	}

	opt, err := h.selectOption(ctx, event, input.Body.PaymentMethod, input.Body.Installments)
	if err != nil {
		return nil, err
	}

	req := h.preferenceRequest(event, reg, opt)
	var pref *mercadopago.Preference
	if reg.PreferenceID != "" {
		pref, err = h.provider.UpdatePreference(ctx, reg.PreferenceID, req)
	} else {
		pref, err = h.provider.CreatePreference(ctx, req)
	}
	if err != nil {
		return nil, providerError(http.StatusBadGateway, "Failed to update payment preference", err)
	}

	prefID := pref.ID.String()
	if prefID == "" {
		prefID = reg.PreferenceID
	}

	details, _ := models.DecodePaymentDetails(reg.PaymentDetails)
	details.Selection = selection(opt, prefID, h.now())

	updates := map[string]any{
		"preference_id":   prefID,
		"payment_details": details.Encode(),
		"version":         gorm.Expr("version + 1"),
	}
	if reg.PaymentID == "" || reg.PaymentID == reg.PreferenceID {
		updates["payment_id"] = prefID
	}

	var result *gorm.DB
	err = h.conn.Do(ctx, func(db *gorm.DB) error {
		result = db.Model(&models.Registration{}).
			Where("id = ? AND version = ? AND status = ?", reg.ID, reg.Version, models.StatusPending).
			Updates(updates)
		return result.Error
	})
	if err != nil {
		return nil, internalError(h.log, h.cfg.Debug, "Failed to save payment preference", err)
	}
	if result.RowsAffected == 0 {
		return nil, huma.Error409Conflict("Registration changed while updating, try again")
	}

	h.log.Info().
		Uint("registration_id", reg.ID).
		Str("preference_id", prefID).
		Str("method", string(opt.Method)).
		Int("installments", opt.Installments).
		Msg("checkout preference updated")

	return &CheckoutOutput{Body: CheckoutResponse{
		RegistrationID: reg.ID,
		PreferenceID:   prefID,
		CheckoutURL:    checkoutURL(pref),
		Amount:         opt.FinalValue,
		Option:         opt,
	}}, nil
}

// selectOption validates method and installments against the event's
// configuration and the provider minimum.
func (h *PaymentHandler) selectOption(ctx context.Context, event models.Event, m fees.Method, installments int) (fees.Option, error) {
	cfg, err := fees.ParseConfig(event.PaymentConfig)
	if err != nil {
		return fees.Option{}, diagnostic(http.StatusInternalServerError, "Event payment configuration is invalid", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
	}

	if !fees.ValidateOption(cfg, m, installments) {
		return fees.Option{}, huma.Error400BadRequest(fmt.Sprintf("Payment option %s in %dx is not available for this event", m, max(installments, 1)))
	}

	opt, err := h.calc.Option(ctx, event.Price, cfg, m, installments)
	if err != nil {
		if errors.Is(err, fees.ErrOptionUnavailable) {
			return fees.Option{}, huma.Error400BadRequest(err.Error())
		}
		return fees.Option{}, internalError(h.log, h.cfg.Debug, "Failed to calculate payment option", err)
	}

	if opt.FinalValue <= 0 {
		return fees.Option{}, huma.Error400BadRequest("This event does not require payment")
	}
	if err := fees.CheckInstallmentMinimum(opt); err != nil {
		return fees.Option{}, huma.Error400BadRequest(err.Error())
	}
	return opt, nil
}

func (h *PaymentHandler) preferenceRequest(event models.Event, reg models.Registration, opt fees.Option) mercadopago.PreferenceRequest {
	frontend := strings.TrimRight(h.cfg.FrontendURL, "/")
	query := "?registrationId=" + strconv.FormatUint(uint64(reg.ID), 10)

	req := mercadopago.PreferenceRequest{
		Items: []mercadopago.Item{{
			ID:          strconv.FormatUint(uint64(event.ID), 10),
			Title:       event.Title,
			Description: opt.Description,
			Quantity:    1,
			CurrencyID:  "BRL",
			UnitPrice:   opt.FinalValue,
		}},
		Payer: &mercadopago.PreferencePayer{
			Name:           reg.Name,
			Email:          reg.Email,
			Identification: &mercadopago.Identification{Type: "CPF", Number: reg.NationalID},
		},
		PaymentMethods: paymentMethods(opt),
		BackURLs: &mercadopago.BackURLs{
			Success: frontend + "/inscricao/sucesso" + query,
			Pending: frontend + "/inscricao/pendente" + query,
			Failure: frontend + "/inscricao/erro" + query,
		},
		AutoReturn:        "approved",
		NotificationURL:   strings.TrimRight(h.cfg.PublicAPIURL, "/") + "/api/payments/webhook",
		ExternalReference: reg.ExternalReference,
		Metadata: map[string]string{
			"registration_id": strconv.FormatUint(uint64(reg.ID), 10),
			"event_id":        strconv.FormatUint(uint64(event.ID), 10),
		},
	}
	if reg.PreferenceID != "" {
		req.Metadata["preference_id"] = reg.PreferenceID
	}
	return req
}

// paymentMethods restricts the checkout to the chosen method.
func paymentMethods(opt fees.Option) *mercadopago.PaymentMethods {
	exclude := func(ids ...string) []mercadopago.PaymentTypeRef {
		refs := make([]mercadopago.PaymentTypeRef, 0, len(ids))
		for _, id := range ids {
			refs = append(refs, mercadopago.PaymentTypeRef{ID: id})
		}
		return refs
	}

	switch opt.Method {
	case fees.MethodPix:
		return &mercadopago.PaymentMethods{ExcludedPaymentTypes: exclude("credit_card", "debit_card", "ticket")}
	case fees.MethodDebitCard:
		return &mercadopago.PaymentMethods{ExcludedPaymentTypes: exclude("credit_card", "ticket", "bank_transfer")}
	default:
		n := max(opt.Installments, 1)
		return &mercadopago.PaymentMethods{
			ExcludedPaymentTypes: exclude("debit_card", "ticket", "bank_transfer"),
			Installments:         n,
			DefaultInstallments:  n,
		}
	}
}

func selection(opt fees.Option, preferenceID string, at time.Time) *models.PaymentSelection {
	return &models.PaymentSelection{
		Method:       string(opt.Method),
		Installments: opt.Installments,
		BaseValue:    opt.BaseValue,
		FeeAmount:    opt.FeeAmount,
		AmountPaid:   opt.FinalValue,
		PreferenceID: preferenceID,
		SelectedAt:   at,
	}
}

func checkoutURL(p *mercadopago.Preference) string {
	if p.InitPoint != "" {
		return p.InitPoint
	}
	return p.SandboxInitPoint
}

// markFailed records a checkout the provider refused.
func (h *PaymentHandler) markFailed(ctx context.Context, reg models.Registration, cause error) {
	msg := cause.Error()
	err := h.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Registration{}).
				Where("id = ?", reg.ID).
				Updates(map[string]any{
					"status":        models.StatusPaymentFailed,
					"payment_error": msg,
					"version":       gorm.Expr("version + 1"),
				}).Error; err != nil {
				return err
			}
			return tx.Create(&models.RegistrationHistory{
				RegistrationID: reg.ID,
				FromStatus:     models.StatusPending,
				ToStatus:       models.StatusPaymentFailed,
				Source:         models.HistorySourceCheckout,
				Note:           msg,
			}).Error
		})
	})
	if err != nil {
		h.log.Error().Err(err).Uint("registration_id", reg.ID).Msg("failed to mark registration as failed")
	}
	h.log.Warn().Err(cause).Uint("registration_id", reg.ID).Msg("payment preference rejected by provider")
}

// providerError attaches the provider's raw response for diagnosis.
func providerError(status int, detail string, err error) error {
	diag := map[string]any{"provider_error": err.Error()}
	var apiErr *mercadopago.APIError
	if errors.As(err, &apiErr) {
		diag["provider_status"] = apiErr.StatusCode
		diag["provider_message"] = apiErr.Message
		if apiErr.Body != "" {
			diag["provider_body"] = apiErr.Body
		}
	}
	return diagnostic(status, detail, diag)
}
