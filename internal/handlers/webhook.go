package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/mercadopago"
	"github.com/comunidade-viva/eventos-api/internal/payments"
	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

type WebhookHandler struct {
	provider   PaymentProvider
	reconciler *payments.Reconciler
	log        zerolog.Logger
	debug      bool
}

func NewWebhookHandler(provider PaymentProvider, reconciler *payments.Reconciler, log zerolog.Logger, debug bool) *WebhookHandler {
	return &WebhookHandler{
		provider:   provider,
		reconciler: reconciler,
		log:        log.With().Str("component", "webhook").Logger(),
		debug:      debug,
	}
}

// WebhookInput accepts both the JSON notification and the older query
// string form (?type=payment&data.id=... or ?topic=payment&id=...), which
// arrives without a body.
type WebhookInput struct {
	Type   string          `query:"type"`
	DataID string          `query:"data.id"`
	Topic  string          `query:"topic"`
	ID     string          `query:"id"`
	Body   *webhookPayload `required:"false"`
}

// webhookPayload keeps only what routing needs; the provider sends more.
type webhookPayload struct {
	_      struct{}    `json:"-" additionalProperties:"true"`
	Type   string      `json:"type,omitempty"`
	Action string      `json:"action,omitempty"`
	Data   webhookData `json:"data,omitempty"`
}

type webhookData struct {
	_  struct{}       `json:"-" additionalProperties:"true"`
	ID notificationID `json:"id,omitempty"`
}

// notificationID is sent as a number by the current API and as a string by
// older integrations.
type notificationID string

func (id *notificationID) UnmarshalJSON(b []byte) error {
	var v mercadopago.ID
	if err := v.UnmarshalJSON(b); err != nil {
		return err
	}
	*id = notificationID(v)
	return nil
}

func (notificationID) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{OneOf: []*huma.Schema{
		{Type: huma.TypeString},
		{Type: huma.TypeInteger},
	}}
}

type WebhookResult struct {
	Received       bool   `json:"received"`
	Ignored        bool   `json:"ignored,omitempty"`
	RegistrationID uint   `json:"registrationId,omitempty"`
	Status         string `json:"status,omitempty"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	Strategy       string `json:"strategy,omitempty"`
	Skipped        bool   `json:"skipped,omitempty"`
}

type WebhookOutput struct {
	Body WebhookResult
}

func (h *WebhookHandler) HandleNotification(ctx context.Context, input *WebhookInput) (*WebhookOutput, error) {
	var payload webhookPayload
	if input.Body != nil {
		payload = *input.Body
	}

	kind := firstNonEmpty(payload.Type, input.Type, input.Topic)
	id := firstNonEmpty(string(payload.Data.ID), input.DataID, input.ID)

	if kind != "" && kind != "payment" {
		h.log.Debug().Str("type", kind).Str("id", id).Msg("ignoring non-payment notification")
		return &WebhookOutput{Body: WebhookResult{Received: true, Ignored: true}}, nil
	}
	if id == "" {
		return nil, huma.Error400BadRequest("Notification has no payment id")
	}

	log := h.log.With().Str("payment_id", id).Str("action", payload.Action).Logger()

	payment, err := h.provider.GetPayment(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("payment lookup failed")
		return nil, providerError(http.StatusNotFound, "Payment not found at provider", err)
	}

	res, err := h.reconciler.Reconcile(ctx, payments.NotificationFromPayment(payment))
	if err != nil {
		var noMatch *payments.NoMatchError
		switch {
		case errors.As(err, &noMatch):
			return nil, diagnostic(http.StatusNotFound, "No registration matches this payment", map[string]any{
				"payment_id":           id,
				"candidate_ids":        noMatch.Candidates,
				"external_reference":   payment.ExternalReference,
				"recent_registrations": recentSummaries(noMatch),
			})
		case errors.Is(err, payments.ErrConcurrentUpdate):
			log.Warn().Msg("concurrent update, asking provider to retry")
			return nil, huma.Error409Conflict("Registration was updated concurrently, retry later")
		}
		return nil, internalError(log, h.debug, "Failed to reconcile payment", err)
	}

	return &WebhookOutput{Body: WebhookResult{
		Received:       true,
		RegistrationID: res.Registration.ID,
		Status:         string(res.Registration.Status),
		PreviousStatus: string(res.PreviousStatus),
		Strategy:       res.Strategy,
		Skipped:        res.Skipped,
	}}, nil
}

type WebhookStatusOutput struct {
	Body struct {
		Status  string    `json:"status"`
		Message string    `json:"message"`
		Time    time.Time `json:"time"`
	}
}

func (h *WebhookHandler) HandleStatus(ctx context.Context, input *struct{}) (*WebhookStatusOutput, error) {
	resp := &WebhookStatusOutput{}
	resp.Body.Status = "ok"
	resp.Body.Message = "Webhook endpoint is active"
	resp.Body.Time = time.Now().UTC()
	return resp, nil
}

type registrationSummary struct {
	ID                uint      `json:"id"`
	Status            string    `json:"status"`
	PaymentID         string    `json:"payment_id"`
	PreferenceID      string    `json:"preference_id"`
	MerchantOrderID   string    `json:"merchant_order_id"`
	ExternalReference string    `json:"external_reference"`
	CreatedAt         time.Time `json:"created_at"`
}

func recentSummaries(e *payments.NoMatchError) []registrationSummary {
	out := make([]registrationSummary, 0, len(e.Recent))
	for _, r := range e.Recent {
		out = append(out, registrationSummary{
			ID:                r.ID,
			Status:            string(r.Status),
			PaymentID:         r.PaymentID,
			PreferenceID:      r.PreferenceID,
			MerchantOrderID:   r.MerchantOrderID,
			ExternalReference: r.ExternalReference,
			CreatedAt:         r.CreatedAt,
		})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
