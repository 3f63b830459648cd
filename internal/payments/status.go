// Package payments reconciles asynchronous provider notifications with the
// registrations created at checkout.
package payments

import (
	"time"

	"github.com/comunidade-viva/eventos-api/internal/mercadopago"
	"github.com/comunidade-viva/eventos-api/internal/models"
)

// Notification is the provider-neutral view of a payment the reconciler
// works with. Only Status is required; every identifier is optional.
type Notification struct {
	PaymentID         string
	PreferenceID      string
	MerchantOrderID   string
	ExternalReference string

	Status            string
	StatusDetail      string
	PaymentMethod     string
	PaymentType       string
	TransactionAmount float64
	Installments      int
	DateProcessed     *time.Time

	PayerEmail          string
	PayerIdentification string
}

func NotificationFromPayment(p *mercadopago.Payment) Notification {
	return Notification{
		PaymentID:           p.ID.String(),
		PreferenceID:        p.PreferenceID(),
		MerchantOrderID:     p.Order.ID.String(),
		ExternalReference:   p.ExternalReference,
		Status:              p.Status,
		StatusDetail:        p.StatusDetail,
		PaymentMethod:       p.PaymentMethodID,
		PaymentType:         p.PaymentTypeID,
		TransactionAmount:   p.TransactionAmount,
		Installments:        p.Installments,
		DateProcessed:       p.ProcessedAt(),
		PayerEmail:          p.Payer.Email,
		PayerIdentification: p.Payer.Identification.Number,
	}
}

// candidates returns the distinct non-empty identifiers of n.
func (n Notification) candidates() []string {
	seen := make(map[string]bool, 3)
	var out []string
	for _, id := range []string{n.PaymentID, n.PreferenceID, n.MerchantOrderID} {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (n Notification) snapshot() *models.ProviderSnapshot {
	return &models.ProviderSnapshot{
		PaymentID:         n.PaymentID,
		Status:            n.Status,
		StatusDetail:      n.StatusDetail,
		PaymentMethod:     n.PaymentMethod,
		PaymentType:       n.PaymentType,
		TransactionAmount: n.TransactionAmount,
		Installments:      n.Installments,
		DateProcessed:     n.DateProcessed,
		MerchantOrderID:   n.MerchantOrderID,
		Payer: models.Payer{
			Email:          n.PayerEmail,
			Identification: n.PayerIdentification,
		},
	}
}

// MapProviderStatus translates a provider status. ok is false for statuses
// this service does not know, which map to PENDING.
func MapProviderStatus(status string) (models.RegistrationStatus, bool) {
	switch status {
	case "approved":
		return models.StatusConfirmed, true
	case "rejected":
		return models.StatusPaymentFailed, true
	case "cancelled":
		return models.StatusCancelled, true
	case "pending", "in_process", "in_mediation":
		return models.StatusPending, true
	}
	return models.StatusPending, false
}

// paymentError is only recorded for failed outcomes.
func paymentError(n Notification) *string {
	if n.Status != "rejected" && n.Status != "cancelled" {
		return nil
	}
	msg := n.StatusDetail
	if msg == "" {
		msg = n.Status
	}
	return &msg
}
