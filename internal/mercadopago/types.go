package mercadopago

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// ID accepts identifiers the API sends either as numbers or as strings.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type Item struct {
	ID          string  `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	CurrencyID  string  `json:"currency_id"`
	UnitPrice   float64 `json:"unit_price"`
}

type Identification struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number,omitempty"`
}

type PreferencePayer struct {
	Name           string          `json:"name,omitempty"`
	Email          string          `json:"email,omitempty"`
	Identification *Identification `json:"identification,omitempty"`
}

type PaymentTypeRef struct {
	ID string `json:"id"`
}

type PaymentMethods struct {
	ExcludedPaymentTypes []PaymentTypeRef `json:"excluded_payment_types,omitempty"`
	Installments         int              `json:"installments,omitempty"`
	DefaultInstallments  int              `json:"default_installments,omitempty"`
}

type BackURLs struct {
	Success string `json:"success,omitempty"`
	Pending string `json:"pending,omitempty"`
	Failure string `json:"failure,omitempty"`
}

type PreferenceRequest struct {
	Items             []Item            `json:"items"`
	Payer             *PreferencePayer  `json:"payer,omitempty"`
	PaymentMethods    *PaymentMethods   `json:"payment_methods,omitempty"`
	BackURLs          *BackURLs         `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	ExternalReference string            `json:"external_reference,omitempty"`
	StatementDesc     string            `json:"statement_descriptor,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type Preference struct {
	ID                ID     `json:"id"`
	InitPoint         string `json:"init_point"`
	SandboxInitPoint  string `json:"sandbox_init_point"`
	ExternalReference string `json:"external_reference"`
}

type PaymentPayer struct {
	Email          string         `json:"email"`
	Identification Identification `json:"identification"`
}

type PaymentOrder struct {
	ID   ID     `json:"id"`
	Type string `json:"type"`
}

// Payment is the subset of GET /v1/payments/{id} this service reads.
type Payment struct {
	ID                ID             `json:"id"`
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail"`
	PaymentMethodID   string         `json:"payment_method_id"`
	PaymentTypeID     string         `json:"payment_type_id"`
	TransactionAmount float64        `json:"transaction_amount"`
	Installments      int            `json:"installments"`
	DateCreated       *time.Time     `json:"date_created"`
	DateApproved      *time.Time     `json:"date_approved"`
	DateLastUpdated   *time.Time     `json:"date_last_updated"`
	ExternalReference string         `json:"external_reference"`
	Order             PaymentOrder   `json:"order"`
	Payer             PaymentPayer   `json:"payer"`
	Metadata          map[string]any `json:"metadata"`
}

// PreferenceID is only known when the preference carried it in metadata.
func (p *Payment) PreferenceID() string {
	switch v := p.Metadata["preference_id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// ProcessedAt prefers the approval date and falls back to the last update.
func (p *Payment) ProcessedAt() *time.Time {
	if p.DateApproved != nil {
		return p.DateApproved
	}
	return p.DateLastUpdated
}

// normalizeDates clears zero timestamps so unset dates read as nil.
func (p *Payment) normalizeDates() {
	for _, d := range []**time.Time{&p.DateCreated, &p.DateApproved, &p.DateLastUpdated} {
		if *d != nil && (*d).IsZero() {
			*d = nil
		}
	}
}
