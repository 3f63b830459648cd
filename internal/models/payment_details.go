package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// PaymentDetailsSchemaVersion is written on every blob this service stores.
// Blobs without it predate the versioned layout and decode as legacy.
const PaymentDetailsSchemaVersion = 1

// PaymentDetails is the decoded form of Registration.PaymentDetails.
// Selection is what the payer picked at checkout, Provider is the snapshot
// of the last reconciled provider notification. Either may be nil.
type PaymentDetails struct {
	SchemaVersion int               `json:"schema_version"`
	Selection     *PaymentSelection `json:"selection,omitempty"`
	Provider      *ProviderSnapshot `json:"provider,omitempty"`

	Legacy bool `json:"-"`
}

type PaymentSelection struct {
	Method       string    `json:"method"`
	Installments int       `json:"installments,omitempty"`
	BaseValue    float64   `json:"base_value"`
	FeeAmount    float64   `json:"fee_amount"`
	AmountPaid   float64   `json:"amount_paid"`
	PreferenceID string    `json:"preference_id,omitempty"`
	SelectedAt   time.Time `json:"selected_at"`
}

type ProviderSnapshot struct {
	PaymentID         string     `json:"payment_id,omitempty"`
	Status            string     `json:"status,omitempty"`
	StatusDetail      string     `json:"status_detail,omitempty"`
	PaymentMethod     string     `json:"payment_method,omitempty"`
	PaymentType       string     `json:"payment_type,omitempty"`
	TransactionAmount float64    `json:"transaction_amount"`
	Installments      int        `json:"installments,omitempty"`
	DateProcessed     *time.Time `json:"date_processed,omitempty"`
	MerchantOrderID   string     `json:"merchant_order_id,omitempty"`
	Payer             Payer      `json:"payer"`
}

type Payer struct {
	Email          string `json:"email,omitempty"`
	Identification string `json:"identification,omitempty"`
}

// Encode stamps the current schema version and marshals the details.
func (d PaymentDetails) Encode() datatypes.JSON {
	d.SchemaVersion = PaymentDetailsSchemaVersion
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// MethodAndInstallments returns the method the payer used, preferring the
// checkout selection and falling back to the provider snapshot.
func (d PaymentDetails) MethodAndInstallments() (string, int, bool) {
	if d.Selection != nil && d.Selection.Method != "" {
		return d.Selection.Method, d.Selection.Installments, true
	}
	if d.Provider != nil {
		switch {
		case d.Provider.PaymentType == "credit_card":
			return "credit_card", max(d.Provider.Installments, 1), true
		case d.Provider.PaymentType == "debit_card":
			return "debit_card", 0, true
		case d.Provider.PaymentMethod == "pix" || d.Provider.PaymentType == "bank_transfer":
			return "pix", 0, true
		}
	}
	return "", 0, false
}

// References lists every provider-side identifier the details mention.
func (d PaymentDetails) References() []string {
	var refs []string
	add := func(s string) {
		if s != "" {
			refs = append(refs, s)
		}
	}
	if d.Selection != nil {
		add(d.Selection.PreferenceID)
	}
	if d.Provider != nil {
		add(d.Provider.PaymentID)
		add(d.Provider.MerchantOrderID)
	}
	return refs
}

// DecodePaymentDetails never fails on content it only partly understands.
// ok is false when the blob is empty or not a JSON object.
func DecodePaymentDetails(raw []byte) (PaymentDetails, bool) {
	var fields map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return PaymentDetails{}, false
	}

	if _, versioned := fields["schema_version"]; versioned {
		var d PaymentDetails
		if err := json.Unmarshal(raw, &d); err == nil {
			return d, true
		}
		// Fields of the wrong type: salvage what the legacy reader finds.
	}

	return decodeLegacy(fields), true
}

func decodeLegacy(f map[string]any) PaymentDetails {
	d := PaymentDetails{Legacy: true}

	if method := str(f["method"]); method != "" {
		d.Selection = &PaymentSelection{
			Method:       method,
			Installments: integer(f["installments"]),
			AmountPaid:   number(f["amountPaid"]),
			PreferenceID: str(f["preferenceId"]),
		}
	}

	if str(f["paymentId"]) != "" || str(f["status"]) != "" {
		p := &ProviderSnapshot{
			PaymentID:         str(f["paymentId"]),
			Status:            str(f["status"]),
			StatusDetail:      str(f["statusDetail"]),
			PaymentMethod:     str(f["paymentMethod"]),
			TransactionAmount: number(f["transactionAmount"]),
			Installments:      integer(f["installments"]),
		}
		if t, err := time.Parse(time.RFC3339, str(f["dateProcessed"])); err == nil {
			p.DateProcessed = &t
		}
		if payer, ok := f["payer"].(map[string]any); ok {
			p.Payer.Email = str(payer["email"])
			switch id := payer["identification"].(type) {
			case map[string]any:
				p.Payer.Identification = str(id["number"])
			default:
				p.Payer.Identification = str(id)
			}
		}
		d.Provider = p
	}

	return d
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func number(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	}
	return 0
}

func integer(v any) int {
	return int(number(v))
}
