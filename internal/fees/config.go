package fees

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Method string

const (
	MethodPix        Method = "pix"
	MethodDebitCard  Method = "debit_card"
	MethodCreditCard Method = "credit_card"
)

func (m Method) Valid() bool {
	return m == MethodPix || m == MethodDebitCard || m == MethodCreditCard
}

// ErrInvalidPaymentConfig is returned when a configuration is present but
// has no usable methods section.
var ErrInvalidPaymentConfig = errors.New("invalid payment config")

type MethodConfig struct {
	Enabled        bool     `json:"enabled"`
	PassthroughFee bool     `json:"passthrough_fee"`
	FeePercentage  *float64 `json:"fee_percentage,omitempty"`
	// Credit card only.
	MaxInstallments int             `json:"max_installments,omitempty"`
	InstallmentFees map[int]float64 `json:"installment_fees,omitempty"`
}

type Methods struct {
	Pix        *MethodConfig `json:"pix,omitempty"`
	DebitCard  *MethodConfig `json:"debit_card,omitempty"`
	CreditCard *MethodConfig `json:"credit_card,omitempty"`
}

// PaymentConfig is stored as JSON on every event.
type PaymentConfig struct {
	Methods       *Methods `json:"methods"`
	DefaultMethod Method   `json:"default_method,omitempty"`
}

// DefaultConfig enables every method without fee passthrough.
func DefaultConfig() *PaymentConfig {
	return &PaymentConfig{
		Methods: &Methods{
			Pix:        &MethodConfig{Enabled: true},
			DebitCard:  &MethodConfig{Enabled: true},
			CreditCard: &MethodConfig{Enabled: true, MaxInstallments: MaxInstallments},
		},
		DefaultMethod: MethodPix,
	}
}

// ParseConfig decodes a stored configuration. An empty or null document
// yields nil, which callers treat as DefaultConfig.
func ParseConfig(raw []byte) (*PaymentConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var cfg PaymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPaymentConfig, err)
	}
	if cfg.Methods == nil {
		return nil, fmt.Errorf("%w: methods missing", ErrInvalidPaymentConfig)
	}
	return &cfg, nil
}

// Validate is stricter than ParseConfig and is applied when an admin saves
// a configuration.
func (c *PaymentConfig) Validate() error {
	if c.Methods == nil {
		return fmt.Errorf("%w: methods missing", ErrInvalidPaymentConfig)
	}
	if cc := c.Methods.CreditCard; cc != nil && cc.Enabled {
		if cc.MaxInstallments < 1 || cc.MaxInstallments > MaxInstallments {
			return fmt.Errorf("%w: credit_card.max_installments must be between 1 and %d", ErrInvalidPaymentConfig, MaxInstallments)
		}
		for n := range cc.InstallmentFees {
			if n < 1 || n > MaxInstallments {
				return fmt.Errorf("%w: installment fee for %dx is out of range", ErrInvalidPaymentConfig, n)
			}
		}
	}
	for _, m := range []Method{MethodPix, MethodDebitCard, MethodCreditCard} {
		if mc := c.method(m); mc != nil && mc.FeePercentage != nil && (*mc.FeePercentage < 0 || *mc.FeePercentage >= 100) {
			return fmt.Errorf("%w: %s.fee_percentage must be in [0, 100)", ErrInvalidPaymentConfig, m)
		}
	}
	if c.DefaultMethod != "" && !c.enabled(c.DefaultMethod) {
		return fmt.Errorf("%w: default method %q is not enabled", ErrInvalidPaymentConfig, c.DefaultMethod)
	}
	if !c.enabled(MethodPix) && !c.enabled(MethodDebitCard) && !c.enabled(MethodCreditCard) {
		return fmt.Errorf("%w: no payment method enabled", ErrInvalidPaymentConfig)
	}
	return nil
}

func (c *PaymentConfig) method(m Method) *MethodConfig {
	if c == nil || c.Methods == nil {
		return nil
	}
	switch m {
	case MethodPix:
		return c.Methods.Pix
	case MethodDebitCard:
		return c.Methods.DebitCard
	case MethodCreditCard:
		return c.Methods.CreditCard
	}
	return nil
}

func (c *PaymentConfig) enabled(m Method) bool {
	mc := c.method(m)
	return mc != nil && mc.Enabled
}

func (c *PaymentConfig) maxInstallments() int {
	mc := c.method(MethodCreditCard)
	if mc == nil {
		return 0
	}
	if mc.MaxInstallments <= 0 {
		return 1
	}
	return min(mc.MaxInstallments, MaxInstallments)
}

func (c *PaymentConfig) defaultMethod() Method {
	if c.DefaultMethod != "" && c.enabled(c.DefaultMethod) {
		return c.DefaultMethod
	}
	for _, m := range []Method{MethodPix, MethodDebitCard, MethodCreditCard} {
		if c.enabled(m) {
			return m
		}
	}
	return ""
}
