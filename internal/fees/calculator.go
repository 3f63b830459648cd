// Package fees enumerates the payable options for an event price: PIX,
// debit card and credit card in 1 to 12 installments, each with the
// provider's processing fee either absorbed by the organizer or passed
// through to the payer.
package fees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrOptionUnavailable = errors.New("payment option unavailable")

type Option struct {
	Method           Method  `json:"method"`
	Installments     int     `json:"installments,omitempty"`
	FeePercentage    float64 `json:"fee_percentage"`
	BaseValue        float64 `json:"base_value"`
	FeeAmount        float64 `json:"fee_amount"`
	FinalValue       float64 `json:"final_value"`
	InstallmentValue float64 `json:"installment_value,omitempty"`
	PassthroughFee   bool    `json:"passthrough_fee"`
	Description      string  `json:"description"`
}

// ProcessingFee is what the provider keeps from the charge, whoever pays it.
func (o Option) ProcessingFee() float64 {
	if o.PassthroughFee {
		return o.FeeAmount
	}
	return Round2(o.BaseValue * o.FeePercentage / 100)
}

type Options struct {
	BaseValue        float64  `json:"base_value"`
	AvailableMethods []Option `json:"available_methods"`
	DefaultMethod    Method   `json:"default_method"`
}

// Find returns the option for method and installments. Installments are
// ignored for PIX and debit, and 0 means a single credit installment.
func (o *Options) Find(m Method, installments int) (Option, bool) {
	if m == MethodCreditCard && installments == 0 {
		installments = 1
	}
	for _, opt := range o.AvailableMethods {
		if opt.Method != m {
			continue
		}
		if m != MethodCreditCard || opt.Installments == installments {
			return opt, true
		}
	}
	return Option{}, false
}

func (o *Options) clone() *Options {
	c := *o
	c.AvailableMethods = append([]Option(nil), o.AvailableMethods...)
	return &c
}

// Calculate is the uncached computation. A nil config selects DefaultConfig.
func Calculate(baseValue float64, cfg *PaymentConfig) (*Options, error) {
	if baseValue < 0 || math.IsNaN(baseValue) || math.IsInf(baseValue, 0) {
		return nil, fmt.Errorf("base value must be a non-negative number, got %v", baseValue)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Methods == nil {
		return nil, fmt.Errorf("%w: methods missing", ErrInvalidPaymentConfig)
	}

	out := &Options{BaseValue: baseValue, DefaultMethod: cfg.defaultMethod()}

	if cfg.enabled(MethodPix) {
		out.AvailableMethods = append(out.AvailableMethods, buildOption(baseValue, cfg, MethodPix, 0))
	}
	if cfg.enabled(MethodDebitCard) {
		out.AvailableMethods = append(out.AvailableMethods, buildOption(baseValue, cfg, MethodDebitCard, 0))
	}
	if cfg.enabled(MethodCreditCard) {
		for n := 1; n <= cfg.maxInstallments(); n++ {
			out.AvailableMethods = append(out.AvailableMethods, buildOption(baseValue, cfg, MethodCreditCard, n))
		}
	}

	return out, nil
}

func buildOption(base float64, cfg *PaymentConfig, m Method, installments int) Option {
	mc := cfg.method(m)
	pct := FeePercentage(cfg, m, installments)

	opt := Option{
		Method:         m,
		Installments:   installments,
		FeePercentage:  pct,
		BaseValue:      base,
		PassthroughFee: mc.PassthroughFee,
	}
	if opt.PassthroughFee {
		opt.FeeAmount = Round2(base * pct / 100)
	}
	opt.FinalValue = Round2(base + opt.FeeAmount)
	if m == MethodCreditCard {
		opt.InstallmentValue = Round2(opt.FinalValue / float64(installments))
	}
	opt.Description = describe(opt)
	return opt
}

func describe(o Option) string {
	var label string
	switch o.Method {
	case MethodPix:
		label = "PIX"
	case MethodDebitCard:
		label = "Cartão de débito"
	case MethodCreditCard:
		if o.Installments <= 1 {
			label = "Cartão de crédito à vista"
		} else if o.PassthroughFee {
			return fmt.Sprintf("Cartão de crédito em %dx de R$ %s (taxa de %s%% inclusa)", o.Installments, brl(o.InstallmentValue), percent(o.FeePercentage))
		} else {
			return fmt.Sprintf("Cartão de crédito em %dx de R$ %s sem juros", o.Installments, brl(o.InstallmentValue))
		}
	}
	if o.PassthroughFee {
		return fmt.Sprintf("%s - R$ %s (taxa de %s%% inclusa)", label, brl(o.FinalValue), percent(o.FeePercentage))
	}
	return fmt.Sprintf("%s - R$ %s", label, brl(o.FinalValue))
}

func brl(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', 2, 64), ".", ",", 1)
}

func percent(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', -1, 64), ".", ",", 1)
}

// Round2 rounds a money amount to centavos. Checkout and reporting both use
// it so their totals agree.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Calculator memoizes Calculate. The cache is an optimization only: a miss
// recomputes the identical result.
type Calculator struct {
	cache Cache
}

// NewCalculator with a nil cache computes every call.
func NewCalculator(cache Cache) *Calculator {
	return &Calculator{cache: cache}
}

func (c *Calculator) Calculate(ctx context.Context, baseValue float64, cfg *PaymentConfig) (*Options, error) {
	if c.cache == nil {
		return Calculate(baseValue, cfg)
	}

	key, err := cacheKey(baseValue, cfg)
	if err != nil {
		return nil, err
	}
	if cached, ok := c.cache.Get(ctx, key); ok {
		return cached, nil
	}

	out, err := Calculate(baseValue, cfg)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, key, out)
	return out.clone(), nil
}

// Option returns one validated option for a checkout.
func (c *Calculator) Option(ctx context.Context, baseValue float64, cfg *PaymentConfig, m Method, installments int) (Option, error) {
	if !ValidateOption(cfg, m, installments) {
		return Option{}, fmt.Errorf("%w: %s in %dx", ErrOptionUnavailable, m, installments)
	}
	opts, err := c.Calculate(ctx, baseValue, cfg)
	if err != nil {
		return Option{}, err
	}
	opt, ok := opts.Find(m, installments)
	if !ok {
		return Option{}, fmt.Errorf("%w: %s in %dx", ErrOptionUnavailable, m, installments)
	}
	return opt, nil
}

func cacheKey(baseValue float64, cfg *PaymentConfig) (string, error) {
	serialized := "default"
	if cfg != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return "", err
		}
		serialized = string(b)
	}
	return strconv.FormatFloat(baseValue, 'f', -1, 64) + "|" + serialized, nil
}
