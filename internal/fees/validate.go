package fees

import (
	"fmt"
)

// ValidateOption reports whether method is enabled in cfg and, for credit
// cards, whether installments is within the configured ceiling. A nil cfg
// is the default configuration; a cfg without methods allows nothing.
func ValidateOption(cfg *PaymentConfig, m Method, installments int) bool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Methods == nil || !m.Valid() || !cfg.enabled(m) {
		return false
	}
	if m != MethodCreditCard {
		return true
	}
	if installments == 0 {
		installments = 1
	}
	return installments >= 1 && installments <= cfg.maxInstallments()
}

// CheckInstallmentMinimum rejects splits the provider would refuse.
func CheckInstallmentMinimum(o Option) error {
	if o.Method != MethodCreditCard || o.Installments <= 1 {
		return nil
	}
	if o.FinalValue/float64(o.Installments) < MinInstallmentValue {
		return fmt.Errorf("each installment must be at least R$ %s, %dx of R$ %s is below it",
			brl(MinInstallmentValue), o.Installments, brl(o.InstallmentValue))
	}
	return nil
}
