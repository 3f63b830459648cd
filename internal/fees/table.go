package fees

// MaxInstallments is the largest credit card split the provider offers.
const MaxInstallments = 12

// Provider fee schedule, in percent of the charged amount.
const (
	PixFeePercentage       = 0.99
	DebitCardFeePercentage = 2.99
)

var creditCardFeePercentages = map[int]float64{
	1:  4.99,
	2:  5.99,
	3:  6.99,
	4:  7.99,
	5:  8.99,
	6:  9.99,
	7:  10.99,
	8:  11.99,
	9:  12.99,
	10: 13.99,
	11: 14.99,
	12: 15.99,
}

// MinInstallmentValue is the smallest per-installment amount the provider
// accepts, in reais.
const MinInstallmentValue = 5.00

func defaultFeePercentage(m Method, installments int) float64 {
	switch m {
	case MethodPix:
		return PixFeePercentage
	case MethodDebitCard:
		return DebitCardFeePercentage
	}
	if pct, ok := creditCardFeePercentages[installments]; ok {
		return pct
	}
	return creditCardFeePercentages[MaxInstallments]
}

// FeePercentage resolves the percentage for one option: per-installment
// override, then per-method override, then the default table.
func FeePercentage(cfg *PaymentConfig, m Method, installments int) float64 {
	if mc := cfg.method(m); mc != nil {
		if m == MethodCreditCard {
			if pct, ok := mc.InstallmentFees[installments]; ok {
				return pct
			}
		}
		if mc.FeePercentage != nil {
			return *mc.FeePercentage
		}
	}
	return defaultFeePercentage(m, installments)
}
