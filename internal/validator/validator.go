package validator

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	global     *validator.Validate
	phoneRegex = regexp.MustCompile(`^\+?[0-9 ()\-]{8,20}$`)
)

const (
	ErrInvalidFormat     = "invalid format"
	ErrFieldRequired     = "field is required"
	ErrFieldTooLong      = "field exceeds maximum length"
	ErrFieldTooShort     = "field is below minimum length"
	ErrInvalidEmail      = "invalid email address"
	ErrInvalidCPF        = "invalid CPF"
	ErrInvalidPhone      = "invalid phone number"
	ErrUnknownValidation = "invalid value"
)

// FieldError is one rejected field, named by its JSON key.
type FieldError struct {
	Field   string
	Message string
	Value   any
}

func init() {
	SetValidator(New())
}

func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cpf", validateCPF)
	_ = v.RegisterValidation("phone", validatePhone)
	return v
}

func SetValidator(v *validator.Validate) {
	global = v
}

func Validator() *validator.Validate {
	return global
}

// Validate returns every failing field, or nil when s is valid.
func Validate(ctx context.Context, s any) []FieldError {
	err := Validator().StructCtx(ctx, s)
	if err == nil {
		return nil
	}

	var vErrors validator.ValidationErrors
	if !errors.As(err, &vErrors) {
		return []FieldError{{Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(vErrors))
	for _, fe := range vErrors {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Message: message(fe),
			Value:   fe.Value(),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return ErrFieldRequired
	case "max":
		return ErrFieldTooLong
	case "min":
		return ErrFieldTooShort
	case "email":
		return ErrInvalidEmail
	case "cpf":
		return ErrInvalidCPF
	case "phone":
		return ErrInvalidPhone
	case "oneof":
		return ErrInvalidFormat
	}
	return ErrUnknownValidation
}

func validateCPF(fl validator.FieldLevel) bool {
	return ValidCPF(fl.Field().String())
}

func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

// NormalizeCPF strips punctuation, leaving only digits.
func NormalizeCPF(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCPF checks length and both check digits. Punctuation is ignored and
// sequences of one repeated digit are rejected.
func ValidCPF(s string) bool {
	digits := NormalizeCPF(s)
	if len(digits) != 11 {
		return false
	}
	if strings.Count(digits, digits[:1]) == 11 {
		return false
	}

	d := make([]int, 11)
	for i := range digits {
		d[i] = int(digits[i] - '0')
	}

	check := func(n int) int {
		sum := 0
		for i := 0; i < n; i++ {
			sum += d[i] * (n + 1 - i)
		}
		r := (sum * 10) % 11
		if r == 10 {
			return 0
		}
		return r
	}

	return check(9) == d[9] && check(10) == d[10]
}
