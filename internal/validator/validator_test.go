package validator

import (
	"context"
	"testing"
)

func TestValidCPF(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"52998224725", true},
		{"529.982.247-25", true},
		{"11144477735", true},
		{"52998224724", false},
		{"11111111111", false},
		{"1234567890", false},
		{"", false},
		{"abc", false},
	}
	for _, tt := range tests {
		if got := ValidCPF(tt.in); got != tt.want {
			t.Errorf("ValidCPF(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type participant struct {
	Name  string `json:"name" validate:"required,min=2,max=120"`
	Email string `json:"email" validate:"required,email"`
	CPF   string `json:"cpf" validate:"required,cpf"`
	Phone string `json:"phone" validate:"omitempty,phone"`
}

func TestValidate(t *testing.T) {
	ok := participant{Name: "Ana", Email: "ana@example.com", CPF: "529.982.247-25", Phone: "+55 (11) 91234-5678"}
	if errs := Validate(context.Background(), ok); errs != nil {
		t.Fatalf("expected valid participant, got %+v", errs)
	}

	bad := participant{Name: "A", Email: "not-an-email", CPF: "12345678900", Phone: "x"}
	errs := Validate(context.Background(), bad)
	if len(errs) != 4 {
		t.Fatalf("expected 4 field errors, got %+v", errs)
	}

	got := map[string]string{}
	for _, e := range errs {
		got[e.Field] = e.Message
	}
	want := map[string]string{
		"name":  ErrFieldTooShort,
		"email": ErrInvalidEmail,
		"cpf":   ErrInvalidCPF,
		"phone": ErrInvalidPhone,
	}
	for field, msg := range want {
		if got[field] != msg {
			t.Errorf("field %s: expected %q, got %q", field, msg, got[field])
		}
	}
}
