package handlers

import (
	"net/http"

	"github.com/comunidade-viva/eventos-api/internal/validator"
	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

// DiagnosticError is a problem response that carries extra context for
// operators, such as the current status of a registration or the raw
// provider error.
type DiagnosticError struct {
	Status      int            `json:"status"`
	Title       string         `json:"title"`
	Detail      string         `json:"detail"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

func (e *DiagnosticError) Error() string  { return e.Detail }
func (e *DiagnosticError) GetStatus() int { return e.Status }

func (e *DiagnosticError) ContentType(ct string) string {
	if ct == "application/json" {
		return "application/problem+json"
	}
	return ct
}

func diagnostic(status int, detail string, diagnostics map[string]any) *DiagnosticError {
	return &DiagnosticError{
		Status:      status,
		Title:       http.StatusText(status),
		Detail:      detail,
		Diagnostics: diagnostics,
	}
}

// internalError logs err and hides it from the client unless debug is on.
func internalError(log zerolog.Logger, debug bool, msg string, err error) error {
	log.Error().Err(err).Msg(msg)
	if debug {
		return huma.Error500InternalServerError(msg + ": " + err.Error())
	}
	return huma.Error500InternalServerError(msg)
}

func validationError(errs []validator.FieldError) error {
	details := make([]error, 0, len(errs))
	for _, fe := range errs {
		details = append(details, &huma.ErrorDetail{
			Message:  fe.Message,
			Location: "body." + fe.Field,
			Value:    fe.Value,
		})
	}
	return huma.Error422UnprocessableEntity("validation failed", details...)
}
