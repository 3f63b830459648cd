package handlers

import (
	"net/http"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/auth"
	"github.com/comunidade-viva/eventos-api/internal/config"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type Handlers struct {
	Auth          *auth.AuthHandler
	Events        *EventHandler
	Payments      *PaymentHandler
	Webhook       *WebhookHandler
	Registrations *RegistrationHandler
	Users         *UserHandler
	APIKeys       *APIKeyHandler
}

func bearerAuth(o *huma.Operation) {
	o.Security = []map[string][]string{{"bearerAuth": {}}, {"cookieAuth": {}}, {"apiKeyAuth": {}}}
}

func RegisterRoutes(r *chi.Mux, cfg *config.Config, log zerolog.Logger, h Handlers) huma.API {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	if cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", auth.HeaderAPIKey},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if cfg.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
	}

	r.Use(h.Auth.JWTMiddleware)

	// Initialize Huma API
	humaConfig := huma.DefaultConfig("Eventos API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
		"cookieAuth": {
			Type: "apiKey",
			In:   "cookie",
			Name: auth.CookieName,
		},
		"apiKeyAuth": {
			Type: "apiKey",
			In:   "header",
			Name: auth.HeaderAPIKey,
		},
	}
	api := humachi.New(r, humaConfig)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	huma.Get(api, "/api/events", h.Events.HandleList)
	huma.Get(api, "/api/events/{id}", h.Events.HandleGet)
	huma.Get(api, "/api/events/{id}/payment-options", h.Events.HandlePaymentOptions)

	huma.Post(api, "/api/payments/create-preference", h.Payments.HandleCreatePreference)
	huma.Put(api, "/api/payments/update-preference", h.Payments.HandleUpdatePreference)
	huma.Register(api, huma.Operation{
		OperationID: "payment-webhook",
		Method:      http.MethodPost,
		Path:        "/api/payments/webhook",
		Summary:     "Payment provider notification",
	}, h.Webhook.HandleNotification)
	huma.Get(api, "/api/payments/webhook", h.Webhook.HandleStatus)

	huma.Post(api, "/api/auth/login", h.Auth.HandleLogin)

	// Protected routes; JWTMiddleware sets the identity headers and each
	// operation checks roles through AuthInput.Authorize.
	huma.Get(api, "/api/auth/me", h.Auth.HandleMe, bearerAuth)

	huma.Get(api, "/api/admin/events", h.Events.HandleAdminList, bearerAuth)
	huma.Post(api, "/api/admin/events", h.Events.HandleCreate, bearerAuth)
	huma.Put(api, "/api/admin/events/{id}", h.Events.HandleUpdate, bearerAuth)

	huma.Get(api, "/api/registrations", h.Registrations.HandleList, bearerAuth)
	huma.Get(api, "/api/registrations/stats", h.Registrations.HandleStats, bearerAuth)
	huma.Patch(api, "/api/registrations/{id}/status", h.Registrations.HandleUpdateStatus, bearerAuth)
	huma.Post(api, "/api/registrations/{id}/check-in", h.Registrations.HandleCheckIn, bearerAuth)

	huma.Get(api, "/api/admin/users", h.Users.HandleList, bearerAuth)
	huma.Post(api, "/api/admin/users", h.Users.HandleCreate, bearerAuth)

	huma.Get(api, "/api/auth/api-keys", h.APIKeys.HandleList, bearerAuth)
	huma.Post(api, "/api/auth/api-keys", h.APIKeys.HandleCreate, bearerAuth)
	huma.Delete(api, "/api/auth/api-keys/{id}", h.APIKeys.HandleDelete, bearerAuth)

	return api
}
