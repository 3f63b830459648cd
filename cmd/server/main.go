package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/auth"
	"github.com/comunidade-viva/eventos-api/internal/config"
	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/fees"
	"github.com/comunidade-viva/eventos-api/internal/handlers"
	"github.com/comunidade-viva/eventos-api/internal/logging"
	"github.com/comunidade-viva/eventos-api/internal/mercadopago"
	"github.com/comunidade-viva/eventos-api/internal/notifier"
	"github.com/comunidade-viva/eventos-api/internal/payments"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()
	log := logging.New(cfg.LogLevel, cfg.Debug)

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}
	if cfg.MercadoPagoAccessToken == "" {
		log.Warn().Msg("MERCADOPAGO_ACCESS_TOKEN is not set, provider calls will fail")
	}

	// Connect to Database
	conn, err := database.Connect(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	if err := conn.SeedAdmin(context.Background(), cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to seed admin user")
	}

	calc := fees.NewCalculator(newFeeCache(cfg, log))

	provider, err := mercadopago.NewClient(cfg.MercadoPagoAccessToken, mercadopago.WithBaseURL(cfg.MercadoPagoBaseURL))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure Mercado Pago client")
	}

	reconcilerOpts := []payments.Option{payments.WithTerminalGuard(cfg.WebhookGuardTerminal)}
	var confirmNotifier payments.Notifier
	discordNotifier, err := notifier.Open(cfg.DiscordBotToken, cfg.DiscordNotificationsChannelID)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Discord notifier not initialized")
	case discordNotifier != nil:
		confirmNotifier = discordNotifier
		reconcilerOpts = append(reconcilerOpts, payments.WithNotifier(discordNotifier))
	}
	reconciler := payments.NewReconciler(conn, log, reconcilerOpts...)

	// Initialize Handlers
	h := handlers.Handlers{
		Auth:          auth.NewAuthHandler(cfg, conn),
		Events:        handlers.NewEventHandler(conn, calc, log, cfg.Debug),
		Payments:      handlers.NewPaymentHandler(conn, calc, provider, cfg, log),
		Webhook:       handlers.NewWebhookHandler(provider, reconciler, log, cfg.Debug),
		Registrations: handlers.NewRegistrationHandler(conn, calc, confirmNotifier, log, cfg.Debug),
		Users:         handlers.NewUserHandler(conn, log, cfg.Debug),
		APIKeys:       handlers.NewAPIKeyHandler(conn, log, cfg.Debug),
	}

	// Initialize Router
	r := chi.NewRouter()
	handlers.RegisterRoutes(r, cfg, log, h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// newFeeCache shares fee options through Redis when REDIS_URL is set and
// falls back to a process-local cache otherwise.
func newFeeCache(cfg *config.Config, log zerolog.Logger) fees.Cache {
	ttl := cfg.FeeCacheTTL
	if ttl <= 0 {
		ttl = fees.DefaultCacheTTL
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err == nil {
			rdb := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err = rdb.Ping(ctx).Err()
			cancel()
			if err == nil {
				log.Info().Dur("ttl", ttl).Msg("fee cache backed by redis")
				return fees.NewRedisCache(rdb, ttl)
			}
			rdb.Close()
		}
		log.Warn().Err(err).Msg("redis unavailable, using in-memory fee cache")
	}

	return fees.NewMemoryCache(ttl, time.Now)
}
