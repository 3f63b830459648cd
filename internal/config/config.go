package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                          string        `mapstructure:"PORT"`
	DatabaseDriver                string        `mapstructure:"DATABASE_DRIVER"`
	DatabasePath                  string        `mapstructure:"DATABASE_PATH"`
	DatabaseDSN                   string        `mapstructure:"DATABASE_DSN"`
	JWTSecret                     string        `mapstructure:"JWT_SECRET"`
	AdminName                     string        `mapstructure:"ADMIN_NAME"`
	AdminEmail                    string        `mapstructure:"ADMIN_EMAIL"`
	AdminPassword                 string        `mapstructure:"ADMIN_PASSWORD"`
	MercadoPagoAccessToken        string        `mapstructure:"MERCADOPAGO_ACCESS_TOKEN"`
	MercadoPagoBaseURL            string        `mapstructure:"MERCADOPAGO_BASE_URL"`
	PublicAPIURL                  string        `mapstructure:"PUBLIC_API_URL"`
	FrontendURL                   string        `mapstructure:"FRONTEND_URL"`
	FeeCacheTTL                   time.Duration `mapstructure:"FEE_CACHE_TTL"`
	RedisURL                      string        `mapstructure:"REDIS_URL"`
	DiscordBotToken               string        `mapstructure:"DISCORD_BOT_TOKEN"`
	DiscordNotificationsChannelID string        `mapstructure:"DISCORD_NOTIFICATIONS_CHANNEL_ID"`
	EnableCORS                    bool          `mapstructure:"ENABLE_CORS"`
	CORSOrigins                   []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitPerMinute            int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	WebhookGuardTerminal          bool          `mapstructure:"WEBHOOK_GUARD_TERMINAL"`
	LogLevel                      string        `mapstructure:"LOG_LEVEL"`
	Debug                         bool          `mapstructure:"DEBUG"`
}

func LoadConfig() *Config {
	// A missing .env is fine; the environment wins anyway.
	_ = godotenv.Load()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DATABASE_DRIVER", "sqlite")
	viper.SetDefault("DATABASE_PATH", "eventos.db")
	viper.SetDefault("ADMIN_NAME", "Administrador")
	viper.SetDefault("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com")
	viper.SetDefault("PUBLIC_API_URL", "http://127.0.0.1:8080")
	viper.SetDefault("FRONTEND_URL", "http://127.0.0.1:3000")
	viper.SetDefault("FEE_CACHE_TTL", "24h")
	viper.SetDefault("CORS_ORIGINS", []string{"http://127.0.0.1:3000"})
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("LOG_LEVEL", "info")

	viper.BindEnv("DATABASE_DSN")
	viper.BindEnv("JWT_SECRET")
	viper.BindEnv("ADMIN_EMAIL")
	viper.BindEnv("ADMIN_PASSWORD")
	viper.BindEnv("MERCADOPAGO_ACCESS_TOKEN")
	viper.BindEnv("REDIS_URL")
	viper.BindEnv("DISCORD_BOT_TOKEN")
	viper.BindEnv("DISCORD_NOTIFICATIONS_CHANNEL_ID")
	viper.BindEnv("ENABLE_CORS")
	viper.BindEnv("WEBHOOK_GUARD_TERMINAL")
	viper.BindEnv("DEBUG")

	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	return &config
}
