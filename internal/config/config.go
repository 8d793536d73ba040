// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all env configuration vars for the server.
type Config struct {
	DatabaseURL string
	RedisURL    string // optional -- empty disables cache, mail queue, and rate limiting
	Port        string
	Env         string // "development" or "production"; relaxes cookie policy in dev
	LogLevel    slog.Level

	// JWTSecret signs access tokens and temp-key tokens.
	JWTSecret string

	// Token and temp-key lifetimes.
	// Defaults: access 15m, refresh 168h (7d), activate key 24h, reset key 1h.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ActivateKeyTTL  time.Duration
	ResetKeyTTL     time.Duration

	// ResetCooldown is the minimum gap between password reset requests per user.
	ResetCooldown time.Duration

	// SMTP configuration for outbound email. All optional -- empty Host disables sending.
	SMTPHost        string
	SMTPPort        string // defaults to 587
	SMTPUsername    string
	SMTPPassword    string
	SMTPFromAddress string

	// FEBaseURL prefixes the activation / reset links placed in emails.
	FEBaseURL string

	// Root admin account seeded at startup when both are set.
	RootAdminEmail    string
	RootAdminPassword string

	// WhiteListedOrigins are the allowed CORS origins.
	WhiteListedOrigins []string

	// Rate limit policy for login attempts per email.
	// Defaults: max=10, window=10m, lockout=15m.
	RateLoginMax     int
	RateLoginWindow  time.Duration
	RateLoginLockout time.Duration
}

// IsDev reports whether the server runs with the relaxed development policy.
func (c *Config) IsDev() bool {
	return c.Env != "production"
}

// LoadConfig reads environment variables and returns a validated Config.
// A .env file in the working directory is applied first when present.
// Returns an error if required variables (DATABASE_URL, JWT_SECRET) are missing.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; real env vars always win.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Optional -- empty means no Redis-backed components.
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8000"
	}

	cfg.Env = os.Getenv("APP_ENV")
	if cfg.Env == "" {
		cfg.Env = "development"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.AccessTokenTTL = envDuration("JWT_EXPIRATION", 15*time.Minute)
	cfg.RefreshTokenTTL = envDuration("REFRESH_EXPIRATION", 168*time.Hour)
	cfg.ActivateKeyTTL = envDuration("ACTIVATE_KEY_TTL", 24*time.Hour)
	cfg.ResetKeyTTL = envDuration("RESET_KEY_TTL", 1*time.Hour)
	cfg.ResetCooldown = envDuration("RESET_COOLDOWN", 5*time.Minute)

	// SMTP -- all optional; empty Host means no email sending (NopMailer).
	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = os.Getenv("SMTP_PORT")
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFromAddress = os.Getenv("SMTP_FROM")

	cfg.FEBaseURL = os.Getenv("FE_BASE_URL")
	if cfg.FEBaseURL == "" {
		cfg.FEBaseURL = "http://localhost:3000"
	}
	// Email links carry temp-key ids; in production they must not travel plain HTTP.
	if !cfg.IsDev() && cfg.SMTPHost != "" && !strings.HasPrefix(cfg.FEBaseURL, "https://") {
		return nil, fmt.Errorf("FE_BASE_URL must start with https:// in production")
	}

	cfg.RootAdminEmail = os.Getenv("ROOT_ADMIN_EMAIL")
	cfg.RootAdminPassword = os.Getenv("ROOT_ADMIN_PASSWORD")

	if origins := os.Getenv("WHITE_LISTED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cfg.WhiteListedOrigins = append(cfg.WhiteListedOrigins, trimmed)
			}
		}
	}

	// Rate limit: login by email. If any value is missing or invalid,
	// fall back to the default so a misconfigured env doesn't silently disable rate limiting.
	cfg.RateLoginMax = envInt("RATE_LOGIN_MAX", 10)
	cfg.RateLoginWindow = envDuration("RATE_LOGIN_WINDOW", 10*time.Minute)
	cfg.RateLoginLockout = envDuration("RATE_LOGIN_LOCKOUT", 15*time.Minute)

	return cfg, nil
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
