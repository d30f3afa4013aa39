package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "LEARNHUB_"

// Config holds all application configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	Auth      AuthConfig
	RateLimit RateLimitConfig
	Mail      MailConfig

	// DevAdmin is provisioned at startup when no database is configured.
	DevAdmin DevAdminConfig

	parseErrs []error
}

// AuthConfig holds token, OTP and RBAC settings.
type AuthConfig struct {
	Secret       string
	Issuer       string
	TokenTTL     time.Duration
	OTPTTL       time.Duration
	RoleCacheTTL time.Duration
	BcryptCost   int
}

// RateLimitConfig applies to the public auth endpoints.
type RateLimitConfig struct {
	Burst     int
	PerSecond int
	// TrustForwardedFor keys buckets on the address appended to
	// X-Forwarded-For by the fronting proxy instead of the peer address.
	TrustForwardedFor bool
}

// MailConfig selects how OTP codes are delivered.
type MailConfig struct {
	Driver string // "log" or "redis"
	Stream string
	// LogCodes also writes issued codes to the log when Driver is "redis".
	LogCodes bool
}

// DevAdminConfig holds the credentials of the in-memory bootstrap administrator.
type DevAdminConfig struct {
	Email    string
	Password string
}

// Load reads an optional .env file then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	env := &envReader{}
	cfg := &Config{
		HTTPAddr:    env.str("HTTP_ADDR", ":8080"),
		GRPCAddr:    env.str("GRPC_ADDR", ":9090"),
		LogLevel:    env.str("LOG_LEVEL", "info"),
		DatabaseURL: env.str("PG_DSN", ""),
		RedisURL:    env.str("REDIS_URL", ""),
		Auth: AuthConfig{
			Secret:       env.str("AUTH_SECRET", ""),
			Issuer:       env.str("AUTH_ISSUER", "learnhub"),
			TokenTTL:     env.duration("TOKEN_TTL", 7*24*time.Hour),
			OTPTTL:       env.duration("OTP_TTL", 10*time.Minute),
			RoleCacheTTL: env.duration("ROLE_CACHE_TTL", time.Minute),
			BcryptCost:   env.integer("BCRYPT_COST", 0),
		},
		RateLimit: RateLimitConfig{
			Burst:             env.integer("RATE_BURST", 10),
			PerSecond:         env.integer("RATE_PER_SEC", 5),
			TrustForwardedFor: env.boolean("TRUST_FORWARDED_FOR", false),
		},
		Mail: MailConfig{
			Driver:   strings.ToLower(env.str("MAIL_DRIVER", "log")),
			Stream:   env.str("MAIL_STREAM", "mail:otp"),
			LogCodes: env.boolean("MAIL_LOG_CODES", false),
		},
		DevAdmin: DevAdminConfig{
			Email:    env.str("DEV_ADMIN_EMAIL", ""),
			Password: env.str("DEV_ADMIN_PASSWORD", ""),
		},
	}
	cfg.parseErrs = env.errs

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)
	if len(c.Auth.Secret) < 32 {
		errs = append(errs, errors.New(envPrefix+"AUTH_SECRET must be at least 32 bytes"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New(envPrefix+"TOKEN_TTL must be positive"))
	}
	if c.Auth.OTPTTL <= 0 {
		errs = append(errs, errors.New(envPrefix+"OTP_TTL must be positive"))
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		errs = append(errs, errors.New("rate limit burst and per-second must be positive"))
	}
	if c.DatabaseURL != "" && c.DevAdmin.Email != "" {
		errs = append(errs, errors.New(envPrefix+"DEV_ADMIN_EMAIL is only honoured without a database; use cmd/migrate admin"))
	}
	switch c.Mail.Driver {
	case "log":
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New(envPrefix+"REDIS_URL is required when MAIL_DRIVER=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported mail driver %q", c.Mail.Driver))
	}
	return errors.Join(errs...)
}

// envReader looks up LEARNHUB_* variables and records values that fail to parse.
type envReader struct {
	errs []error
}

func (e *envReader) str(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return defaultValue
}

func (e *envReader) integer(key string, defaultValue int) int {
	v := e.str(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %q is not an integer", envPrefix, key, v))
		return defaultValue
	}
	return n
}

func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %q is not a duration", envPrefix, key, v))
		return defaultValue
	}
	return d
}

func (e *envReader) boolean(key string, defaultValue bool) bool {
	v := e.str(key, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %q is not a boolean", envPrefix, key, v))
		return defaultValue
	}
	return b
}
