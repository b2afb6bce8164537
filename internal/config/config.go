// Package config loads process settings from the environment.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	minSecretBytes = 32
)

// envList is swapped in tests.
var envList = os.Environ

// Config is the server configuration.
type Config struct {
	Env           string        `env:"INBOX_ENV,default=development"`
	Addr          string        `env:"INBOX_ADDR,default=:8080"`
	DBPath        string        `env:"INBOX_DB_PATH,default=inbox.db"`
	JWTSecret     string        `env:"INBOX_JWT_SECRET"`
	JWTIssuer     string        `env:"INBOX_JWT_ISSUER,default=inbox"`
	TokenTTL      time.Duration `env:"INBOX_TOKEN_TTL,default=24h"`
	LogLevel      string        `env:"INBOX_LOG_LEVEL,default=info"`
	SlowQueryMs   int           `env:"INBOX_SLOW_QUERY_MS,default=50"`
	SlowRequestMs int           `env:"INBOX_SLOW_REQUEST_MS,default=200"`
	RateLimit     int           `env:"INBOX_RATE_LIMIT,default=20"`
	PerfRingSize  int           `env:"INBOX_PERF_RING_SIZE,default=10000"`
	PushBuffer    int           `env:"INBOX_PUSH_BUFFER,default=64"`
	ResendKey     string        `env:"INBOX_RESEND_KEY"`
	EmailFrom     string        `env:"INBOX_EMAIL_FROM,default=Inbox <noreply@inbox.local>"`
	PublicURL     string        `env:"INBOX_PUBLIC_URL,default=http://localhost:8080"`

	// Email notifications are queued and delivered by a background worker.
	OutboxInterval  time.Duration `env:"INBOX_OUTBOX_INTERVAL,default=30s"`
	OutboxRetention time.Duration `env:"INBOX_OUTBOX_RETENTION,default=168h"`

	// Unset means "seed outside production".
	SeedDemo *bool `env:"INBOX_SEED_DEMO"`

	secret []byte
}

// Load reads .env (if present) and then the process environment.
// PRE: none
// POST: Returns a validated config or an error describing the first bad setting
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	es, err := env.EnvironToEnvSet(envList())
	if err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return FromEnvSet(es)
}

// FromEnvSet decodes and validates a config from an explicit variable set.
func FromEnvSet(es env.EnvSet) (Config, error) {
	var c Config
	if err := env.Unmarshal(es, &c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.finalize(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) finalize() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		return fmt.Errorf("INBOX_ENV must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.Env)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.TokenTTL <= 0 {
		return errors.New("INBOX_TOKEN_TTL must be positive")
	}
	if c.OutboxInterval <= 0 || c.OutboxRetention <= 0 {
		return errors.New("INBOX_OUTBOX_INTERVAL and INBOX_OUTBOX_RETENTION must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("INBOX_RATE_LIMIT must not be negative")
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")

	switch {
	case c.JWTSecret != "" && len(c.JWTSecret) < minSecretBytes:
		return fmt.Errorf("INBOX_JWT_SECRET must be at least %d bytes", minSecretBytes)
	case c.JWTSecret != "":
		c.secret = []byte(c.JWTSecret)
	case c.IsProduction():
		return errors.New("INBOX_JWT_SECRET is required in production")
	default:
		c.secret = make([]byte, minSecretBytes)
		if _, err := rand.Read(c.secret); err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		slog.Warn("config_event", "event", "random_jwt_secret",
			"detail", "tokens won't survive restart; set INBOX_JWT_SECRET")
	}
	return nil
}

// IsProduction reports whether the server runs with production safeguards.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Secret returns the HMAC key for bearer tokens.
func (c Config) Secret() []byte {
	return c.secret
}

// ShouldSeedDemo reports whether demo profiles are upserted at startup.
func (c Config) ShouldSeedDemo() bool {
	if c.SeedDemo != nil {
		return *c.SeedDemo
	}
	return !c.IsProduction()
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("INBOX_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// ClientConfig is the configuration of the inboxctl command.
type ClientConfig struct {
	ServerURL string        `env:"INBOX_SERVER_URL,default=http://localhost:8080"`
	Token     string        `env:"INBOX_TOKEN"`
	Timeout   time.Duration `env:"INBOX_CLIENT_TIMEOUT,default=10s"`
}

// LoadClient reads the client settings the same way Load does.
func LoadClient() (ClientConfig, error) {
	_ = godotenv.Load()
	es, err := env.EnvironToEnvSet(envList())
	if err != nil {
		return ClientConfig{}, fmt.Errorf("read environment: %w", err)
	}
	return ClientFromEnvSet(es)
}

// ClientFromEnvSet decodes a client config from an explicit variable set.
func ClientFromEnvSet(es env.EnvSet) (ClientConfig, error) {
	var c ClientConfig
	if err := env.Unmarshal(es, &c); err != nil {
		return ClientConfig{}, fmt.Errorf("decode client config: %w", err)
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	if c.Timeout <= 0 {
		return ClientConfig{}, errors.New("INBOX_CLIENT_TIMEOUT must be positive")
	}
	return c, nil
}
