package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile               = ".env"
	defaultPort                  = "8080"
	defaultReadTimeout           = 15 * time.Second
	defaultWriteTimeout          = 30 * time.Second
	defaultIdleTimeout           = 120 * time.Second
	defaultShutdownTimeout       = 20 * time.Second
	defaultEnvironment           = "local"
	defaultDatabaseDriver        = DriverPostgres
	defaultDatabaseMaxConns      = 10
	defaultMonobankBaseURL       = "https://api.monobank.ua"
	defaultProviderTimeout       = 10 * time.Second
	defaultECBURL                = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"
	defaultFXRefreshInterval     = 6 * time.Hour
	defaultFXSecretHeader        = "X-FX-Secret"
	defaultRateLimitDefault      = 120
	defaultRateLimitAuth         = 240
	defaultRateLimitWebhookBurst = 60
	defaultIdempotencyHeader     = "Idempotency-Key"
	defaultIdempotencyTTL        = 24 * time.Hour
	defaultIdempotencyInterval   = time.Hour
	defaultIdempotencyBatchSize  = 200
	defaultLogLevel              = "info"
)

// Database drivers accepted by API_DATABASE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Payments    PaymentsConfig
	FX          FXConfig
	Auth        AuthConfig
	CORS        CORSConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
	Build       BuildConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects and configures the order store.
type DatabaseConfig struct {
	Driver   string
	URL      string
	MaxConns int32
}

// RedisConfig configures the shared idempotency store. An empty Addr keeps records in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PaymentsConfig collects provider credentials. Missing credentials disable the provider.
type PaymentsConfig struct {
	LiqPay   LiqPayConfig
	Monobank MonobankConfig
}

// LiqPayConfig holds the merchant key pair and callback URLs.
type LiqPayConfig struct {
	PublicKey  string
	PrivateKey string
	Sandbox    bool
	ServerURL  string
	ResultURL  string
}

// Configured reports whether both keys are present.
func (c LiqPayConfig) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// MonobankConfig holds the acquiring token and webhook verification key.
type MonobankConfig struct {
	Token       string
	PublicKey   string
	BaseURL     string
	RedirectURL string
	WebhookURL  string
	Timeout     time.Duration
}

// Configured reports whether the token and public key are present.
func (c MonobankConfig) Configured() bool {
	return c.Token != "" && c.PublicKey != ""
}

// FXConfig controls reference rate refreshes.
type FXConfig struct {
	ECBURL          string
	Secret          string
	SecretHeader    string
	RefreshInterval time.Duration
	Timeout         time.Duration
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// CORSConfig lists storefront origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	WebhookBurst           int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// BuildConfig carries release metadata surfaced by the health endpoints.
type BuildConfig struct {
	Version   string
	CommitSHA string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides
// and environment variables.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		LogLevel:    strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(stringWithDefault(lookup, "API_DATABASE_DRIVER", defaultDatabaseDriver)),
			URL:      stringWithDefault(lookup, "API_DATABASE_URL", ""),
			MaxConns: int32(intWithDefault(lookup, "API_DATABASE_MAX_CONNS", defaultDatabaseMaxConns)),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Payments: PaymentsConfig{
			LiqPay: LiqPayConfig{
				PublicKey:  strings.TrimSpace(stringWithDefault(lookup, "API_LIQPAY_PUBLIC_KEY", "")),
				PrivateKey: strings.TrimSpace(stringWithDefault(lookup, "API_LIQPAY_PRIVATE_KEY", "")),
				Sandbox:    boolWithDefault(lookup, "API_LIQPAY_SANDBOX", false),
				ServerURL:  stringWithDefault(lookup, "API_LIQPAY_SERVER_URL", ""),
				ResultURL:  stringWithDefault(lookup, "API_LIQPAY_RESULT_URL", ""),
			},
			Monobank: MonobankConfig{
				Token:       strings.TrimSpace(stringWithDefault(lookup, "API_MONOBANK_TOKEN", "")),
				PublicKey:   strings.TrimSpace(stringWithDefault(lookup, "API_MONOBANK_PUBLIC_KEY", "")),
				BaseURL:     stringWithDefault(lookup, "API_MONOBANK_BASE_URL", defaultMonobankBaseURL),
				RedirectURL: stringWithDefault(lookup, "API_MONOBANK_REDIRECT_URL", ""),
				WebhookURL:  stringWithDefault(lookup, "API_MONOBANK_WEBHOOK_URL", ""),
				Timeout:     durationWithDefault(lookup, "API_MONOBANK_TIMEOUT", defaultProviderTimeout),
			},
		},
		FX: FXConfig{
			ECBURL:          stringWithDefault(lookup, "API_FX_ECB_URL", defaultECBURL),
			Secret:          stringWithDefault(lookup, "API_FX_SECRET", ""),
			SecretHeader:    stringWithDefault(lookup, "API_FX_SECRET_HEADER", defaultFXSecretHeader),
			RefreshInterval: durationWithDefault(lookup, "API_FX_REFRESH_INTERVAL", defaultFXRefreshInterval),
			Timeout:         durationWithDefault(lookup, "API_FX_TIMEOUT", defaultProviderTimeout),
		},
		Auth: AuthConfig{
			JWTSecret: stringWithDefault(lookup, "API_AUTH_JWT_SECRET", ""),
			Issuer:    stringWithDefault(lookup, "API_AUTH_ISSUER", ""),
			Audience:  stringWithDefault(lookup, "API_AUTH_AUDIENCE", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: csvWithDefault(lookup, "API_CORS_ALLOWED_ORIGINS"),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       intWithDefault(lookup, "API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: intWithDefault(lookup, "API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			WebhookBurst:           intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_BURST", defaultRateLimitWebhookBurst),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Build: BuildConfig{
			Version:   stringWithDefault(lookup, "API_BUILD_VERSION", "dev"),
			CommitSHA: stringWithDefault(lookup, "API_BUILD_COMMIT_SHA", ""),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Database.Driver {
	case DriverPostgres:
		if strings.TrimSpace(cfg.Database.URL) == "" {
			missing = append(missing, "Database.URL")
		}
	case DriverMemory:
	default:
		missing = append(missing, "Database.Driver")
	}
	if cfg.Database.MaxConns <= 0 {
		missing = append(missing, "Database.MaxConns")
	}
	if cfg.Redis.DB < 0 {
		missing = append(missing, "Redis.DB")
	}
	if cfg.FX.RefreshInterval < 0 {
		missing = append(missing, "FX.RefreshInterval")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.RateLimits.DefaultPerMinute <= 0 {
		missing = append(missing, "RateLimits.DefaultPerMinute")
	}
	if cfg.Environment == "prod" && cfg.Auth.JWTSecret == "" {
		missing = append(missing, "Auth.JWTSecret")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if value == "0" {
			return 0
		}
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
