// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the public HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health endpoint listens on (e.g. :9090). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// StoreBackend selects repository implementations: memory or postgres.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	// DatabaseURL is the Postgres DSN; required when StoreBackend is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// OTPTTL is the lifetime of an issued verification code (e.g. "10m").
	OTPTTL string `mapstructure:"OTP_TTL"`
	// OTPMaxAttempts is the number of verification attempts allowed per challenge.
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPIssueLimit is the number of challenges a builder may be issued within OTPIssueWindow.
	OTPIssueLimit int `mapstructure:"OTP_ISSUE_LIMIT"`
	// OTPIssueWindow is the rolling issuance window (e.g. "15m").
	OTPIssueWindow string `mapstructure:"OTP_ISSUE_WINDOW"`
	// OTPHashCost is the bcrypt cost used for stored code hashes.
	OTPHashCost int `mapstructure:"OTP_HASH_COST"`
	// DeliveryTimeout bounds a single SMS/email dispatch (e.g. "10s").
	DeliveryTimeout string `mapstructure:"DELIVERY_TIMEOUT"`
	// OTPReturnToClient when true keeps codes in memory for GET /dev/otp/:id instead of sending them.
	// Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`

	// SweepInterval is how often the background sweeper runs (e.g. "1m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// InvalidationRetention is how long invalidation events are kept (e.g. "168h").
	InvalidationRetention string `mapstructure:"INVALIDATION_RETENTION"`
	// AuditRetryMaxElapsed bounds retries of a failed audit write (e.g. "2s").
	AuditRetryMaxElapsed string `mapstructure:"AUDIT_RETRY_MAX_ELAPSED"`

	// ClaimPolicyFile is an optional path to a Rego module deciding claim eligibility.
	ClaimPolicyFile string `mapstructure:"CLAIM_POLICY_FILE"`

	// Redis (optional). When RedisAddr is set the issuance limiter uses Redis instead of the store count.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// SMSLocalAPIKey is the API key for SMS Local. Required for sms delivery outside dev OTP mode.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL overrides the SMS Local API base URL. Empty uses the client's default.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// SendGridAPIKey is the SendGrid key used for email delivery.
	SendGridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	// EmailFromAddress is the sender address for verification emails.
	EmailFromAddress string `mapstructure:"EMAIL_FROM_ADDRESS"`
	// EmailFromName is the display name for verification emails.
	EmailFromName string `mapstructure:"EMAIL_FROM_NAME"`

	// SessionTokenKey is the PEM-encoded private key (RSA or ECDSA) or path to file used to sign session tokens.
	SessionTokenKey string `mapstructure:"SESSION_TOKEN_KEY"`
	// SessionTokenPublicKey is the PEM-encoded public key or path to file; used with SessionTokenKey.
	SessionTokenPublicKey string `mapstructure:"SESSION_TOKEN_PUBLIC_KEY"`
	// SessionTokenIssuer is the iss claim of session tokens.
	SessionTokenIssuer string `mapstructure:"SESSION_TOKEN_ISSUER"`
	// SessionTokenTTL is the session token lifetime (e.g. "12h").
	SessionTokenTTL string `mapstructure:"SESSION_TOKEN_TTL"`

	// HTTPRateLimitRPS and HTTPRateLimitBurst configure per-client-IP throttling of the HTTP API.
	HTTPRateLimitRPS   float64 `mapstructure:"HTTP_RATE_LIMIT_RPS"`
	HTTPRateLimitBurst int     `mapstructure:"HTTP_RATE_LIMIT_BURST"`
	// ClaimInitiateLimit is the number of claim initiations a client IP may make within
	// ClaimInitiateWindow, counted before the builder is looked up.
	ClaimInitiateLimit  int    `mapstructure:"CLAIM_INITIATE_LIMIT"`
	ClaimInitiateWindow string `mapstructure:"CLAIM_INITIATE_WINDOW"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables Kafka publishing.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// InvalidationKafkaTopic receives cache invalidation events.
	InvalidationKafkaTopic string `mapstructure:"INVALIDATION_KAFKA_TOPIC"`
	// AuditKafkaTopic receives audit entries for the log shipping worker.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// Worker-only: Loki URL the worker pushes audit entries to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty disables trace/metric/log export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS towards the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", StoreMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_ISSUE_LIMIT", 3)
	v.SetDefault("OTP_ISSUE_WINDOW", "15m")
	v.SetDefault("OTP_HASH_COST", 10)
	v.SetDefault("DELIVERY_TIMEOUT", "10s")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("INVALIDATION_RETENTION", "168h")
	v.SetDefault("AUDIT_RETRY_MAX_ELAPSED", "2s")
	v.SetDefault("CLAIM_POLICY_FILE", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("EMAIL_FROM_ADDRESS", "")
	v.SetDefault("EMAIL_FROM_NAME", "Builder Directory")
	v.SetDefault("SESSION_TOKEN_KEY", "")
	v.SetDefault("SESSION_TOKEN_PUBLIC_KEY", "")
	v.SetDefault("SESSION_TOKEN_ISSUER", "builder-claims")
	v.SetDefault("SESSION_TOKEN_TTL", "12h")
	v.SetDefault("HTTP_RATE_LIMIT_RPS", 10.0)
	v.SetDefault("HTTP_RATE_LIMIT_BURST", 20)
	v.SetDefault("CLAIM_INITIATE_LIMIT", 10)
	v.SetDefault("CLAIM_INITIATE_WINDOW", "15m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("INVALIDATION_KAFKA_TOPIC", "builder-cache-invalidations")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "builder-audit-log")
	v.SetDefault("KAFKA_GROUP_ID", "builder-audit-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	switch cfg.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when STORE_BACKEND=postgres")
		}
	default:
		return nil, errors.New("config: STORE_BACKEND must be memory or postgres")
	}

	if cfg.OTPReturnToClient && cfg.IsProduction() {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}

	if cfg.OTPMaxAttempts <= 0 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must be positive")
	}
	if cfg.OTPIssueLimit <= 0 {
		return nil, errors.New("config: OTP_ISSUE_LIMIT must be positive")
	}

	if cfg.OTPHashCost == 0 {
		cfg.OTPHashCost = 10
	}
	if cfg.OTPHashCost < 4 || cfg.OTPHashCost > 31 {
		return nil, errors.New("config: OTP_HASH_COST must be between 4 and 31")
	}

	if (cfg.SessionTokenKey == "") != (cfg.SessionTokenPublicKey == "") {
		return nil, errors.New("config: SESSION_TOKEN_KEY and SESSION_TOKEN_PUBLIC_KEY must be set together")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV names the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// ChallengeTTL parses OTPTTL. Returns 10m if unset or invalid.
func (c *Config) ChallengeTTL() time.Duration {
	return parseDuration(c.OTPTTL, 10*time.Minute)
}

// IssueWindow parses OTPIssueWindow. Returns 15m if unset or invalid.
func (c *Config) IssueWindow() time.Duration {
	return parseDuration(c.OTPIssueWindow, 15*time.Minute)
}

// InitiateRate converts ClaimInitiateLimit per ClaimInitiateWindow into a token bucket rate
// and burst. The window defaults to 15m and the limit to 10.
func (c *Config) InitiateRate() (rps float64, burst int) {
	burst = c.ClaimInitiateLimit
	if burst <= 0 {
		burst = 10
	}
	window := parseDuration(c.ClaimInitiateWindow, 15*time.Minute)
	return float64(burst) / window.Seconds(), burst
}

// DeliveryTimeoutDuration parses DeliveryTimeout. Returns 10s if unset or invalid.
func (c *Config) DeliveryTimeoutDuration() time.Duration {
	return parseDuration(c.DeliveryTimeout, 10*time.Second)
}

// SweepIntervalDuration parses SweepInterval. Returns 1m if unset or invalid.
func (c *Config) SweepIntervalDuration() time.Duration {
	return parseDuration(c.SweepInterval, time.Minute)
}

// InvalidationRetentionDuration parses InvalidationRetention. Returns 7 days if unset or invalid.
func (c *Config) InvalidationRetentionDuration() time.Duration {
	return parseDuration(c.InvalidationRetention, 7*24*time.Hour)
}

// AuditRetryMaxElapsedDuration parses AuditRetryMaxElapsed. Returns 2s if unset or invalid.
func (c *Config) AuditRetryMaxElapsedDuration() time.Duration {
	return parseDuration(c.AuditRetryMaxElapsed, 2*time.Second)
}

// SessionTTL parses SessionTokenTTL. Returns 12h if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.SessionTokenTTL, 12*time.Hour)
}

// SessionTokensEnabled reports whether both session token keys are configured.
func (c *Config) SessionTokensEnabled() bool {
	return c.SessionTokenKey != "" && c.SessionTokenPublicKey != ""
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty result means Kafka publishing is disabled.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
