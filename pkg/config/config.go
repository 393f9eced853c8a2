package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/middleware"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database postgres.ConnectionConfig

	// Redis backs the shared cache and the distributed rate limiter. An
	// empty URL selects the in-process cache.
	Redis cache.RedisConfig

	// Stripe credentials
	Stripe billing.StripeConfig

	// App holds the public URLs used in emails and provider redirects.
	App AppConfig

	// RateLimit configuration
	RateLimit RateLimitConfig

	// Notifications configures outbound delivery.
	Notifications NotificationsConfig

	// Observability configuration
	Observability ObservabilityConfig

	// SaaSConfigFile is the YAML document holding roles, invitations,
	// cache and billing settings. Empty means the built-in defaults.
	SaaSConfigFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AppConfig holds the URLs of the web application in front of the API.
type AppConfig struct {
	URL string
}

// InvitationURL is the base URL invitation ids are appended to.
func (c AppConfig) InvitationURL() string { return c.URL + "/invitations" }

// BillingURL is where checkout and the billing portal return to.
func (c AppConfig) BillingURL() string { return c.URL + "/billing" }

// RateLimitConfig holds per-window request budgets.
type RateLimitConfig struct {
	Enabled   bool
	Anonymous middleware.RateLimitConfig
	User      middleware.RateLimitConfig
}

// NotificationsConfig configures the outbound notification webhook. An
// empty URL only logs notifications.
type NotificationsConfig struct {
	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel converts the settings for observability.InitOTel.
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:         loadServerConfig(),
		Database:       loadDatabaseConfig(),
		Redis:          loadRedisConfig(),
		Stripe:         loadStripeConfig(),
		App:            AppConfig{URL: strings.TrimRight(getEnv("ORGKIT_APP_URL", "http://localhost:3000"), "/")},
		RateLimit:      loadRateLimitConfig(),
		Notifications:  loadNotificationsConfig(),
		Observability:  loadObservabilityConfig(),
		SaaSConfigFile: getEnv("ORGKIT_CONFIG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ORGKIT_HOST", "0.0.0.0"),
		Port:            getEnv("ORGKIT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ORGKIT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ORGKIT_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ORGKIT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ORGKIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("ORGKIT_MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("ORGKIT_CORS_ORIGINS"),
		HealthPort:      getEnv("ORGKIT_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  getEnv("ORGKIT_POSTGRES_URL", ""),
		ReplicaURLs: getEnvList("ORGKIT_POSTGRES_REPLICA_URLS"),
		MaxConns:    getEnvInt("ORGKIT_POSTGRES_MAX_CONNS", 0),
		MinConns:    getEnvInt("ORGKIT_POSTGRES_MIN_CONNS", 0),
		Timeout:     getEnvDuration("ORGKIT_POSTGRES_TIMEOUT", 0),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() cache.RedisConfig {
	return cache.RedisConfig{
		URL:        getEnv("ORGKIT_REDIS_URL", ""),
		Password:   getEnv("ORGKIT_REDIS_PASSWORD", ""),
		DB:         getEnvInt("ORGKIT_REDIS_DB", 0),
		MaxRetries: getEnvInt("ORGKIT_REDIS_MAX_RETRIES", 0),
		PoolSize:   getEnvInt("ORGKIT_REDIS_POOL_SIZE", 0),
	}
}

// loadStripeConfig loads Stripe credentials from environment
func loadStripeConfig() billing.StripeConfig {
	return billing.StripeConfig{
		SecretKey:         getEnv("ORGKIT_STRIPE_SECRET_KEY", ""),
		WebhookSecret:     getEnv("ORGKIT_STRIPE_WEBHOOK_SECRET", ""),
		BackendURL:        getEnv("ORGKIT_STRIPE_BACKEND_URL", ""),
		MaxNetworkRetries: getEnvInt64("ORGKIT_STRIPE_MAX_RETRIES", 2),
	}
}

// loadRateLimitConfig loads rate limits from environment
func loadRateLimitConfig() RateLimitConfig {
	anonymous := middleware.DefaultRateLimitConfig()
	user := middleware.PerUserRateLimitConfig()

	anonymous.RequestsPerWindow = getEnvInt("ORGKIT_RATE_LIMIT_ANONYMOUS", anonymous.RequestsPerWindow)
	user.RequestsPerWindow = getEnvInt("ORGKIT_RATE_LIMIT_USER", user.RequestsPerWindow)
	window := getEnvDuration("ORGKIT_RATE_LIMIT_WINDOW", time.Minute)
	anonymous.WindowDuration = window
	user.WindowDuration = window

	return RateLimitConfig{
		Enabled:   getEnvBool("ORGKIT_RATE_LIMIT_ENABLED", true),
		Anonymous: anonymous,
		User:      user,
	}
}

// loadNotificationsConfig loads notification delivery settings
func loadNotificationsConfig() NotificationsConfig {
	return NotificationsConfig{
		WebhookURL:     getEnv("ORGKIT_NOTIFY_WEBHOOK_URL", ""),
		WebhookSecret:  getEnv("ORGKIT_NOTIFY_WEBHOOK_SECRET", ""),
		WebhookTimeout: getEnvDuration("ORGKIT_NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ORGKIT_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ORGKIT_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ORGKIT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ORGKIT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ORGKIT_OTEL_SERVICE_NAME", "orgkit"),
		OTelServiceVersion: getEnv("ORGKIT_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ORGKIT_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ORGKIT_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required when a secret key is set")
	}

	if c.App.URL == "" {
		return fmt.Errorf("app URL is required")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Anonymous.RequestsPerWindow <= 0 || c.RateLimit.User.RequestsPerWindow <= 0 {
			return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Anonymous.WindowDuration <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
