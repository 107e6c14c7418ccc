package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	// Application
	App AppConfig

	// Database (sync journal and completion outcomes)
	Database DatabaseConfig

	// Redis (progress snapshot cache)
	Redis RedisConfig

	// LMS backend of record
	LMS LMSConfig

	// Tracking engine
	Tracking TrackingConfig

	// HTTP API
	HTTP HTTPConfig

	// Feature Flags
	Features *FeatureFlags

	// Observability
	Observability ObservabilityConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool
	Version     string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL takes precedence over the individual components when set.
	URL string

	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration

	// RunMigrations applies pending migrations at startup.
	RunMigrations bool
}

// RedisConfig holds Redis cache settings.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// LMSConfig holds settings for the LMS backend of record.
type LMSConfig struct {
	BaseURL  string
	APIToken string

	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// TrackingConfig holds the tracking engine cadence and defaults.
type TrackingConfig struct {
	// TickInterval is the estimation cadence per session.
	TickInterval time.Duration

	// SaveInterval is the auto-save cadence per session.
	SaveInterval time.Duration

	// DefaultThreshold is the completion threshold (percent) applied when
	// an open request does not carry one.
	DefaultThreshold float64

	// JournalRetention is how long journal entries are kept. Older rows
	// are purged at startup. Zero disables purging.
	JournalRetention time.Duration

	// SaveFailureEscalateAfter is how many consecutive failed backend
	// saves for one session raise the log severity to error.
	SaveFailureEscalateAfter int

	// EventWorkers bounds concurrent event handler executions.
	EventWorkers int
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	EnableCORS     bool
	AllowedOrigins []string

	RateLimitPerSecond float64
	RateLimitBurst     int

	// APIKeyHashes are bcrypt hashes of accepted API keys. Empty disables
	// API-key authentication.
	APIKeyHashes []string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	MetricsEnabled bool
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING
// ══════════════════════════════════════════════════════════════════════════════

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App:           loadAppConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		LMS:           loadLMSConfig(),
		Tracking:      loadTrackingConfig(),
		HTTP:          loadHTTPConfig(),
		Observability: loadObservabilityConfig(),
	}

	cfg.Features = LoadFeatureFlags()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	return AppConfig{
		Name:            getEnv("APP_NAME", "progress-engine"),
		Environment:     Environment(getEnv("APP_ENV", "development")),
		Debug:           getEnvBool("APP_DEBUG", false),
		Version:         getEnv("APP_VERSION", "dev"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("DATABASE_URL", ""),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		Name:            getEnv("DB_NAME", "progress_engine"),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		SSLMode:         getEnv("DB_SSL_MODE", "disable"),
		MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 10)),
		MinConns:        int32(getEnvInt("DB_MIN_CONNS", 2)),
		MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
		ConnectTimeout:  getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		RunMigrations:   getEnvBool("DB_RUN_MIGRATIONS", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  getEnvBool("REDIS_ENABLED", false),
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnvInt("REDIS_PORT", 6379),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
		PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
	}
}

func loadLMSConfig() LMSConfig {
	return LMSConfig{
		BaseURL:           getEnv("LMS_API_URL", ""),
		APIToken:          getEnv("LMS_API_TOKEN", ""),
		Timeout:           getEnvDuration("LMS_TIMEOUT", 8*time.Second),
		RequestsPerSecond: getEnvFloat("LMS_RATE_LIMIT", 50),
		Burst:             getEnvInt("LMS_RATE_BURST", 25),
	}
}

func loadTrackingConfig() TrackingConfig {
	return TrackingConfig{
		TickInterval:             getEnvDuration("TRACKING_TICK_INTERVAL", time.Second),
		SaveInterval:             getEnvDuration("TRACKING_SAVE_INTERVAL", 10*time.Second),
		DefaultThreshold:         getEnvFloat("TRACKING_DEFAULT_THRESHOLD", 80),
		JournalRetention:         getEnvDuration("TRACKING_JOURNAL_RETENTION", 30*24*time.Hour),
		SaveFailureEscalateAfter: getEnvInt("TRACKING_SAVE_FAILURE_ESCALATE_AFTER", 3),
		EventWorkers:             getEnvInt("TRACKING_EVENT_WORKERS", 8),
	}
}

func loadHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Host:               getEnv("HTTP_HOST", "0.0.0.0"),
		Port:               getEnvInt("HTTP_PORT", 8080),
		ReadTimeout:        getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout:    getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		EnableCORS:         getEnvBool("HTTP_ENABLE_CORS", true),
		AllowedOrigins:     getEnvSlice("HTTP_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerSecond: getEnvFloat("HTTP_RATE_LIMIT", 20),
		RateLimitBurst:     getEnvInt("HTTP_RATE_BURST", 40),
		APIKeyHashes:       getEnvSlice("HTTP_API_KEY_HASHES", nil),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("invalid APP_ENV %q", c.App.Environment)
	}

	if c.LMS.BaseURL == "" {
		return fmt.Errorf("LMS_API_URL is required")
	}
	if c.App.Environment == EnvProduction && c.LMS.APIToken == "" {
		return fmt.Errorf("LMS_API_TOKEN is required in production")
	}

	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("either DATABASE_URL or DB_HOST must be set")
	}

	if c.Tracking.TickInterval <= 0 {
		return fmt.Errorf("TRACKING_TICK_INTERVAL must be positive")
	}
	if c.Tracking.SaveInterval < c.Tracking.TickInterval {
		return fmt.Errorf("TRACKING_SAVE_INTERVAL must be at least the tick interval")
	}
	if c.Tracking.DefaultThreshold < 0 || c.Tracking.DefaultThreshold > 100 {
		return fmt.Errorf("TRACKING_DEFAULT_THRESHOLD must be within [0, 100]")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTP.Port)
	}

	return nil
}

// DatabaseURL returns the connection string, building one from the DB_*
// components when DATABASE_URL is not set.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password,
		c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.SSLMode,
	)
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// ══════════════════════════════════════════════════════════════════════════════
// ENV HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
