package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
)

// DBConfig holds database configuration
type DBConfig struct {
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string. DATABASE_URL wins when set.
func (c *DBConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Env             string
	ShutdownTimeout time.Duration
}

// JWTConfig holds JWT configuration for the admin API
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// ShopifyConfig holds the remote platform credentials and client tuning
type ShopifyConfig struct {
	APIKey      string
	APISecret   string
	APIVersion  string
	Scopes      string
	AppURL      string
	HTTPTimeout time.Duration
	PageSize    int
	PageDelay   time.Duration
	MaxRetries  int
}

// VaultConfig holds the token encryption key
type VaultConfig struct {
	EncryptionKey string
}

// SchedulerConfig holds the daily reconciliation cadence
type SchedulerConfig struct {
	Enabled     bool
	Hour        int
	Minute      int
	TenantPause time.Duration
}

// WorkerConfig holds the initial-sync queue settings
type WorkerConfig struct {
	Concurrency int
	QueueSize   int
	MaxAttempts int
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Shopify     ShopifyConfig
	Vault       VaultConfig
	Scheduler   SchedulerConfig
	Worker      WorkerConfig
}

// Load reads configuration from the environment (and .env when present) and validates it.
func Load(serviceName string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := &Config{
		ServiceName: serviceName,
		DB: DBConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "catalog_sync"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 50),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8000"),
			Env:             getEnv("APP_ENV", "development"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", ""),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "catalog_sync"),
		},
		Shopify: ShopifyConfig{
			APIKey:      getEnv("SHOPIFY_API_KEY", ""),
			APISecret:   getEnv("SHOPIFY_API_SECRET", ""),
			APIVersion:  getEnv("SHOPIFY_API_VERSION", "2024-01"),
			Scopes:      getEnv("SHOPIFY_SCOPES", "read_products"),
			AppURL:      strings.TrimRight(getEnv("APP_URL", "http://localhost:8000"), "/"),
			HTTPTimeout: getEnvAsDuration("SHOPIFY_HTTP_TIMEOUT", 30*time.Second),
			PageSize:    getEnvAsInt("SHOPIFY_PAGE_SIZE", 250),
			PageDelay:   getEnvAsDuration("SHOPIFY_PAGE_DELAY", 500*time.Millisecond),
			MaxRetries:  getEnvAsInt("SHOPIFY_MAX_RETRIES", 3),
		},
		Vault: VaultConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getEnvAsBool("ENABLE_SCHEDULER", true),
			Hour:        getEnvAsInt("RECONCILE_HOUR", 2),
			Minute:      getEnvAsInt("RECONCILE_MINUTE", 0),
			TenantPause: getEnvAsDuration("RECONCILE_TENANT_PAUSE", 5*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 2),
			QueueSize:   getEnvAsInt("WORKER_QUEUE_SIZE", 100),
			MaxAttempts: getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports every missing secret or out-of-range value at once.
// The returned error wraps apperr.ErrConfigurationFatal.
func (c *Config) Validate() error {
	var problems []error
	if c.Vault.EncryptionKey == "" {
		problems = append(problems, errors.New("ENCRYPTION_KEY is required"))
	}
	if c.Shopify.APIKey == "" {
		problems = append(problems, errors.New("SHOPIFY_API_KEY is required"))
	}
	if c.Shopify.APISecret == "" {
		problems = append(problems, errors.New("SHOPIFY_API_SECRET is required"))
	}
	if c.JWT.SigningKey == "" {
		problems = append(problems, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.Scheduler.Hour < 0 || c.Scheduler.Hour > 23 {
		problems = append(problems, fmt.Errorf("RECONCILE_HOUR must be 0-23, got %d", c.Scheduler.Hour))
	}
	if c.Scheduler.Minute < 0 || c.Scheduler.Minute > 59 {
		problems = append(problems, fmt.Errorf("RECONCILE_MINUTE must be 0-59, got %d", c.Scheduler.Minute))
	}
	if c.Shopify.PageSize <= 0 || c.Shopify.PageSize > 250 {
		problems = append(problems, fmt.Errorf("SHOPIFY_PAGE_SIZE must be 1-250, got %d", c.Shopify.PageSize))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", apperr.ErrConfigurationFatal, errors.Join(problems...))
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// LogFields returns the configuration as zap fields, secrets omitted
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
		zap.String("shopify_api_version", c.Shopify.APIVersion),
		zap.String("app_url", c.Shopify.AppURL),
		zap.Bool("scheduler_enabled", c.Scheduler.Enabled),
		zap.Int("reconcile_hour", c.Scheduler.Hour),
		zap.Int("reconcile_minute", c.Scheduler.Minute),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as booleans
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
