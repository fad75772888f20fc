// Package config provides configuration management for the portfolio aggregator.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Lock       LockConfig
	Sync       SyncConfig
	Snapshot   SnapshotConfig
	Currency   CurrencyConfig
	Dispatcher DispatcherConfig
	Providers  ProvidersConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds the worker status endpoint configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// LockConfig holds distributed lock defaults
type LockConfig struct {
	RetryInterval  time.Duration
	DefaultTimeout time.Duration
}

// SyncConfig holds per-integration sync configuration
type SyncConfig struct {
	LockTTL               time.Duration // TTL for the per-integration sync lock
	WaitMax               time.Duration // Max wait when another worker holds the lock
	BaseCurrency          string
	PriceThrottle         time.Duration // Min gap between price history points per symbol/provider
	PriceHistoryKeepHours int
	FetchTimeout          time.Duration // Request timeout for provider balance fetches
}

// SnapshotConfig holds portfolio snapshot configuration
type SnapshotConfig struct {
	LockTTL       time.Duration
	LockWait      time.Duration
	DedupWindow   time.Duration
	RetentionDays int
}

// CurrencyConfig holds exchange-rate service configuration
type CurrencyConfig struct {
	APIURL          string
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
}

// DispatcherConfig holds periodic fan-out configuration
type DispatcherConfig struct {
	Interval      time.Duration
	Concurrency   int
	PruneInterval time.Duration
}

// ProvidersConfig holds provider adapter defaults
type ProvidersConfig struct {
	EthereumRPCURL string // default endpoint; integrations can override per account
}

// SecurityConfig holds credential encryption configuration
type SecurityConfig struct {
	EncryptionKey string // base64-encoded 32-byte AES key
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("STATUS_HOST", "0.0.0.0"),
			Port: getEnv("STATUS_PORT", "8081"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Lock: LockConfig{
			RetryInterval:  getEnvAsDuration("DLOCK_RETRY_INTERVAL", 300*time.Millisecond),
			DefaultTimeout: getEnvAsDuration("DLOCK_DEFAULT_TIMEOUT", 10*time.Second),
		},
		Sync: SyncConfig{
			LockTTL:               getEnvAsDuration("SYNC_LOCK_TTL", 30*time.Second),
			WaitMax:               getEnvAsDuration("SYNC_WAIT_MAX", 20*time.Second),
			BaseCurrency:          getEnv("BASE_CURRENCY", "USD"),
			PriceThrottle:         getEnvAsDuration("PRICE_THROTTLE", 5*time.Minute),
			PriceHistoryKeepHours: getEnvAsInt("PRICE_HISTORY_KEEP_HOURS", 48),
			FetchTimeout:          getEnvAsDuration("SYNC_FETCH_TIMEOUT", 30*time.Second),
		},
		Snapshot: SnapshotConfig{
			LockTTL:       getEnvAsDuration("SNAPSHOT_LOCK_TTL", 30*time.Second),
			LockWait:      getEnvAsDuration("SNAPSHOT_LOCK_WAIT", 25*time.Second),
			DedupWindow:   getEnvAsDuration("SNAPSHOT_DEDUP_WINDOW", 45*time.Second),
			RetentionDays: getEnvAsInt("SNAPSHOT_RETENTION_DAYS", 365),
		},
		Currency: CurrencyConfig{
			APIURL:          getEnv("CURRENCY_API_URL", "https://open.er-api.com/v6/latest/USD"),
			RefreshInterval: getEnvAsDuration("CURRENCY_REFRESH_INTERVAL", time.Hour),
			RequestTimeout:  getEnvAsDuration("CURRENCY_REQUEST_TIMEOUT", 5*time.Second),
		},
		Dispatcher: DispatcherConfig{
			Interval:      getEnvAsDuration("DISPATCH_INTERVAL", time.Minute),
			Concurrency:   getEnvAsInt("DISPATCH_CONCURRENCY", 4),
			PruneInterval: getEnvAsDuration("PRUNE_INTERVAL", time.Hour),
		},
		Providers: ProvidersConfig{
			EthereumRPCURL: getEnv("ETH_RPC_URL", "https://eth.llamarpc.com"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if config.Dispatcher.Concurrency < 1 {
		config.Dispatcher.Concurrency = 1
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
