package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env           string
	ListenAddr    string
	TLSAddr       string
	PublicBaseURL string
	SecretKey     string

	DatabaseDriver   string
	SQLitePath       string
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	RedisHost     string
	RedisPort     string
	RedisUser     string
	RedisPassword string

	RelayTimeout    time.Duration
	RateLimit       int
	RateLimitWindow time.Duration

	ArchiveBucket string
	S3Region      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string

	AccessLogRetention time.Duration
	JanitorInterval    time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file, then builds the Config from the environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                getEnv("APP_ENV", "development"),
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		TLSAddr:            getEnv("TLS_ADDR", ""),
		PublicBaseURL:      strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", ""), "/"),
		SecretKey:          getEnv("SECRET_KEY", "hooksink-dev-secret-change-me"),
		DatabaseDriver:     strings.ToLower(getEnv("DATABASE_DRIVER", DriverMemory)),
		SQLitePath:         getEnv("SQLITE_PATH", "data/hooksink.db"),
		PostgresUser:       getEnv("POSTGRES_USER", "hooksink"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase:   getEnv("POSTGRES_DATABASE", "hooksink"),
		PostgresSSLMode:    getEnv("POSTGRES_SSL_MODE", "disable"),
		RedisHost:          getEnv("REDIS_HOST", ""),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisUser:          getEnv("REDIS_USERNAME", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RelayTimeout:       getEnvDuration("RELAY_TIMEOUT", 10*time.Second),
		RateLimit:          getEnvInt("RATE_LIMIT", 120),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		ArchiveBucket:      getEnv("ARCHIVE_S3_BUCKET", ""),
		S3Region:           getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3AccessKey:        getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:        getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AccessLogRetention: getEnvDuration("ACCESS_LOG_RETENTION", 7*24*time.Hour),
		JanitorInterval:    getEnvDuration("JANITOR_INTERVAL", 30*time.Minute),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.PostgresHost == "" {
			return errors.New("config: POSTGRES_HOST must be set when DATABASE_DRIVER=postgres")
		}
	default:
		return errors.New("config: DATABASE_DRIVER must be one of memory, sqlite, postgres")
	}
	if c.ListenAddr == "" {
		return errors.New("config: LISTEN_ADDR must be set")
	}
	if c.Env == "production" && len(c.SecretKey) < 16 {
		return errors.New("config: SECRET_KEY must be at least 16 bytes when APP_ENV=production")
	}
	if c.RelayTimeout <= 0 {
		return errors.New("config: RELAY_TIMEOUT must be positive")
	}
	if c.JanitorInterval <= 0 {
		return errors.New("config: JANITOR_INTERVAL must be positive")
	}
	if c.ArchiveBucket != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return errors.New("config: AWS credentials must be provided when ARCHIVE_S3_BUCKET is set")
	}
	return nil
}

func (c *Config) UsesDatabase() bool {
	return c.DatabaseDriver == DriverSQLite || c.DatabaseDriver == DriverPostgres
}

func (c *Config) UsesRedis() bool {
	return c.RedisHost != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
