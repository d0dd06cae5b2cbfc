package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sdko-org/hooksink/internal/config"
	"github.com/sdko-org/hooksink/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	maxRetries        = 5
	initialRetryDelay = 2 * time.Second
)

type PostgresConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	DBName   string
	SSLMode  string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func PostgresConfigFrom(cfg *config.Config) PostgresConfig {
	return PostgresConfig{
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		DBName:   cfg.PostgresDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	}
}

// Open connects to the database selected by cfg and migrates the schema.
func Open(logger *logrus.Logger, cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		pg := PostgresConfigFrom(cfg)
		log := logger.WithFields(logrus.Fields{
			"component": "database",
			"driver":    config.DriverPostgres,
			"host":      pg.Host,
			"database":  pg.DBName,
		})
		db, err := openWithRetry(log, postgres.Open(pg.DSN()), initialRetryDelay)
		if err != nil {
			return nil, err
		}
		if err := migrate(log, db); err != nil {
			return nil, err
		}
		return db, nil
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		return OpenSQLite(logger, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("database driver %q has no gorm dialector", cfg.DatabaseDriver)
	}
}

// OpenSQLite opens a sqlite database at path (":memory:" is accepted).
// A single connection is used so that writers never contend for the file lock.
func OpenSQLite(logger *logrus.Logger, path string) (*gorm.DB, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "database",
		"driver":    config.DriverSQLite,
		"path":      path,
	})
	db, err := openWithRetry(log, sqlite.Open(path), 0)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := migrate(log, db); err != nil {
		return nil, err
	}
	return db, nil
}

func openWithRetry(log *logrus.Entry, dialector gorm.Dialector, retryDelay time.Duration) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = gorm.Open(dialector, gormCfg)
		if err == nil {
			break
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Database connection failed")

		if attempt < maxRetries && retryDelay > 0 {
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
	}

	if err != nil {
		log.WithError(err).Error("Failed to connect to database after retries")
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	log.Info("Database connection established")
	return db, nil
}

func migrate(log *logrus.Entry, db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.WithError(err).Error("Database migration failed")
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}
