package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sdko-org/hooksink/internal/config"
	"github.com/sdko-org/hooksink/internal/database"
	"github.com/sdko-org/hooksink/internal/handlers"
	httpserver "github.com/sdko-org/hooksink/internal/http"
	"github.com/sdko-org/hooksink/internal/identity"
	"github.com/sdko-org/hooksink/internal/janitor"
	"github.com/sdko-org/hooksink/internal/live"
	"github.com/sdko-org/hooksink/internal/relay"
	"github.com/sdko-org/hooksink/internal/storage"
	"github.com/sdko-org/hooksink/internal/store"
	"github.com/sdko-org/hooksink/internal/webhook"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := newLogger(cfg)
	log := logger.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *gorm.DB
	if cfg.UsesDatabase() {
		db, err = database.Open(logger, cfg)
		if err != nil {
			log.WithError(err).Fatal("Database initialization failed")
		}
	}

	st := store.New(logger, cfg, db)
	defer st.Close()

	var archive storage.Archiver = storage.Noop{}
	if cfg.ArchiveBucket != "" {
		s3Archive, err := storage.NewS3Archiver(logger, cfg)
		if err != nil {
			log.WithError(err).Fatal("Archive initialization failed")
		}
		archive = s3Archive
	}

	hub := live.NewHub(logger)
	svc := webhook.NewService(logger, st, relay.NewClient(logger, cfg.RelayTimeout), hub, archive)
	limiter := handlers.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	router := handlers.NewRouter(
		logger,
		db,
		handlers.NewHandler(logger, cfg, svc, hub),
		identity.NewCookieProvider(logger, cfg.SecretKey),
		limiter,
	)

	go limiter.Cleanup(ctx, 3*time.Minute)
	go janitor.New(logger, db, st, cfg.JanitorInterval, cfg.AccessLogRetention).Start(ctx)

	server, err := httpserver.New(logger, cfg, router)
	if err != nil {
		log.WithError(err).Fatal("Server setup failed")
	}
	if err := server.Start(); err != nil {
		log.WithError(err).Fatal("Server failed to start")
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-server.Errors():
		log.WithError(err).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown error")
	}
}
