package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sdko-org/hooksink/internal/config"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Store is the handle injected into request handling.
type Store struct {
	Sessions SessionStore
	Requests RequestLog

	redis *redis.Client
}

// New picks backends from cfg: sessions live in db when one is given,
// histories in Redis when REDIS_HOST is set, then db, then memory.
func New(logger *logrus.Logger, cfg *config.Config, db *gorm.DB) *Store {
	log := logger.WithField("component", "store")
	locks := NewKeyLock()
	s := &Store{}

	if cfg.UsesRedis() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := NewRedisClient(ctx, cfg.RedisHost, cfg.RedisPort, cfg.RedisUser, cfg.RedisPassword)
		cancel()
		if err != nil {
			log.WithError(err).Warn("Redis connection failed, falling back")
		} else {
			log.WithField("addr", cfg.RedisHost+":"+cfg.RedisPort).Info("Using Redis request log")
			s.redis = client
			s.Requests = NewRedisRequestLog(client)
		}
	}

	if s.Requests == nil {
		if db != nil {
			log.Info("Using database request log")
			s.Requests = NewGormRequestLog(db, locks)
		} else {
			log.Info("Using in-memory request log")
			s.Requests = NewMemoryRequestLog()
		}
	}

	if db != nil {
		log.Info("Using database session store")
		s.Sessions = NewGormSessions(db, locks, s.Requests)
	} else {
		log.Info("Using in-memory session store")
		s.Sessions = NewMemorySessions(s.Requests)
	}
	return s
}

// NewMemory wires the in-memory backends together.
func NewMemory() *Store {
	requests := NewMemoryRequestLog()
	return &Store{Sessions: NewMemorySessions(requests), Requests: requests}
}

func (s *Store) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
