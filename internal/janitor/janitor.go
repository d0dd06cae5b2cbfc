package janitor

import (
	"context"
	"errors"
	"time"

	"github.com/sdko-org/hooksink/internal/models"
	"github.com/sdko-org/hooksink/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Janitor struct {
	logger    *logrus.Logger
	db        *gorm.DB
	store     *store.Store
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

type Stats struct {
	AccessLogs int64
	Orphans    int
}

// New builds a janitor. db may be nil, in which case access logs are not
// swept.
func New(logger *logrus.Logger, db *gorm.DB, st *store.Store, interval, retention time.Duration) *Janitor {
	return &Janitor{
		logger:    logger,
		db:        db,
		store:     st,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logEntry := j.logger.WithField("component", "janitor")
	logEntry.WithField("interval", j.interval).Info("Starting janitor")

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-ctx.Done():
			logEntry.Info("Stopping janitor")
			return
		}
	}
}

func (j *Janitor) RunOnce(ctx context.Context) Stats {
	log := j.logger.WithFields(logrus.Fields{"component": "janitor", "operation": "sweep"})
	var stats Stats

	if j.db != nil && j.retention > 0 {
		result := j.db.WithContext(ctx).
			Where("timestamp < ?", j.now().Add(-j.retention)).
			Delete(&models.AccessLog{})
		if result.Error != nil {
			log.WithError(result.Error).Error("Access log purge failed")
		} else {
			stats.AccessLogs = result.RowsAffected
		}
	}

	stats.Orphans = j.purgeOrphans(ctx, log)

	if stats.AccessLogs > 0 || stats.Orphans > 0 {
		log.WithFields(logrus.Fields{
			"access_logs": stats.AccessLogs,
			"orphans":     stats.Orphans,
		}).Info("Janitor sweep finished")
	}
	return stats
}

// purgeOrphans drops histories whose session id no longer has any owner row.
func (j *Janitor) purgeOrphans(ctx context.Context, log *logrus.Entry) int {
	index, ok := j.store.Requests.(store.HistoryIndex)
	if !ok {
		return 0
	}
	ids, err := index.SessionIDs(ctx)
	if err != nil {
		log.WithError(err).Error("Listing histories failed")
		return 0
	}

	purged := 0
	for _, id := range ids {
		_, err := j.store.Sessions.GetAny(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithField("session_id", id).Error("Owner lookup failed")
			continue
		}
		if err := j.store.Requests.Purge(ctx, id); err != nil {
			log.WithError(err).WithField("session_id", id).Error("Failed to purge orphaned history")
			continue
		}
		purged++
	}
	return purged
}
