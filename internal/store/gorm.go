package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/hooksink/internal/capture"
	"github.com/sdko-org/hooksink/internal/models"
	"gorm.io/gorm"
)

// sessionTx runs fn in a transaction that is exclusive for sessionID, both
// inside this process (locks) and, on postgres, across processes.
func sessionTx(ctx context.Context, db *gorm.DB, locks *KeyLock, sessionID string, fn func(tx *gorm.DB) error) error {
	unlock := locks.Lock(sessionID)
	defer unlock()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", sessionID).Error; err != nil {
				return fmt.Errorf("advisory lock: %w", err)
			}
		}
		return fn(tx)
	})
}

type GormSessions struct {
	db       *gorm.DB
	locks    *KeyLock
	requests RequestLog
	now      func() time.Time
}

func NewGormSessions(db *gorm.DB, locks *KeyLock, requests RequestLog) *GormSessions {
	return &GormSessions{
		db:       db,
		locks:    locks,
		requests: requests,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *GormSessions) Create(ctx context.Context, ownerID, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	err := sessionTx(ctx, s.db, s.locks, sessionID, func(tx *gorm.DB) error {
		if _, err := findOwner(tx, sessionID, ownerID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		now := s.now()
		return tx.Create(&models.SessionOwner{
			SessionID:     sessionID,
			OwnerID:       ownerID,
			Name:          DefaultName(sessionID),
			CreatedAt:     now,
			LastUpdatedAt: now,
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

func (s *GormSessions) Get(ctx context.Context, sessionID, ownerID string) (*Session, error) {
	row, err := findOwner(s.db.WithContext(ctx), sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	return rowToSession(row), nil
}

func (s *GormSessions) GetAny(ctx context.Context, sessionID string) (*Session, error) {
	row, err := findOldest(s.db.WithContext(ctx), sessionID)
	if err != nil {
		return nil, err
	}
	return rowToSession(row), nil
}

func (s *GormSessions) List(ctx context.Context, ownerID string) ([]Session, error) {
	var rows []models.SessionOwner
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]Session, 0, len(rows))
	for i := range rows {
		sess := rowToSession(&rows[i])
		count, err := s.requests.Count(ctx, sess.SessionID)
		if err != nil {
			return nil, err
		}
		sess.RequestCount = count
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

func (s *GormSessions) CopyToOwner(ctx context.Context, sessionID, ownerID string) error {
	return sessionTx(ctx, s.db, s.locks, sessionID, func(tx *gorm.DB) error {
		if _, err := findOwner(tx, sessionID, ownerID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return s.copyTx(tx, sessionID, ownerID)
	})
}

func (s *GormSessions) Ensure(ctx context.Context, sessionID, ownerID string) error {
	return sessionTx(ctx, s.db, s.locks, sessionID, func(tx *gorm.DB) error {
		if _, err := findOwner(tx, sessionID, ownerID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		err := s.copyTx(tx, sessionID, ownerID)
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		now := s.now()
		return tx.Create(&models.SessionOwner{
			SessionID:     sessionID,
			OwnerID:       ownerID,
			Name:          DefaultName(sessionID),
			CreatedAt:     now,
			LastUpdatedAt: now,
		}).Error
	})
}

func (s *GormSessions) UpdateName(ctx context.Context, sessionID, ownerID, name string) error {
	return s.update(ctx, sessionID, ownerID, map[string]interface{}{"name": name})
}

func (s *GormSessions) UpdateRedirectURL(ctx context.Context, sessionID, ownerID, redirectURL string) error {
	return s.update(ctx, sessionID, ownerID, map[string]interface{}{"redirect_url": redirectURL})
}

// Delete holds the in-process session lock but no transaction: the history
// may live in another backend, and the purge runs before the row goes away.
func (s *GormSessions) Delete(ctx context.Context, sessionID, ownerID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if _, err := findOwner(s.db.WithContext(ctx), sessionID, ownerID); err != nil {
		return err
	}
	if err := s.requests.Purge(ctx, sessionID); err != nil {
		return fmt.Errorf("purge history: %w", err)
	}
	result := s.db.WithContext(ctx).
		Where("session_id = ? AND owner_id = ?", sessionID, ownerID).
		Delete(&models.SessionOwner{})
	if result.Error != nil {
		return fmt.Errorf("delete session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormSessions) Touch(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).Model(&models.SessionOwner{}).
		Where("session_id = ?", sessionID).
		Update("last_updated_at", s.now()).Error
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *GormSessions) update(ctx context.Context, sessionID, ownerID string, fields map[string]interface{}) error {
	fields["last_updated_at"] = s.now()
	result := s.db.WithContext(ctx).Model(&models.SessionOwner{}).
		Where("session_id = ? AND owner_id = ?", sessionID, ownerID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormSessions) copyTx(tx *gorm.DB, sessionID, ownerID string) error {
	src, err := findOldest(tx, sessionID)
	if err != nil {
		return err
	}
	return tx.Create(&models.SessionOwner{
		SessionID:     sessionID,
		OwnerID:       ownerID,
		Name:          src.Name,
		CreatedAt:     src.CreatedAt,
		LastUpdatedAt: s.now(),
	}).Error
}

func findOwner(db *gorm.DB, sessionID, ownerID string) (*models.SessionOwner, error) {
	var row models.SessionOwner
	err := db.Where("session_id = ? AND owner_id = ?", sessionID, ownerID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &row, nil
}

func findOldest(db *gorm.DB, sessionID string) (*models.SessionOwner, error) {
	var row models.SessionOwner
	err := db.Where("session_id = ?", sessionID).Order("id ASC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &row, nil
}

func rowToSession(row *models.SessionOwner) *Session {
	return &Session{
		SessionID:     row.SessionID,
		OwnerID:       row.OwnerID,
		Name:          row.Name,
		RedirectURL:   row.RedirectURL,
		CreatedAt:     row.CreatedAt,
		LastUpdatedAt: row.LastUpdatedAt,
	}
}

type GormRequestLog struct {
	db    *gorm.DB
	locks *KeyLock
}

func NewGormRequestLog(db *gorm.DB, locks *KeyLock) *GormRequestLog {
	return &GormRequestLog{db: db, locks: locks}
}

func (l *GormRequestLog) Append(ctx context.Context, rec *capture.Record) (int, error) {
	row, err := recordToRow(rec)
	if err != nil {
		return 0, err
	}

	var count int64
	err = sessionTx(ctx, l.db, l.locks, rec.SessionID, func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}

		var cutoff []uint64
		if err := tx.Model(&models.CapturedRequest{}).
			Where("session_id = ?", rec.SessionID).
			Order("seq DESC").
			Offset(RetentionCap).
			Limit(1).
			Pluck("seq", &cutoff).Error; err != nil {
			return err
		}
		if len(cutoff) > 0 {
			if err := tx.Where("session_id = ? AND seq <= ?", rec.SessionID, cutoff[0]).
				Delete(&models.CapturedRequest{}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.CapturedRequest{}).Where("session_id = ?", rec.SessionID).Count(&count).Error
	})
	if err != nil {
		return 0, fmt.Errorf("append request: %w", err)
	}
	rec.Seq = row.Seq
	return int(count), nil
}

func (l *GormRequestLog) List(ctx context.Context, sessionID string) ([]capture.Record, error) {
	var rows []models.CapturedRequest
	if err := l.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	records := make([]capture.Record, 0, len(rows))
	for i := range rows {
		rec, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *GormRequestLog) Count(ctx context.Context, sessionID string) (int, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&models.CapturedRequest{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return int(count), nil
}

func (l *GormRequestLog) Purge(ctx context.Context, sessionID string) error {
	if err := l.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.CapturedRequest{}).Error; err != nil {
		return fmt.Errorf("purge requests: %w", err)
	}
	return nil
}

// SessionIDs lists every session id that currently has a history.
func (l *GormRequestLog) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := l.db.WithContext(ctx).Model(&models.CapturedRequest{}).Distinct().Pluck("session_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list history ids: %w", err)
	}
	return ids, nil
}

func recordToRow(rec *capture.Record) (*models.CapturedRequest, error) {
	payload, err := rec.Payload.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return &models.CapturedRequest{
		SessionID:   rec.SessionID,
		Method:      rec.Method,
		Headers:     rec.Headers,
		QueryParams: rec.QueryParams,
		Path:        rec.Path,
		URL:         rec.URL,
		RemoteAddr:  rec.RemoteAddr,
		UserAgent:   rec.UserAgent,
		PayloadType: string(rec.Payload.Kind),
		Payload:     string(payload),
		Timestamp:   rec.Timestamp.UTC(),
	}, nil
}

func rowToRecord(row *models.CapturedRequest) (capture.Record, error) {
	payload, err := capture.DecodePayload(capture.PayloadKind(row.PayloadType), []byte(row.Payload))
	if err != nil {
		return capture.Record{}, fmt.Errorf("request %d: %w", row.Seq, err)
	}
	return capture.Record{
		Seq:         row.Seq,
		SessionID:   row.SessionID,
		Method:      row.Method,
		Headers:     row.Headers,
		QueryParams: row.QueryParams,
		Path:        row.Path,
		URL:         row.URL,
		RemoteAddr:  row.RemoteAddr,
		UserAgent:   row.UserAgent,
		Payload:     payload,
		Timestamp:   row.Timestamp,
	}, nil
}
