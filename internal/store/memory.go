package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sdko-org/hooksink/internal/capture"
)

type ownerKey struct {
	sessionID string
	ownerID   string
}

type memoryRow struct {
	Session
	ord uint64
}

type MemorySessions struct {
	mu       sync.RWMutex
	rows     map[ownerKey]*memoryRow
	nextOrd  uint64
	requests RequestLog
	now      func() time.Time
}

func NewMemorySessions(requests RequestLog) *MemorySessions {
	return &MemorySessions{
		rows:     make(map[ownerKey]*memoryRow),
		requests: requests,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemorySessions) Create(ctx context.Context, ownerID, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[ownerKey{sessionID, ownerID}]; ok {
		return sessionID, nil
	}
	now := s.now()
	s.insertLocked(Session{
		SessionID:     sessionID,
		OwnerID:       ownerID,
		Name:          DefaultName(sessionID),
		CreatedAt:     now,
		LastUpdatedAt: now,
	})
	return sessionID, nil
}

func (s *MemorySessions) Get(ctx context.Context, sessionID, ownerID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[ownerKey{sessionID, ownerID}]
	if !ok {
		return nil, ErrNotFound
	}
	sess := row.Session
	return &sess, nil
}

func (s *MemorySessions) GetAny(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.oldestLocked(sessionID)
	if row == nil {
		return nil, ErrNotFound
	}
	sess := row.Session
	return &sess, nil
}

func (s *MemorySessions) List(ctx context.Context, ownerID string) ([]Session, error) {
	s.mu.RLock()
	var owned []*memoryRow
	for key, row := range s.rows {
		if key.ownerID == ownerID {
			owned = append(owned, row)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ord < owned[j].ord })
	sessions := make([]Session, 0, len(owned))
	for _, row := range owned {
		sessions = append(sessions, row.Session)
	}
	s.mu.RUnlock()

	for i := range sessions {
		count, err := s.requests.Count(ctx, sessions[i].SessionID)
		if err != nil {
			return nil, err
		}
		sessions[i].RequestCount = count
	}
	return sessions, nil
}

func (s *MemorySessions) CopyToOwner(ctx context.Context, sessionID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[ownerKey{sessionID, ownerID}]; ok {
		return nil
	}
	return s.copyLocked(sessionID, ownerID)
}

func (s *MemorySessions) Ensure(ctx context.Context, sessionID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[ownerKey{sessionID, ownerID}]; ok {
		return nil
	}
	if err := s.copyLocked(sessionID, ownerID); !errors.Is(err, ErrNotFound) {
		return err
	}
	now := s.now()
	s.insertLocked(Session{
		SessionID:     sessionID,
		OwnerID:       ownerID,
		Name:          DefaultName(sessionID),
		CreatedAt:     now,
		LastUpdatedAt: now,
	})
	return nil
}

func (s *MemorySessions) UpdateName(ctx context.Context, sessionID, ownerID, name string) error {
	return s.update(sessionID, ownerID, func(sess *Session) { sess.Name = name })
}

func (s *MemorySessions) UpdateRedirectURL(ctx context.Context, sessionID, ownerID, redirectURL string) error {
	return s.update(sessionID, ownerID, func(sess *Session) { sess.RedirectURL = redirectURL })
}

func (s *MemorySessions) Delete(ctx context.Context, sessionID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerKey{sessionID, ownerID}
	if _, ok := s.rows[key]; !ok {
		return ErrNotFound
	}
	if err := s.requests.Purge(ctx, sessionID); err != nil {
		return err
	}
	delete(s.rows, key)
	return nil
}

func (s *MemorySessions) Touch(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, row := range s.rows {
		if key.sessionID == sessionID {
			row.LastUpdatedAt = now
		}
	}
	return nil
}

func (s *MemorySessions) update(sessionID, ownerID string, apply func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[ownerKey{sessionID, ownerID}]
	if !ok {
		return ErrNotFound
	}
	apply(&row.Session)
	row.LastUpdatedAt = s.now()
	return nil
}

func (s *MemorySessions) copyLocked(sessionID, ownerID string) error {
	src := s.oldestLocked(sessionID)
	if src == nil {
		return ErrNotFound
	}
	s.insertLocked(Session{
		SessionID:     sessionID,
		OwnerID:       ownerID,
		Name:          src.Name,
		CreatedAt:     src.CreatedAt,
		LastUpdatedAt: s.now(),
	})
	return nil
}

func (s *MemorySessions) insertLocked(sess Session) {
	s.nextOrd++
	s.rows[ownerKey{sess.SessionID, sess.OwnerID}] = &memoryRow{Session: sess, ord: s.nextOrd}
}

func (s *MemorySessions) oldestLocked(sessionID string) *memoryRow {
	var oldest *memoryRow
	for key, row := range s.rows {
		if key.sessionID != sessionID {
			continue
		}
		if oldest == nil || row.ord < oldest.ord {
			oldest = row
		}
	}
	return oldest
}

// MemoryRequestLog keeps histories in process memory. One mutex covers all
// sessions; every critical section is a slice operation.
type MemoryRequestLog struct {
	mu      sync.Mutex
	seq     uint64
	history map[string][]capture.Record
}

func NewMemoryRequestLog() *MemoryRequestLog {
	return &MemoryRequestLog{history: make(map[string][]capture.Record)}
}

func (l *MemoryRequestLog) Append(ctx context.Context, rec *capture.Record) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	rec.Seq = l.seq
	records := append(l.history[rec.SessionID], *rec)
	if over := len(records) - RetentionCap; over > 0 {
		records = append([]capture.Record(nil), records[over:]...)
	}
	l.history[rec.SessionID] = records
	return len(records), nil
}

func (l *MemoryRequestLog) List(ctx context.Context, sessionID string) ([]capture.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]capture.Record{}, l.history[sessionID]...), nil
}

func (l *MemoryRequestLog) Count(ctx context.Context, sessionID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history[sessionID]), nil
}

func (l *MemoryRequestLog) Purge(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, sessionID)
	return nil
}

func (l *MemoryRequestLog) SessionIDs(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.history))
	for id := range l.history {
		ids = append(ids, id)
	}
	return ids, nil
}
