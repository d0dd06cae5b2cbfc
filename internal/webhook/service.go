// Package webhook ties the capture pipeline together: it owns the order in
// which a captured request touches the session rows, the shared history, the
// live feed and the relay.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sdko-org/hooksink/internal/capture"
	"github.com/sdko-org/hooksink/internal/relay"
	"github.com/sdko-org/hooksink/internal/storage"
	"github.com/sdko-org/hooksink/internal/store"
	"github.com/sirupsen/logrus"
)

var ErrNoRedirectURL = errors.New("no redirect URL configured")

type Forwarder interface {
	Forward(ctx context.Context, targetURL string, rec *capture.Record) relay.Result
}

type Publisher interface {
	Publish(rec *capture.Record)
}

type Service struct {
	sessions store.SessionStore
	requests store.RequestLog
	relay    Forwarder
	feed     Publisher
	archive  storage.Archiver
	log      *logrus.Entry
	now      func() time.Time
}

// CaptureResult describes one stored request. Relay is nil when no redirect
// URL was configured for the session.
type CaptureResult struct {
	Record       capture.Record
	RequestCount int
	Relay        *relay.Result
}

// SessionView is an owner's row plus the shared history.
type SessionView struct {
	store.Session
	Requests []capture.Record
}

func NewService(logger *logrus.Logger, st *store.Store, fwd Forwarder, feed Publisher, archive storage.Archiver) *Service {
	if archive == nil {
		archive = storage.Noop{}
	}
	return &Service{
		sessions: st.Sessions,
		requests: st.Requests,
		relay:    fwd,
		feed:     feed,
		archive:  archive,
		log:      logger.WithField("component", "webhook_service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateSession(ctx context.Context, ownerID string) (string, error) {
	id, err := s.sessions.Create(ctx, ownerID, "")
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"session_id": id, "owner_id": ownerID}).Info("Session created")
	return id, nil
}

// Capture stores r in the history of sessionID on behalf of ownerID, who
// gets a row for the session if they had none. The relay target is read
// from the session's configuration row before that row can be created.
func (s *Service) Capture(ctx context.Context, sessionID, ownerID string, r *http.Request) (*CaptureResult, error) {
	shared, err := s.sessions.GetAny(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := s.sessions.Ensure(ctx, sessionID, ownerID); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	rec := capture.Normalize(r, sessionID, s.now())
	count, err := s.requests.Append(ctx, &rec)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"seq":           rec.Seq,
		"payload_type":  rec.Payload.Kind,
		"request_count": count,
	})
	if err := s.sessions.Touch(ctx, sessionID); err != nil {
		log.WithError(err).Warn("Failed to refresh session timestamps")
	}
	if s.feed != nil {
		s.feed.Publish(&rec)
	}
	log.Debug("Captured request")

	result := &CaptureResult{Record: rec, RequestCount: count}
	if shared != nil && shared.RedirectURL != "" && s.relay != nil {
		res := s.relay.Forward(ctx, shared.RedirectURL, &rec)
		result.Relay = &res
	}
	return result, nil
}

func (s *Service) ListSessions(ctx context.Context, ownerID string) ([]store.Session, error) {
	return s.sessions.List(ctx, ownerID)
}

func (s *Service) Session(ctx context.Context, sessionID, ownerID string) (*SessionView, error) {
	sess, err := s.sessions.Get(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, sess)
}

// Access adopts an existing session into ownerID's list. Unknown ids are
// ErrNotFound; nothing is created for them.
func (s *Service) Access(ctx context.Context, sessionID, ownerID string) (*SessionView, error) {
	if err := s.sessions.CopyToOwner(ctx, sessionID, ownerID); err != nil {
		return nil, err
	}
	return s.Session(ctx, sessionID, ownerID)
}

func (s *Service) Requests(ctx context.Context, sessionID, ownerID string) ([]capture.Record, error) {
	if _, err := s.sessions.Get(ctx, sessionID, ownerID); err != nil {
		return nil, err
	}
	return s.requests.List(ctx, sessionID)
}

func (s *Service) Rename(ctx context.Context, sessionID, ownerID, name string) error {
	return s.sessions.UpdateName(ctx, sessionID, ownerID, name)
}

func (s *Service) SetRedirectURL(ctx context.Context, sessionID, ownerID, redirectURL string) error {
	return s.sessions.UpdateRedirectURL(ctx, sessionID, ownerID, redirectURL)
}

// RedirectURL returns the owner's relay target for client-side forwarding.
func (s *Service) RedirectURL(ctx context.Context, sessionID, ownerID string) (string, error) {
	sess, err := s.sessions.Get(ctx, sessionID, ownerID)
	if err != nil {
		return "", err
	}
	if sess.RedirectURL == "" {
		return "", ErrNoRedirectURL
	}
	return sess.RedirectURL, nil
}

// Delete removes ownerID's row and wipes the shared history for every owner.
// A non-empty history is archived first; a failed archive is logged and does
// not block the delete.
func (s *Service) Delete(ctx context.Context, sessionID, ownerID string) error {
	if _, err := s.sessions.Get(ctx, sessionID, ownerID); err != nil {
		return err
	}
	log := s.log.WithFields(logrus.Fields{"session_id": sessionID, "owner_id": ownerID})

	records, err := s.requests.List(ctx, sessionID)
	if err != nil {
		log.WithError(err).Warn("Could not read history before delete")
	} else if len(records) > 0 {
		snap := &storage.Snapshot{
			SessionID:  sessionID,
			DeletedBy:  ownerID,
			ArchivedAt: s.now(),
			Requests:   records,
		}
		if _, err := s.archive.Archive(ctx, snap); err != nil {
			log.WithError(err).Warn("Archiving history failed")
		}
	}

	if err := s.sessions.Delete(ctx, sessionID, ownerID); err != nil {
		return err
	}
	log.Info("Session deleted")
	return nil
}

func (s *Service) view(ctx context.Context, sess *store.Session) (*SessionView, error) {
	records, err := s.requests.List(ctx, sess.SessionID)
	if err != nil {
		return nil, err
	}
	sess.RequestCount = len(records)
	return &SessionView{Session: *sess, Requests: records}, nil
}
