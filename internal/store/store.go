// Package store holds session membership rows and the shared, capped
// request history of each session id.
//
// A session id may be owned by many anonymous identities. Each owner has its
// own row (name, redirect URL) but all of them see the same history. Deleting
// a session as any one owner wipes that history for every owner; the other
// owners keep their rows.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/hooksink/internal/capture"
)

// RetentionCap is the number of most recent records kept per session id.
const RetentionCap = 20

var ErrNotFound = errors.New("session not found")

type Session struct {
	SessionID     string
	OwnerID       string
	Name          string
	RedirectURL   string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	RequestCount  int
}

type SessionStore interface {
	// Create inserts a row for ownerID. An empty sessionID mints a new one.
	// If the owner already has the id nothing changes.
	Create(ctx context.Context, ownerID, sessionID string) (string, error)
	Get(ctx context.Context, sessionID, ownerID string) (*Session, error)
	// GetAny returns the oldest row for sessionID, whoever owns it.
	GetAny(ctx context.Context, sessionID string) (*Session, error)
	List(ctx context.Context, ownerID string) ([]Session, error)
	// CopyToOwner clones name and creation time of an existing row into a
	// new row for ownerID, with an empty redirect URL.
	CopyToOwner(ctx context.Context, sessionID, ownerID string) error
	// Ensure makes sure ownerID has a row, copying an existing one when the
	// id is known and creating a fresh one otherwise.
	Ensure(ctx context.Context, sessionID, ownerID string) error
	UpdateName(ctx context.Context, sessionID, ownerID, name string) error
	UpdateRedirectURL(ctx context.Context, sessionID, ownerID, redirectURL string) error
	// Delete removes the owner's row and the whole shared history of sessionID.
	Delete(ctx context.Context, sessionID, ownerID string) error
	// Touch bumps LastUpdatedAt on every row of sessionID.
	Touch(ctx context.Context, sessionID string) error
}

type RequestLog interface {
	// Append assigns rec.Seq, stores rec and trims the session's history to
	// RetentionCap. It returns the history length after trimming.
	Append(ctx context.Context, rec *capture.Record) (int, error)
	List(ctx context.Context, sessionID string) ([]capture.Record, error)
	Count(ctx context.Context, sessionID string) (int, error)
	Purge(ctx context.Context, sessionID string) error
}

// HistoryIndex is implemented by request logs that can enumerate the
// session ids they hold.
type HistoryIndex interface {
	SessionIDs(ctx context.Context) ([]string, error)
}

func NewSessionID() string {
	return uuid.NewString()
}

func DefaultName(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Session " + short
}
