package storage

import (
	"context"
	"time"

	"github.com/sdko-org/hooksink/internal/capture"
)

// Snapshot is what gets written before a session's history is wiped.
type Snapshot struct {
	SessionID  string           `json:"session_id"`
	DeletedBy  string           `json:"deleted_by"`
	ArchivedAt time.Time        `json:"archived_at"`
	Requests   []capture.Record `json:"requests"`
}

type Archiver interface {
	Archive(ctx context.Context, snap *Snapshot) (string, error)
}

// Noop is used when no archive bucket is configured.
type Noop struct{}

func (Noop) Archive(ctx context.Context, snap *Snapshot) (string, error) {
	return "", nil
}
