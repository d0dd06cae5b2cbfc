package models

import (
	"time"
)

type AccessLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Method    string    `gorm:"type:varchar(10);not null"`
	Path      string    `gorm:"type:text;not null"`
	Status    int       `gorm:"not null;index"`
	Duration  time.Duration
	ClientIP  string `gorm:"type:varchar(45);not null"`
	UserAgent string `gorm:"type:text"`
	BytesSent int    `gorm:"not null;default:0"`
}

// SessionOwner is one (session, owner) membership row.
type SessionOwner struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	SessionID     string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_session_owner,priority:1;index"`
	OwnerID       string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_session_owner,priority:2;index"`
	Name          string    `gorm:"type:varchar(255);not null"`
	RedirectURL   string    `gorm:"type:text;not null;default:''"`
	CreatedAt     time.Time `gorm:"not null"`
	LastUpdatedAt time.Time `gorm:"not null"`
}

// CapturedRequest is one entry of a session's shared history. Seq is
// assigned by the database and orders the history.
type CapturedRequest struct {
	Seq         uint64              `gorm:"primaryKey;autoIncrement"`
	SessionID   string              `gorm:"type:varchar(64);not null;index"`
	Method      string              `gorm:"type:varchar(16);not null"`
	Headers     map[string][]string `gorm:"serializer:json;type:text"`
	QueryParams map[string][]string `gorm:"serializer:json;type:text"`
	Path        string              `gorm:"type:text"`
	URL         string              `gorm:"type:text"`
	RemoteAddr  string              `gorm:"type:varchar(64)"`
	UserAgent   string              `gorm:"type:text"`
	PayloadType string              `gorm:"type:varchar(16);not null"`
	Payload     string              `gorm:"type:text"`
	Timestamp   time.Time           `gorm:"not null"`
}

func (SessionOwner) TableName() string {
	return "session_owners"
}

func (CapturedRequest) TableName() string {
	return "captured_requests"
}

func (AccessLog) TableName() string {
	return "access_logs"
}

func All() []interface{} {
	return []interface{}{&AccessLog{}, &SessionOwner{}, &CapturedRequest{}}
}
