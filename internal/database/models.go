package database

import (
	"time"

	"gorm.io/gorm"
)

// SessionIdentity statuses
const (
	IdentityActive   = "active"
	IdentityExpiring = "expiring"
	IdentityExpired  = "expired"
	IdentityRevoked  = "revoked"
)

// CaseCredential sync statuses
const (
	SyncNever   = "never"
	SyncRunning = "syncing"
	SyncDone    = "synced"
	SyncFailed  = "failed"
)

// HearingRecord source flags
const (
	SourceSynced = "synced"
	SourceManual = "manual"
)

// SessionIdentity is one authenticated session against the court portal.
// The token is the primary session cookie; the secondary cookie is
// short-lived and re-derived per call.
type SessionIdentity struct {
	gorm.Model
	Token      string    `json:"-" gorm:"type:text"`
	Cookie     string    `json:"-" gorm:"type:text"`
	Principal  string    `json:"principal" gorm:"index"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"index"`
	Status     string    `json:"status" gorm:"index"`
	AutoRotate bool      `json:"auto_rotate"`
}

// Live reports whether the identity can still back detail fetches.
func (s *SessionIdentity) Live(now time.Time) bool {
	if s.Status != IdentityActive && s.Status != IdentityExpiring {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// CaseCredential binds a tracked case to the portal's opaque per-case
// credential and the session identity that owns it.
type CaseCredential struct {
	gorm.Model
	CaseID       string    `json:"case_id" gorm:"uniqueIndex"`
	Credential   string    `json:"-" gorm:"type:text"`
	IdentityID   uint      `json:"identity_id" gorm:"index"`
	CourtCode    string    `json:"court_code"`
	CaseTypeCode string    `json:"case_type_code"`
	CaseYear     string    `json:"case_year"`
	CaseSerial   string    `json:"case_serial"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	SyncStatus   string    `json:"sync_status"`
	LastError    string    `json:"last_error"`
}

// CaseSnapshot is the last-known canonical content for a case. Payload
// holds the normalized snapshot as JSON; ContentHash is computed over
// the normalized fields only.
type CaseSnapshot struct {
	gorm.Model
	CaseID      string    `json:"case_id" gorm:"uniqueIndex"`
	Payload     string    `json:"payload" gorm:"type:text"`
	ContentHash string    `json:"content_hash"`
	CapturedAt  time.Time `json:"captured_at"`
}

// HearingRecord is a locally persisted scheduled court event. Synced
// rows are keyed by (case id, date, time, type); the key fields are
// never mutated in place.
type HearingRecord struct {
	gorm.Model
	CaseID   string `json:"case_id" gorm:"index"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Result   string `json:"result"`
	Source   string `json:"source"`
}

// SyncLog records the outcome of one sync attempt for auditing.
type SyncLog struct {
	gorm.Model
	CaseID       string    `json:"case_id" gorm:"index"`
	Success      bool      `json:"success"`
	Changed      bool      `json:"changed"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Skipped      int       `json:"skipped"`
	ErrorMessage string    `json:"error_message"`
	DurationMs   int64     `json:"duration_ms"`
	SyncTime     time.Time `json:"sync_time"`
}

func (SessionIdentity) TableName() string {
	return "session_identities"
}

func (CaseCredential) TableName() string {
	return "case_credentials"
}

func (CaseSnapshot) TableName() string {
	return "case_snapshots"
}

func (HearingRecord) TableName() string {
	return "hearing_records"
}

func (SyncLog) TableName() string {
	return "sync_logs"
}
