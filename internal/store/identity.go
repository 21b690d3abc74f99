package store

import (
	"time"

	"github.com/lawble/courtsync/internal/database"
	"gorm.io/gorm"
)

// IdentityStore persists session identities. Expired identities are
// retained for audit, never deleted.
type IdentityStore interface {
	Get(id uint) (*database.SessionIdentity, error)
	Put(identity *database.SessionIdentity) error
	// ActiveForPrincipal returns the single identity eligible for new
	// searches for the given principal.
	ActiveForPrincipal(principal string) (*database.SessionIdentity, error)
	// ListExpiring returns auto-rotating identities whose expiry falls
	// within the window and which are still usable.
	ListExpiring(within time.Duration) ([]database.SessionIdentity, error)
	SetStatus(id uint, status string) error
}

type gormIdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) IdentityStore {
	return &gormIdentityStore{db: db}
}

func (s *gormIdentityStore) Get(id uint) (*database.SessionIdentity, error) {
	var identity database.SessionIdentity
	if err := s.db.First(&identity, id).Error; err != nil {
		return nil, wrapStorageErr("get identity", err)
	}
	return &identity, nil
}

func (s *gormIdentityStore) Put(identity *database.SessionIdentity) error {
	return wrapStorageErr("put identity", s.db.Save(identity).Error)
}

func (s *gormIdentityStore) ActiveForPrincipal(principal string) (*database.SessionIdentity, error) {
	var identity database.SessionIdentity
	err := s.db.
		Where("principal = ? AND status = ?", principal, database.IdentityActive).
		Order("expires_at DESC").
		First(&identity).Error
	if err != nil {
		return nil, wrapStorageErr("active identity for principal", err)
	}
	return &identity, nil
}

func (s *gormIdentityStore) ListExpiring(within time.Duration) ([]database.SessionIdentity, error) {
	var identities []database.SessionIdentity
	cutoff := time.Now().Add(within)
	err := s.db.
		Where("status IN ? AND auto_rotate = ? AND expires_at <= ?",
			[]string{database.IdentityActive, database.IdentityExpiring}, true, cutoff).
		Order("expires_at ASC").
		Find(&identities).Error
	if err != nil {
		return nil, wrapStorageErr("list expiring identities", err)
	}
	return identities, nil
}

func (s *gormIdentityStore) SetStatus(id uint, status string) error {
	err := s.db.Model(&database.SessionIdentity{}).
		Where("id = ?", id).
		Update("status", status).Error
	return wrapStorageErr("set identity status", err)
}
