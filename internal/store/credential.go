package store

import (
	"time"

	"github.com/lawble/courtsync/internal/database"
	"gorm.io/gorm"
)

// CredentialStore persists the per-case portal credentials.
type CredentialStore interface {
	GetByCaseID(caseID string) (*database.CaseCredential, error)
	Put(credential *database.CaseCredential) error
	SetSyncStatus(caseID, status, lastError string) error
	MarkSynced(caseID string, at time.Time) error
	// MigrateOwner re-points every credential owned by oldID to newID
	// in one conditional update and reports how many rows moved.
	MigrateOwner(oldID, newID uint) (int64, error)
	CountByIdentity(identityID uint) (int64, error)
}

type gormCredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) CredentialStore {
	return &gormCredentialStore{db: db}
}

func (s *gormCredentialStore) GetByCaseID(caseID string) (*database.CaseCredential, error) {
	var cred database.CaseCredential
	if err := s.db.Where("case_id = ?", caseID).First(&cred).Error; err != nil {
		return nil, wrapStorageErr("get credential", err)
	}
	return &cred, nil
}

func (s *gormCredentialStore) Put(credential *database.CaseCredential) error {
	return wrapStorageErr("put credential", s.db.Save(credential).Error)
}

func (s *gormCredentialStore) SetSyncStatus(caseID, status, lastError string) error {
	err := s.db.Model(&database.CaseCredential{}).
		Where("case_id = ?", caseID).
		Updates(map[string]interface{}{
			"sync_status": status,
			"last_error":  lastError,
		}).Error
	return wrapStorageErr("set sync status", err)
}

func (s *gormCredentialStore) MarkSynced(caseID string, at time.Time) error {
	err := s.db.Model(&database.CaseCredential{}).
		Where("case_id = ?", caseID).
		Updates(map[string]interface{}{
			"sync_status":  database.SyncDone,
			"last_error":   "",
			"last_sync_at": at,
		}).Error
	return wrapStorageErr("mark synced", err)
}

// MigrateOwner uses a single conditional UPDATE so a search racing the
// migration on the same case cannot be silently overwritten.
func (s *gormCredentialStore) MigrateOwner(oldID, newID uint) (int64, error) {
	result := s.db.Model(&database.CaseCredential{}).
		Where("identity_id = ?", oldID).
		Update("identity_id", newID)
	if result.Error != nil {
		return 0, wrapStorageErr("migrate credentials", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *gormCredentialStore) CountByIdentity(identityID uint) (int64, error) {
	var count int64
	err := s.db.Model(&database.CaseCredential{}).
		Where("identity_id = ?", identityID).
		Count(&count).Error
	if err != nil {
		return 0, wrapStorageErr("count credentials", err)
	}
	return count, nil
}
