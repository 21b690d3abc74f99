package store

import (
	"github.com/lawble/courtsync/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotStore keeps the latest canonical snapshot per case. Only one
// row is retained per case; history is the caller's problem.
type SnapshotStore interface {
	Get(caseID string) (*database.CaseSnapshot, error)
	Save(snapshot *database.CaseSnapshot) error
}

type gormSnapshotStore struct {
	db *gorm.DB
}

func NewSnapshotStore(db *gorm.DB) SnapshotStore {
	return &gormSnapshotStore{db: db}
}

func (s *gormSnapshotStore) Get(caseID string) (*database.CaseSnapshot, error) {
	var snap database.CaseSnapshot
	if err := s.db.Where("case_id = ?", caseID).First(&snap).Error; err != nil {
		return nil, wrapStorageErr("get snapshot", err)
	}
	return &snap, nil
}

func (s *gormSnapshotStore) Save(snapshot *database.CaseSnapshot) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "case_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payload", "content_hash", "captured_at", "updated_at",
		}),
	}).Create(snapshot).Error
	return wrapStorageErr("save snapshot", err)
}
