package store

import (
	"github.com/lawble/courtsync/internal/database"
	"gorm.io/gorm"
)

// HearingStore persists hearing records. Reconciliation looks rows up
// by the composite (case id, date, time, type) key; manually entered
// hearings live in the same table but are never touched by sync.
type HearingStore interface {
	FindByCompositeKey(caseID, date, timeOfDay, hearingType string) (*database.HearingRecord, error)
	Insert(record *database.HearingRecord) error
	Update(record *database.HearingRecord) error
	ListByCase(caseID string) ([]database.HearingRecord, error)
}

type gormHearingStore struct {
	db *gorm.DB
}

func NewHearingStore(db *gorm.DB) HearingStore {
	return &gormHearingStore{db: db}
}

func (s *gormHearingStore) FindByCompositeKey(caseID, date, timeOfDay, hearingType string) (*database.HearingRecord, error) {
	var record database.HearingRecord
	err := s.db.
		Where("case_id = ? AND date = ? AND time = ? AND type = ? AND source = ?",
			caseID, date, timeOfDay, hearingType, database.SourceSynced).
		First(&record).Error
	if err != nil {
		return nil, wrapStorageErr("find hearing", err)
	}
	return &record, nil
}

func (s *gormHearingStore) Insert(record *database.HearingRecord) error {
	return wrapStorageErr("insert hearing", s.db.Create(record).Error)
}

func (s *gormHearingStore) Update(record *database.HearingRecord) error {
	// Only the non-key fields are writable; the composite key of an
	// existing row is never mutated.
	err := s.db.Model(&database.HearingRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"location": record.Location,
			"result":   record.Result,
		}).Error
	return wrapStorageErr("update hearing", err)
}

func (s *gormHearingStore) ListByCase(caseID string) ([]database.HearingRecord, error) {
	var records []database.HearingRecord
	err := s.db.
		Where("case_id = ?", caseID).
		Order("date ASC, time ASC").
		Find(&records).Error
	if err != nil {
		return nil, wrapStorageErr("list hearings", err)
	}
	return records, nil
}
