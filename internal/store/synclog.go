package store

import (
	"github.com/lawble/courtsync/internal/database"
	"gorm.io/gorm"
)

// SyncLogStore records sync attempts for auditing.
type SyncLogStore interface {
	Append(entry *database.SyncLog) error
	Recent(limit int) ([]database.SyncLog, error)
}

type gormSyncLogStore struct {
	db *gorm.DB
}

func NewSyncLogStore(db *gorm.DB) SyncLogStore {
	return &gormSyncLogStore{db: db}
}

func (s *gormSyncLogStore) Append(entry *database.SyncLog) error {
	return wrapStorageErr("append sync log", s.db.Create(entry).Error)
}

func (s *gormSyncLogStore) Recent(limit int) ([]database.SyncLog, error) {
	var entries []database.SyncLog
	err := s.db.Order("sync_time DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, wrapStorageErr("list sync logs", err)
	}
	return entries, nil
}
