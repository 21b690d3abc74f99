package database

import (
	"fmt"

	"gorm.io/gorm"
)

// RunMigrations executes all database migrations
func RunMigrations(db *gorm.DB) error {
	// Create indexes for better performance
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createIndexes creates database indexes
func createIndexes(db *gorm.DB) error {
	// Composite key for hearing reconciliation. Only synced rows are
	// unique under the key; manually entered hearings may collide.
	// Earlier schemas constrained manual rows too, so the old index is
	// dropped before the partial one is created.
	if err := db.Exec(`DROP INDEX IF EXISTS idx_hearing_composite`).Error; err != nil {
		return err
	}
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_hearing_synced_key
		ON hearing_records(case_id, date, time, type)
		WHERE source = 'synced'
	`).Error; err != nil {
		return err
	}

	// Index for expiring-identity scans
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_identity_expiry
		ON session_identities(status, expires_at)
	`).Error; err != nil {
		return err
	}

	// Index for credential migration by owner
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_credentials_identity
		ON case_credentials(identity_id)
	`).Error; err != nil {
		return err
	}

	// Index for sync logs
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sync_logs_time
		ON sync_logs(sync_time)
	`).Error; err != nil {
		return err
	}

	return nil
}
