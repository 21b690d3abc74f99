package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lawble/courtsync/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run index migrations: %v", err)
	}
	return db
}

func TestIdentityStoreNotFound(t *testing.T) {
	s := NewIdentityStore(setupDB(t))

	_, err := s.Get(999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	_, err = s.ActiveForPrincipal("nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown principal, got %v", err)
	}
}

func TestIdentityStoreActiveForPrincipal(t *testing.T) {
	db := setupDB(t)
	s := NewIdentityStore(db)

	expired := &database.SessionIdentity{
		Principal: "tenant-1",
		ExpiresAt: time.Now().Add(-time.Hour),
		Status:    database.IdentityExpired,
	}
	active := &database.SessionIdentity{
		Principal: "tenant-1",
		ExpiresAt: time.Now().Add(24 * time.Hour),
		Status:    database.IdentityActive,
	}
	for _, identity := range []*database.SessionIdentity{expired, active} {
		if err := s.Put(identity); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := s.ActiveForPrincipal("tenant-1")
	if err != nil {
		t.Fatalf("ActiveForPrincipal failed: %v", err)
	}
	if got.ID != active.ID {
		t.Errorf("Expected active identity %d, got %d", active.ID, got.ID)
	}
}

func TestIdentityStoreListExpiring(t *testing.T) {
	db := setupDB(t)
	s := NewIdentityStore(db)

	inside := &database.SessionIdentity{
		Principal: "tenant-1", Status: database.IdentityActive,
		ExpiresAt: time.Now().Add(24 * time.Hour), AutoRotate: true,
	}
	outside := &database.SessionIdentity{
		Principal: "tenant-2", Status: database.IdentityActive,
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour), AutoRotate: true,
	}
	noRotate := &database.SessionIdentity{
		Principal: "tenant-3", Status: database.IdentityActive,
		ExpiresAt: time.Now().Add(24 * time.Hour), AutoRotate: false,
	}
	alreadyExpired := &database.SessionIdentity{
		Principal: "tenant-4", Status: database.IdentityExpired,
		ExpiresAt: time.Now().Add(-time.Hour), AutoRotate: true,
	}
	for _, identity := range []*database.SessionIdentity{inside, outside, noRotate, alreadyExpired} {
		if err := s.Put(identity); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	expiring, err := s.ListExpiring(3 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("ListExpiring failed: %v", err)
	}
	if len(expiring) != 1 || expiring[0].ID != inside.ID {
		t.Errorf("Expected only the in-window auto-rotate identity, got %d rows", len(expiring))
	}
}

func TestCredentialStoreMigrateOwner(t *testing.T) {
	db := setupDB(t)
	s := NewCredentialStore(db)

	for i := 0; i < 5; i++ {
		if err := s.Put(&database.CaseCredential{
			CaseID:     fmt.Sprintf("case-%d", i),
			IdentityID: 1,
			SyncStatus: database.SyncDone,
		}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	// A credential already owned elsewhere is untouched
	if err := s.Put(&database.CaseCredential{
		CaseID:     "case-other",
		IdentityID: 7,
		SyncStatus: database.SyncDone,
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	migrated, err := s.MigrateOwner(1, 2)
	if err != nil {
		t.Fatalf("MigrateOwner failed: %v", err)
	}
	if migrated != 5 {
		t.Errorf("Expected 5 migrated rows, got %d", migrated)
	}

	oldCount, _ := s.CountByIdentity(1)
	newCount, _ := s.CountByIdentity(2)
	otherCount, _ := s.CountByIdentity(7)
	if oldCount != 0 || newCount != 5 || otherCount != 1 {
		t.Errorf("Expected 0/5/1 after migration, got %d/%d/%d", oldCount, newCount, otherCount)
	}
}

func TestCredentialStoreSyncStatus(t *testing.T) {
	db := setupDB(t)
	s := NewCredentialStore(db)

	if err := s.Put(&database.CaseCredential{
		CaseID:     "case-1",
		IdentityID: 1,
		SyncStatus: database.SyncNever,
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := s.SetSyncStatus("case-1", database.SyncFailed, "portal returned status 502"); err != nil {
		t.Fatalf("SetSyncStatus failed: %v", err)
	}
	cred, err := s.GetByCaseID("case-1")
	if err != nil {
		t.Fatalf("GetByCaseID failed: %v", err)
	}
	if cred.SyncStatus != database.SyncFailed || cred.LastError == "" {
		t.Errorf("Expected failed status with error, got %q / %q", cred.SyncStatus, cred.LastError)
	}

	at := time.Now()
	if err := s.MarkSynced("case-1", at); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	cred, _ = s.GetByCaseID("case-1")
	if cred.SyncStatus != database.SyncDone || cred.LastError != "" {
		t.Errorf("Expected synced status with cleared error, got %q / %q", cred.SyncStatus, cred.LastError)
	}
}

func TestSnapshotStoreUpsert(t *testing.T) {
	db := setupDB(t)
	s := NewSnapshotStore(db)

	first := &database.CaseSnapshot{
		CaseID:      "case-1",
		Payload:     `{"v":1}`,
		ContentHash: "hash-1",
		CapturedAt:  time.Now(),
	}
	if err := s.Save(first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second := &database.CaseSnapshot{
		CaseID:      "case-1",
		Payload:     `{"v":2}`,
		ContentHash: "hash-2",
		CapturedAt:  time.Now(),
	}
	if err := s.Save(second); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get("case-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ContentHash != "hash-2" {
		t.Errorf("Expected latest snapshot to win, got %q", got.ContentHash)
	}

	var count int64
	db.Model(&database.CaseSnapshot{}).Where("case_id = ?", "case-1").Count(&count)
	if count != 1 {
		t.Errorf("Expected single snapshot row per case, got %d", count)
	}
}

func TestHearingStoreCompositeKey(t *testing.T) {
	db := setupDB(t)
	s := NewHearingStore(db)

	record := &database.HearingRecord{
		CaseID: "case-1",
		Date:   "2024.03.15", Time: "10:30", Type: "조정기일",
		Location: "205호",
		Source:   database.SourceSynced,
	}
	if err := s.Insert(record); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	found, err := s.FindByCompositeKey("case-1", "2024.03.15", "10:30", "조정기일")
	if err != nil {
		t.Fatalf("FindByCompositeKey failed: %v", err)
	}
	if found.ID != record.ID {
		t.Errorf("Expected row %d, got %d", record.ID, found.ID)
	}

	_, err = s.FindByCompositeKey("case-1", "2024.03.16", "10:30", "조정기일")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Different date must not match, got %v", err)
	}

	found.Location = "301호"
	found.Result = "속행"
	if err := s.Update(found); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	again, _ := s.FindByCompositeKey("case-1", "2024.03.15", "10:30", "조정기일")
	if again.Location != "301호" || again.Result != "속행" {
		t.Errorf("Update did not persist: %+v", again)
	}
}

func TestHearingUniquenessAppliesOnlyToSyncedRows(t *testing.T) {
	db := setupDB(t)
	s := NewHearingStore(db)

	synced := &database.HearingRecord{
		CaseID: "case-1",
		Date:   "2024.03.15", Time: "10:30", Type: "조정기일",
		Source: database.SourceSynced,
	}
	if err := s.Insert(synced); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Insert(&database.HearingRecord{
		CaseID: "case-1",
		Date:   "2024.03.15", Time: "10:30", Type: "조정기일",
		Source: database.SourceSynced,
	}); err == nil {
		t.Error("Duplicate synced row under the same key must be rejected")
	}

	// Manually entered hearings carry no uniqueness guarantee, even
	// when they repeat the same key.
	for i := 0; i < 2; i++ {
		if err := s.Insert(&database.HearingRecord{
			CaseID: "case-2",
			Date:   "2024.04.01", Time: "14:00", Type: "변론기일",
			Source: database.SourceManual,
		}); err != nil {
			t.Fatalf("Manual insert %d must not be constrained: %v", i, err)
		}
	}
}
