package rotation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lawble/courtsync/internal/config"
	"github.com/lawble/courtsync/internal/database"
	"github.com/lawble/courtsync/internal/portal"
	"github.com/lawble/courtsync/internal/store"
	"github.com/lawble/courtsync/pkg/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeRefresher struct {
	failFor map[uint]error
	calls   int
}

func (f *fakeRefresher) RefreshSession(ctx context.Context, identity *database.SessionIdentity) (*portal.RenewedSession, error) {
	f.calls++
	if err, ok := f.failFor[identity.ID]; ok {
		return nil, err
	}
	return &portal.RenewedSession{
		Token:     fmt.Sprintf("renewed-token-%d", f.calls),
		Cookie:    fmt.Sprintf("renewed-cookie-%d", f.calls),
		ExpiresAt: time.Now().Add(14 * 24 * time.Hour),
	}, nil
}

type rotationFixture struct {
	scheduler   *Scheduler
	refresher   *fakeRefresher
	identities  store.IdentityStore
	credentials store.CredentialStore
	db          *gorm.DB
}

func setupScheduler(t *testing.T) *rotationFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	cfg := &config.Config{RenewalWindowDays: 3}
	log, _ := logger.NewLogger("error", "json")
	identities := store.NewIdentityStore(db)
	credentials := store.NewCredentialStore(db)
	refresher := &fakeRefresher{failFor: map[uint]error{}}

	return &rotationFixture{
		scheduler:   NewScheduler(cfg, refresher, identities, credentials, log),
		refresher:   refresher,
		identities:  identities,
		credentials: credentials,
		db:          db,
	}
}

func (f *rotationFixture) seedIdentity(t *testing.T, principal string, expiresIn time.Duration, autoRotate bool) *database.SessionIdentity {
	t.Helper()
	identity := &database.SessionIdentity{
		Token:      "tok-" + principal,
		Cookie:     "cookie-" + principal,
		Principal:  principal,
		IssuedAt:   time.Now().Add(-24 * time.Hour),
		ExpiresAt:  time.Now().Add(expiresIn),
		Status:     database.IdentityActive,
		AutoRotate: autoRotate,
	}
	if err := f.identities.Put(identity); err != nil {
		t.Fatalf("Failed to seed identity: %v", err)
	}
	return identity
}

func (f *rotationFixture) seedCredentials(t *testing.T, identityID uint, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		cred := &database.CaseCredential{
			CaseID:     fmt.Sprintf("case-%d-%d", identityID, i),
			Credential: fmt.Sprintf("enc-%d-%d", identityID, i),
			IdentityID: identityID,
			SyncStatus: database.SyncDone,
		}
		if err := f.credentials.Put(cred); err != nil {
			t.Fatalf("Failed to seed credential: %v", err)
		}
	}
}

func TestRotationRenewsAndMigrates(t *testing.T) {
	f := setupScheduler(t)

	old := f.seedIdentity(t, "tenant-1", 24*time.Hour, true)
	f.seedCredentials(t, old.ID, 5)

	summary, err := f.scheduler.Run(context.Background())
	if err != nil {
		t.Fatalf("Rotation run failed: %v", err)
	}

	if summary.Considered != 1 || summary.Renewed != 1 || summary.Failed != 0 {
		t.Errorf("Expected considered=1 renewed=1 failed=0, got %+v", summary)
	}
	if summary.Migrated != 5 {
		t.Errorf("Expected 5 migrated credentials, got %d", summary.Migrated)
	}

	// Migration completeness: nothing points at the old identity
	remaining, err := f.credentials.CountByIdentity(old.ID)
	if err != nil {
		t.Fatalf("CountByIdentity failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("Expected 0 credentials on old identity, got %d", remaining)
	}

	oldReloaded, err := f.identities.Get(old.ID)
	if err != nil {
		t.Fatalf("Get old identity failed: %v", err)
	}
	if oldReloaded.Status != database.IdentityExpired {
		t.Errorf("Old identity should be expired, got %q", oldReloaded.Status)
	}

	replacement, err := f.identities.ActiveForPrincipal("tenant-1")
	if err != nil {
		t.Fatalf("No active replacement identity: %v", err)
	}
	if replacement.ID == old.ID {
		t.Error("Replacement must be a new identity row")
	}

	migrated, err := f.credentials.CountByIdentity(replacement.ID)
	if err != nil {
		t.Fatalf("CountByIdentity failed: %v", err)
	}
	if migrated != 5 {
		t.Errorf("Expected 5 credentials on replacement, got %d", migrated)
	}
}

func TestRotationSkipsIdentitiesOutsideWindow(t *testing.T) {
	f := setupScheduler(t)

	f.seedIdentity(t, "tenant-1", 30*24*time.Hour, true)

	summary, err := f.scheduler.Run(context.Background())
	if err != nil {
		t.Fatalf("Rotation run failed: %v", err)
	}
	if summary.Considered != 0 {
		t.Errorf("Identity outside the window must not be considered, got %d", summary.Considered)
	}
	if f.refresher.calls != 0 {
		t.Errorf("No refresh calls expected, got %d", f.refresher.calls)
	}
}

func TestRotationSkipsManualIdentities(t *testing.T) {
	f := setupScheduler(t)

	f.seedIdentity(t, "tenant-1", 24*time.Hour, false)

	summary, err := f.scheduler.Run(context.Background())
	if err != nil {
		t.Fatalf("Rotation run failed: %v", err)
	}
	if summary.Considered != 0 {
		t.Errorf("Identity without auto-rotate must not be considered, got %d", summary.Considered)
	}
}

func TestRotationFailureLeavesStateForRetry(t *testing.T) {
	f := setupScheduler(t)

	old := f.seedIdentity(t, "tenant-1", 24*time.Hour, true)
	f.seedCredentials(t, old.ID, 3)
	f.refresher.failFor[old.ID] = portal.NewError(portal.KindPortalUnavailable, "portal returned status 503")

	summary, err := f.scheduler.Run(context.Background())
	if err != nil {
		t.Fatalf("Rotation run failed: %v", err)
	}

	if summary.Failed != 1 || summary.Renewed != 0 || summary.Migrated != 0 {
		t.Errorf("Expected failed=1 renewed=0 migrated=0, got %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].IdentityID != old.ID {
		t.Errorf("Failure should name the identity, got %+v", summary.Failures)
	}

	// Left expiring so the next run retries it; credentials untouched
	reloaded, _ := f.identities.Get(old.ID)
	if reloaded.Status != database.IdentityExpiring {
		t.Errorf("Failed identity should stay expiring, got %q", reloaded.Status)
	}
	count, _ := f.credentials.CountByIdentity(old.ID)
	if count != 3 {
		t.Errorf("Credentials must stay on the old identity after failure, got %d", count)
	}
}

// expiryStuckIdentityStore fails only the final expiry update, after
// the replacement identity and the credential migration already landed.
type expiryStuckIdentityStore struct {
	store.IdentityStore
}

func (s *expiryStuckIdentityStore) SetStatus(id uint, status string) error {
	if status == database.IdentityExpired {
		return errors.New("set identity status: database is locked")
	}
	return s.IdentityStore.SetStatus(id, status)
}

func TestRotationCountsMigrationsWhenExpiryUpdateFails(t *testing.T) {
	f := setupScheduler(t)

	old := f.seedIdentity(t, "tenant-1", 24*time.Hour, true)
	f.seedCredentials(t, old.ID, 4)

	cfg := &config.Config{RenewalWindowDays: 3}
	log, _ := logger.NewLogger("error", "json")
	stuck := &expiryStuckIdentityStore{IdentityStore: f.identities}
	scheduler := NewScheduler(cfg, f.refresher, stuck, f.credentials, log)

	summary, err := scheduler.Run(context.Background())
	if err != nil {
		t.Fatalf("Rotation run failed: %v", err)
	}

	if summary.Failed != 1 || summary.Renewed != 0 {
		t.Errorf("Expected failed=1 renewed=0, got %+v", summary)
	}
	if summary.Migrated != 4 {
		t.Errorf("Rows that moved before the expiry update failed must be counted, got %d", summary.Migrated)
	}

	// The migration itself completed: nothing is left on the old identity.
	remaining, err := f.credentials.CountByIdentity(old.ID)
	if err != nil {
		t.Fatalf("CountByIdentity failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("Expected 0 credentials on old identity, got %d", remaining)
	}

	replacement, err := f.identities.ActiveForPrincipal("tenant-1")
	if err != nil {
		t.Fatalf("No active replacement identity: %v", err)
	}
	moved, err := f.credentials.CountByIdentity(replacement.ID)
	if err != nil {
		t.Fatalf("CountByIdentity failed: %v", err)
	}
	if moved != 4 {
		t.Errorf("Expected 4 credentials on replacement, got %d", moved)
	}
}

func TestRotationContinuesAfterFailure(t *testing.T) {
	f := setupScheduler(t)

	bad := f.seedIdentity(t, "tenant-1", 12*time.Hour, true)
	good := f.seedIdentity(t, "tenant-2", 24*time.Hour, true)
	f.seedCredentials(t, good.ID, 2)
	f.refresher.failFor[bad.ID] = portal.NewError(portal.KindPortalUnavailable, "portal returned status 503")

	summary, err := f.scheduler.Run(context.Background())
	if err != nil {
		t.Fatalf("Rotation run failed: %v", err)
	}

	if summary.Considered != 2 {
		t.Errorf("Expected both identities considered, got %d", summary.Considered)
	}
	if summary.Renewed != 1 || summary.Failed != 1 {
		t.Errorf("Expected renewed=1 failed=1, got %+v", summary)
	}
	if summary.Migrated != 2 {
		t.Errorf("Expected the healthy identity's 2 credentials migrated, got %d", summary.Migrated)
	}
}
