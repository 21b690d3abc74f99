package sync

import (
	"errors"
	"testing"

	"github.com/lawble/courtsync/internal/database"
	"github.com/lawble/courtsync/internal/store"
	"github.com/lawble/courtsync/pkg/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupReconciler(t *testing.T) (*Reconciler, store.HearingStore) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	log, _ := logger.NewLogger("error", "json")
	hearings := store.NewHearingStore(db)
	return NewReconciler(hearings, log), hearings
}

func TestReconcileCreatesNewHearings(t *testing.T) {
	r, _ := setupReconciler(t)

	hearings := []Hearing{
		{Date: "2024.03.15", Time: "10:30", Type: "조정기일", Location: "205호"},
		{Date: "2024.05.02", Time: "14:00", Type: "변론기일", Location: "301호"},
	}

	result := r.Reconcile("case-1", hearings)

	if result.Created != 2 || result.Updated != 0 || result.Skipped != 0 {
		t.Errorf("Expected created=2 updated=0 skipped=0, got %d/%d/%d",
			result.Created, result.Updated, result.Skipped)
	}
	if len(result.TouchedIDs) != 2 {
		t.Errorf("Expected 2 touched ids, got %d", len(result.TouchedIDs))
	}
	if len(result.Errors) != 0 {
		t.Errorf("Expected no item errors, got %v", result.Errors)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	r, _ := setupReconciler(t)

	hearings := []Hearing{
		{Date: "2024.03.15", Time: "10:30", Type: "조정기일", Location: "205호"},
		{Date: "2024.05.02", Time: "14:00", Type: "변론기일", Location: "301호"},
	}

	r.Reconcile("case-1", hearings)
	second := r.Reconcile("case-1", hearings)

	if second.Created != 0 || second.Updated != 0 {
		t.Errorf("Second pass must not write: created=%d updated=%d", second.Created, second.Updated)
	}
	if second.Skipped != 2 {
		t.Errorf("Expected skipped=2 on second pass, got %d", second.Skipped)
	}
}

func TestReconcileUpdatesChangedFields(t *testing.T) {
	r, hearings := setupReconciler(t)

	r.Reconcile("case-1", []Hearing{
		{Date: "2024.03.15", Time: "10:30", Type: "조정기일", Location: "205호"},
	})

	// Same composite key, result filled in after the hearing happened
	result := r.Reconcile("case-1", []Hearing{
		{Date: "2024.03.15", Time: "10:30", Type: "조정기일", Location: "205호", Result: "조정성립"},
	})

	if result.Updated != 1 || result.Created != 0 {
		t.Errorf("Expected updated=1 created=0, got updated=%d created=%d", result.Updated, result.Created)
	}

	record, err := hearings.FindByCompositeKey("case-1", "2024.03.15", "10:30", "조정기일")
	if err != nil {
		t.Fatalf("Hearing lookup failed: %v", err)
	}
	if record.Result != "조정성립" {
		t.Errorf("Expected result to be updated, got %q", record.Result)
	}
}

func TestReconcileKeyChangeCreatesNewRow(t *testing.T) {
	r, hearings := setupReconciler(t)

	r.Reconcile("case-1", []Hearing{
		{Date: "2024.03.15", Time: "10:30", Type: "조정기일", Location: "205호"},
	})

	// Date moved: this is a different hearing, the old row stays
	result := r.Reconcile("case-1", []Hearing{
		{Date: "2024.03.22", Time: "10:30", Type: "조정기일", Location: "205호"},
	})

	if result.Created != 1 {
		t.Errorf("Expected key change to create a new row, got created=%d", result.Created)
	}

	all, err := hearings.ListByCase("case-1")
	if err != nil {
		t.Fatalf("ListByCase failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected old row retained plus new row, got %d rows", len(all))
	}
}

func TestReconcileScopedByCase(t *testing.T) {
	r, _ := setupReconciler(t)

	r.Reconcile("case-1", []Hearing{
		{Date: "2024.03.15", Time: "10:30", Type: "조정기일"},
	})
	result := r.Reconcile("case-2", []Hearing{
		{Date: "2024.03.15", Time: "10:30", Type: "조정기일"},
	})

	if result.Created != 1 {
		t.Errorf("Same key under another case must create, got created=%d", result.Created)
	}
}

func TestReconcileIgnoresManualRows(t *testing.T) {
	r, hearings := setupReconciler(t)

	manual := &database.HearingRecord{
		CaseID: "case-1",
		Date:   "2024.03.15", Time: "10:30", Type: "조정기일",
		Location: "사무실입력",
		Source:   database.SourceManual,
	}
	if err := hearings.Insert(manual); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	result := r.Reconcile("case-1", []Hearing{
		{Date: "2024.03.15", Time: "10:30", Type: "조정기일", Location: "205호"},
	})

	if result.Created != 1 {
		t.Errorf("Manually entered row must not satisfy the synced key, got created=%d", result.Created)
	}
}

// failingHearingStore fails inserts for one composite key to exercise
// partial-success accumulation.
type failingHearingStore struct {
	store.HearingStore
	failDate string
}

func (f *failingHearingStore) Insert(record *database.HearingRecord) error {
	if record.Date == f.failDate {
		return errors.New("insert hearing: constraint violation")
	}
	return f.HearingStore.Insert(record)
}

func TestReconcilePartialFailure(t *testing.T) {
	_, hearings := setupReconciler(t)
	log, _ := logger.NewLogger("error", "json")
	r := NewReconciler(&failingHearingStore{HearingStore: hearings, failDate: "2024.05.02"}, log)

	result := r.Reconcile("case-1", []Hearing{
		{Date: "2024.03.15", Time: "10:30", Type: "조정기일"},
		{Date: "2024.05.02", Time: "14:00", Type: "변론기일"},
		{Date: "2024.06.10", Time: "11:00", Type: "변론기일"},
	})

	if result.Created != 2 {
		t.Errorf("Expected the two healthy hearings to be created, got %d", result.Created)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected exactly one item error, got %d", len(result.Errors))
	}
	if result.Errors[0].Date != "2024.05.02" {
		t.Errorf("Item error should identify the failed hearing, got %+v", result.Errors[0])
	}
}
