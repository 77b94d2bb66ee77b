package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"discover/pkg/transaction"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "data", "history.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func entryAt(id string, at time.Time, role, status string) *Entry {
	return &Entry{
		ID:        id,
		Timestamp: at,
		Backend:   "flatpak",
		Role:      role,
		Resource:  "system/flatpak/flathub/app/" + id + "/stable",
		Locator:   "flatpak://system/flathub/app/" + id + "/stable",
		Status:    status,
	}
}

func TestOpen(t *testing.T) {
	store := setupTestStore(t)

	count, err := store.Count()
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 0 {
		t.Errorf("new store should be empty, got %d", count)
	}
}

func TestRecordTransaction(t *testing.T) {
	store := setupTestStore(t)

	tx := transaction.New(t.Context(), "flatpak", newResource("org.kde.kate"), transaction.RoleInstall, transaction.Addons{})
	_ = tx.SetStatus(transaction.StatusCommitting)
	_ = tx.SetStatus(transaction.StatusDone)

	if err := store.Record(tx); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	got, err := store.Get(tx.ID())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Role != "install" || got.Status != "done" || got.DisplayName != "Kate" {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestRecordThroughListener(t *testing.T) {
	store := setupTestStore(t)
	l := transaction.NewListener(nil, transaction.WithRecorder(store))

	res := newResource("org.kde.kate")
	tx := transaction.New(t.Context(), "flatpak", res, transaction.RoleRemove, transaction.Addons{})
	if _, err := l.Submit(res, func() (*transaction.Transaction, error) { return tx, nil }); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	_ = tx.SetStatus(transaction.StatusCommitting)
	_ = tx.SetStatus(transaction.StatusDone)

	if err := l.Wait(t.Context()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if _, err := store.Get(tx.ID()); err != nil {
		t.Errorf("listener did not record the finished transaction: %v", err)
	}
}

func TestList(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		// Whole seconds and fractions mix so key ordering is exercised.
		at := base.Add(time.Duration(i) * 1500 * time.Millisecond)
		if err := store.Put(entryAt(fmt.Sprintf("app%d", i), at, "install", "done")); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	entries, err := store.List(3)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"app4", "app3", "app2"} {
		if entries[i].ID != want {
			t.Errorf("entries[%d] = %s, want %s", i, entries[i].ID, want)
		}
	}

	all, _ := store.List(0)
	if len(all) != 5 {
		t.Errorf("List(0) should return everything, got %d", len(all))
	}
}

func TestSameInstant(t *testing.T) {
	store := setupTestStore(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = store.Put(entryAt("a", at, "install", "done"))
	_ = store.Put(entryAt("b", at, "install", "done"))

	if count, _ := store.Count(); count != 2 {
		t.Errorf("entries in the same instant should both be kept, got %d", count)
	}
}

func TestGetMissing(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestLast(t *testing.T) {
	store := setupTestStore(t)

	last, err := store.Last()
	if err != nil || last != nil {
		t.Fatalf("Last() on empty store = %v, %v", last, err)
	}

	now := time.Now()
	_ = store.Put(entryAt("old", now.Add(-time.Hour), "install", "done"))
	_ = store.Put(entryAt("new", now, "remove", "done"))

	last, err = store.Last()
	if err != nil {
		t.Fatalf("Last() error: %v", err)
	}
	if last.ID != "new" {
		t.Errorf("Last() = %s, want new", last.ID)
	}
}

func TestLastUndoable(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now()

	if _, err := store.LastUndoable(); !errors.Is(err, ErrNotFound) {
		t.Errorf("LastUndoable() on empty store error = %v", err)
	}

	_ = store.Put(entryAt("installed", now.Add(-3*time.Minute), "install", "done"))
	_ = store.Put(entryAt("updated", now.Add(-2*time.Minute), "update", "done"))
	_ = store.Put(entryAt("broken", now.Add(-time.Minute), "remove", "failed"))

	e, err := store.LastUndoable()
	if err != nil {
		t.Fatalf("LastUndoable() error: %v", err)
	}
	if e.ID != "installed" {
		t.Errorf("LastUndoable() = %s, want installed", e.ID)
	}
}

func TestClear(t *testing.T) {
	store := setupTestStore(t)
	_ = store.Put(entryAt("a", time.Now(), "install", "done"))

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if count, _ := store.Count(); count != 0 {
		t.Errorf("expected empty store after Clear, got %d", count)
	}
	if _, err := store.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("index should be cleared too, got %v", err)
	}
}

func TestPrune(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now()

	_ = store.Put(entryAt("ancient", now.Add(-48*time.Hour), "install", "done"))
	_ = store.Put(entryAt("old", now.Add(-25*time.Hour), "install", "done"))
	_ = store.Put(entryAt("fresh", now.Add(-time.Hour), "install", "done"))

	deleted, err := store.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Prune() deleted %d, want 2", deleted)
	}
	if _, err := store.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pruned entry still indexed: %v", err)
	}
	if _, err := store.Get("fresh"); err != nil {
		t.Errorf("fresh entry should survive: %v", err)
	}
}

func TestClose(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
