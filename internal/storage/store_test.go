package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mfenderov/compound-learning/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := storage.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewStore_CreatesSchema(t *testing.T) {
	store := newTestStore(t)

	tables := store.ListTables()

	expectedTables := []string{"learnings", "learning_embeddings", "learnings_fts"}
	for _, expected := range expectedTables {
		found := false
		for _, table := range tables {
			if table == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected table %q not found, got tables: %v", expected, tables)
		}
	}
}

func TestNewStore_MigrationsApplied(t *testing.T) {
	store := newTestStore(t)

	version, err := store.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version < 2 {
		t.Errorf("expected schema version >= 2, got %d", version)
	}
}

func TestNewStore_ReopenExisting(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := storage.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Upsert(testLearning("a", "reopen survives restarts"), testVec(1, 0, 0)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	store.Close()

	// Opening the same file again must not error or lose data.
	reopened, err := storage.NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 learning after reopen, got %d", count)
	}
}

func testLearning(id, content string) storage.Learning {
	return storage.Learning{
		ID:       id,
		Content:  content,
		Scope:    storage.ScopeGlobal,
		FilePath: "/tmp/" + id + ".md",
		Topic:    "testing",
		Type:     "pattern",
		Summary:  content,
	}
}

func testVec(vals ...float64) []float64 {
	return vals
}
