package testutil

import (
	"path/filepath"
	"testing"

	"ib-go/internal/database"
	"ib-go/internal/ib"
)

// NewTestDatabase creates a new in-memory SQLite database with the schema applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) ib.Database {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return db
}

// NewTestBoltDatabase creates a bolt database in a temp dir with its buckets created.
func NewTestBoltDatabase(t *testing.T) ib.Database {
	t.Helper()

	db, err := database.NewBoltDatabase(filepath.Join(t.TempDir(), "test.bolt"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to create buckets: %v", err)
	}
	return db
}

// ForEachBackend runs fn as a subtest once per storage backend, each with a fresh database.
func ForEachBackend(t *testing.T, fn func(t *testing.T, db ib.Database)) {
	t.Helper()

	backends := []struct {
		name string
		open func(*testing.T) ib.Database
	}{
		{"sqlite", NewTestDatabase},
		{"bolt", NewTestBoltDatabase},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}
