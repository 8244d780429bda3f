package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ib-go/internal/ib"
	"ib-go/internal/model"
)

func newTestBoltDB(t *testing.T) *BoltDatabase {
	t.Helper()

	db, err := NewBoltDatabase(filepath.Join(t.TempDir(), "test.bolt"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to create buckets: %v", err)
	}
	return db
}

func TestBoltDatabase(t *testing.T) {
	runBackendTests(t, func(t *testing.T) ib.Database {
		return newTestBoltDB(t)
	})
}

func TestBoltDatabase_CheckMigrations(t *testing.T) {
	db, err := NewBoltDatabase(filepath.Join(t.TempDir(), "fresh.bolt"))
	if err != nil {
		t.Fatalf("NewBoltDatabase() error = %v", err)
	}
	defer db.Close()

	if err := db.CheckMigrations(); err == nil {
		t.Error("CheckMigrations() expected error for fresh database")
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() after Migrate error = %v", err)
	}
}

func TestBoltDatabase_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.bolt")
	ctx := context.Background()

	db, err := NewBoltDatabase(path)
	if err != nil {
		t.Fatalf("NewBoltDatabase() error = %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	err = db.Update(ctx, func(tx ib.Tx) error {
		return tx.PutPost(&model.Post{ID: 9, Tags: []string{"cat"}})
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	db.Close()

	reopened, err := NewBoltDatabase(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()

	err = reopened.View(ctx, func(tx ib.Tx) error {
		ids, err := tx.FindPostIDsByTag("cat")
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids[0] != 9 {
			t.Errorf("FindPostIDsByTag() = %v, want [9]", ids)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestBoltDatabase_CanceledContext(t *testing.T) {
	db := newTestBoltDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := db.Update(ctx, func(ib.Tx) error {
		called = true
		return nil
	})
	if err == nil {
		t.Error("Update() with canceled context expected error")
	}
	if called {
		t.Error("Update() ran fn despite canceled context")
	}
}

func TestBoltDatabase_BackupTo(t *testing.T) {
	ctx := context.Background()
	db := newTestBoltDB(t)
	err := db.Update(ctx, func(tx ib.Tx) error {
		return tx.PutPost(&model.Post{ID: 5, Tags: []string{"cat", ""}})
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "copy.bolt")
	if err := db.BackupTo(ctx, dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	if err := db.BackupTo(ctx, dest); err == nil {
		t.Error("BackupTo() expected error when the destination exists")
	}

	copied, err := NewBoltDatabase(dest)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer copied.Close()
	if err := copied.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() on backup error = %v", err)
	}

	err = copied.View(ctx, func(tx ib.Tx) error {
		ids, err := tx.FindPostIDsByTag("")
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids[0] != 5 {
			t.Errorf("FindPostIDsByTag(\"\") on backup = %v, want [5]", ids)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}
