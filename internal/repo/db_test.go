package repo

import (
	"path/filepath"
	"testing"

	"github.com/outfi/mobile-sync-backend/internal/domain"
)

func TestOpenSQLite_CreatesAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// All tables present after migration.
	for _, m := range []any{
		&domain.Alert{}, &domain.Favorite{}, &domain.Preferences{},
		&domain.SyncState{}, &domain.Tombstone{}, &domain.Device{}, &domain.Idempotency{},
	} {
		if !db.Migrator().HasTable(m) {
			t.Fatalf("missing table for %T", m)
		}
	}
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "nope", "app.db")); err == nil {
		t.Fatalf("expected error for missing parent directory")
	}
}
