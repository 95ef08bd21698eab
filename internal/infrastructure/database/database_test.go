package database

import (
	"path/filepath"
	"testing"

	"github.com/remindly/core/internal/infrastructure/config"
)

func newSQLiteDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "remindly.db"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUp(t *testing.T) {
	db := newSQLiteDB(t)

	if err := CheckMigrationStatus(db); err == nil {
		t.Fatal("expected an unmigrated database to be reported")
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	// Running again is a no-op.
	if err := MigrateUp(db); err != nil {
		t.Fatalf("second MigrateUp() error = %v", err)
	}

	if err := CheckMigrationStatus(db); err != nil {
		t.Errorf("CheckMigrationStatus() error = %v", err)
	}

	version, dirty, err := MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("MigrationVersion() = %d, %t, want 2, false", version, dirty)
	}

	for _, table := range []string{"reminders", "occurrences", "sync_links", "reminder_records"} {
		var n int
		if err := db.DB.Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

func TestNew_RejectsMemoryDriver(t *testing.T) {
	if _, err := New(config.DatabaseConfig{Driver: config.DriverMemory}); err == nil {
		t.Fatal("expected an error for the memory driver")
	}
}
