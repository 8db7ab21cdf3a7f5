package database

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"sql/20260101_000000_create_items.up.sql": {
			Data: []byte("CREATE TABLE test_items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"),
		},
		"sql/20260101_000000_create_items.down.sql": {
			Data: []byte("DROP TABLE test_items;"),
		},
		"sql/20260102_000000_add_index.up.sql": {
			Data: []byte("CREATE INDEX idx_test_items_name ON test_items(name);"),
		},
		"sql/20260102_000000_add_index.down.sql": {
			Data: []byte("DROP INDEX idx_test_items_name;"),
		},
		"sql/README.md": {Data: []byte("ignored")},
	}
}

// useMigrations swaps the package-level migration source for the test.
func useMigrations(t *testing.T, fsys fs.FS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = fsys
	MigrationsDir = dir
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations(), "sql")
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_items") {
		t.Fatal("table test_items not created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" {
		t.Errorf("first applied = %s, want 20260101_000000", applied[0].Version)
	}

	// Idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations(), "sql")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Newest first: the index goes, the table stays.
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if !tableExists(t, db, "test_items") {
		t.Fatal("test_items should survive the first rollback")
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("second MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_items") {
		t.Error("test_items should have been dropped")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != 2 {
		t.Errorf("applied=%d pending=%d, want 0/2", len(applied), len(pending))
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, nil, ".")
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE broken (")},
	}
	useMigrations(t, fsys, ".")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 1/1", len(applied), len(pending))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"valid up", "20260118_120000_discovery_cache.up.sql", "20260118_120000", true, true},
		{"valid down", "20260118_120000_discovery_cache.down.sql", "20260118_120000", false, true},
		{"not sql file", "readme.txt", "", false, false},
		{"missing direction", "20260118_120000_discovery_cache.sql", "", false, false},
		{"invalid format", "invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got (%v, %v), want (%v, %v)", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20260118_120000_discovery_cache.up.sql", "discovery_cache"},
		{"20260118_120000_dispatch_audit.down.sql", "dispatch_audit"},
	}

	for _, tt := range tests {
		if got := extractMigrationName(tt.filename); got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
