package sqlitemigrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;\n"
	if got := ExtractUpMigration(content); got != "\nCREATE TABLE a (id TEXT);\n" {
		t.Fatalf("up = %q", got)
	}
	if got := ExtractUpMigration("CREATE TABLE b (id TEXT);"); got != "CREATE TABLE b (id TEXT);" {
		t.Fatalf("plain = %q", got)
	}
}

func TestApplyRunsEachMigrationOnce(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"002_rules.sql":    {Data: []byte("-- +migrate Up\nALTER TABLE profiles ADD COLUMN language TEXT;\n")},
		"001_profiles.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE profiles (kee TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE profiles;\n")},
		"README.md":        {Data: []byte("ignored")},
	}

	for i := 0; i < 2; i++ {
		if err := Apply(context.Background(), db, fsys, ""); err != nil {
			t.Fatalf("apply pass %d: %v", i, err)
		}
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Fatalf("recorded migrations = %d, want 2", count)
	}
	if _, err := db.Exec("INSERT INTO profiles (kee, language) VALUES ('p1', 'xoo')"); err != nil {
		t.Fatalf("insert after migrate: %v", err)
	}
}

func TestApplyRequiresDB(t *testing.T) {
	if err := Apply(context.Background(), nil, fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestApplyReportsBrokenMigration(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{"001_bad.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE;\n")}}
	if err := Apply(context.Background(), db, fsys, "."); err == nil {
		t.Fatal("expected syntax error")
	}
}
