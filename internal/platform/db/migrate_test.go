package db

import (
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func migrationsFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	m := NewMigratorFS(nil, migrationsFS(map[string]string{
		"010_reports.sql":  "SELECT 10;",
		"002_indexes.sql":  "SELECT 2;",
		"001_kiosk.sql":    "SELECT 1;",
		"005_printing.sql": "SELECT 5;",
	}))

	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	var versions []int
	for _, mig := range migrations {
		versions = append(versions, mig.Version)
	}
	if len(versions) != 4 || versions[0] != 1 || versions[1] != 2 || versions[2] != 5 || versions[3] != 10 {
		t.Fatalf("unexpected order %v", versions)
	}
	if migrations[0].Name != "001_kiosk.sql" || migrations[0].SQL != "SELECT 1;" || len(migrations[0].Checksum) != 64 {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
}

func TestLoadMigrations_SkipsInvalidNames(t *testing.T) {
	m := NewMigratorFS(nil, migrationsFS(map[string]string{
		"001_valid.sql":      "SELECT 1;",
		"readme.sql":         "-- no version prefix",
		"notes.txt":          "not sql",
		"abc_invalid.sql":    "-- non-numeric prefix",
		"002_also_valid.sql": "SELECT 2;",
	}))
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	m := NewMigratorFS(nil, migrationsFS(map[string]string{
		"003_a.sql":  "SELECT 1;",
		"0003_b.sql": "SELECT 2;",
	}))
	if _, err := m.LoadMigrations(); err == nil || !strings.Contains(err.Error(), "share version 3") {
		t.Fatalf("expected a duplicate version error, got %v", err)
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/migrations").LoadMigrations(); err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestLoadMigrations_Repository(t *testing.T) {
	migrations, err := NewMigrator(nil, filepath.Join("..", "..", "..", "migrations")).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != 1 {
		t.Fatalf("expected the repository migrations to start at version 1, got %+v", migrations)
	}
	if !strings.Contains(migrations[0].SQL, "kiosk_submission") {
		t.Error("expected the first migration to create kiosk_submission")
	}
}

func TestStatusOf(t *testing.T) {
	migrations, err := NewMigratorFS(nil, migrationsFS(map[string]string{
		"001_kiosk.sql":   "SELECT 1;",
		"002_indexes.sql": "SELECT 2;",
		"003_reports.sql": "SELECT 3;",
	})).LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	applied := map[int]appliedMigration{
		1: {at: at, checksum: migrations[0].Checksum},
		2: {at: at, checksum: strings.Repeat("0", 64)},
	}

	st := statusOf(migrations, applied)
	if len(st) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(st))
	}
	if !st[0].Applied || st[0].Modified || !st[0].AppliedAt.Equal(at) {
		t.Errorf("unexpected status for 001: %+v", st[0])
	}
	if !st[1].Applied || !st[1].Modified {
		t.Errorf("expected 002 to be flagged as modified: %+v", st[1])
	}
	if st[2].Applied || st[2].AppliedAt != nil {
		t.Errorf("expected 003 pending: %+v", st[2])
	}
}
