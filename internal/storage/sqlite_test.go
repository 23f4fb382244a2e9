package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrations(t *testing.T) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	var runs [][]int
	for range 2 {
		s, err := Open(dir)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		v, err := s.AppliedMigrations()
		s.Close()
		if err != nil {
			t.Fatalf("AppliedMigrations: %v", err)
		}
		runs = append(runs, v)
	}

	if len(runs[0]) != len(files) {
		t.Errorf("applied %d migrations, embedded %d", len(runs[0]), len(files))
	}
	if !slices.IsSorted(runs[0]) {
		t.Errorf("versions not ascending: %v", runs[0])
	}
	if !slices.Equal(runs[0], runs[1]) {
		t.Errorf("reopening changed the applied set: %v -> %v", runs[0], runs[1])
	}
	if _, err := os.Stat(filepath.Join(dir, "docintel.db")); err != nil {
		t.Errorf("database file: %v", err)
	}
}

// TestIndexesExist verifies that the migrations create the lookup indexes.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_documents_created",
		"idx_jobs_status_run_after",
		"idx_flashcards_cardset_due",
		"idx_chat_messages_chat",
		"idx_activities_user",
		"idx_broker_deliveries_claim",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

var ctx = context.Background()

func TestForeignKeysEnabled(t *testing.T) {
	s := openTestStore(t)

	var on int
	if err := s.db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys = %d, want 1", on)
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s.Close()
	if err := s.Ping(ctx); err == nil {
		t.Error("Ping on closed store succeeded, want error")
	}
}
