package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateNewDB(t *testing.T) {
	db := openTestDB(t)

	version, err := getSchemaVersion(db.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idem.db")

	db1, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	version, _ := getSchemaVersion(db2.conn)
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestMigrationRerunAfterCrash(t *testing.T) {
	db := openTestDB(t)
	// Simulate a crash after commit but before user_version was written.
	if _, err := db.conn.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatal(err)
	}
	if err := migrate(db.conn, db.logger); err != nil {
		t.Fatalf("re-running migration 1 should be safe: %v", err)
	}
}

func TestBeginFinishRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, err := db.Begin(ctx, "discovery")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if len(first.ID) != 36 || first.Status != StatusRunning {
		t.Errorf("unexpected run %+v", first)
	}
	first.Processed, first.Succeeded, first.Failed = 5, 4, 1
	if err := db.Finish(ctx, first); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	second, err := db.Begin(ctx, "relevance")
	if err != nil {
		t.Fatal(err)
	}
	second.Status = StatusError
	second.Note = "llm provider not configured"
	if err := db.Finish(ctx, second); err != nil {
		t.Fatal(err)
	}

	all, err := db.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", all)
	}

	disc, err := db.Recent(ctx, Filter{Stage: "discovery"})
	if err != nil {
		t.Fatal(err)
	}
	if len(disc) != 1 || disc[0].Processed != 5 || disc[0].Failed != 1 || disc[0].Status != StatusOK {
		t.Errorf("unexpected discovery run %+v", disc)
	}
	if disc[0].Duration() < 0 || disc[0].FinishedAt.IsZero() {
		t.Errorf("expected finished run, got %+v", disc[0])
	}

	failed, _ := db.Recent(ctx, Filter{Status: StatusError, Limit: 5})
	if len(failed) != 1 || failed[0].Note == "" {
		t.Errorf("unexpected error runs %+v", failed)
	}

	limited, _ := db.Recent(ctx, Filter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestFinishUnknownRun(t *testing.T) {
	db := openTestDB(t)
	if err := db.Finish(context.Background(), &Run{ID: "missing"}); err == nil {
		t.Error("expected error for unknown run")
	}
}
