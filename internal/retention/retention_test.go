package retention

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/TobiSchelling/feedcurator/internal/store"
)

func seed(t *testing.T, s *store.Store, id string, published time.Time) {
	t.Helper()
	if _, err := s.MergeWrite("blog", id, store.Patch{
		store.FieldID:        id,
		store.FieldTitle:     "Article " + id,
		store.FieldPublished: published.Format(time.RFC3339),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteContent("blog", id, "body"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteSummary("blog", id, []byte("summary")); err != nil {
		t.Fatal(err)
	}
}

func seedAges(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(t.TempDir(), nil)
	now := time.Now().UTC()
	seed(t, s, "aaaaaaaaaaaa", now)
	seed(t, s, "bbbbbbbbbbbb", now.AddDate(0, 0, -10))
	seed(t, s, "cccccccccccc", now.AddDate(0, 0, -40))
	return s
}

func TestSweepDeletesOnlyExpired(t *testing.T) {
	s := seedAges(t)

	result, err := NewSweeper(s, 30, false, nil).Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Examined != 3 {
		t.Errorf("expected 3 examined, got %d", result.Examined)
	}
	if result.Deleted != 1 || len(result.Candidates) != 1 || result.Candidates[0].ID != "cccccccccccc" {
		t.Fatalf("expected only the 40-day-old article deleted, got %+v", result)
	}
	if result.FilesRemoved != 3 {
		t.Errorf("expected record and both artifacts removed, got %d files", result.FilesRemoved)
	}
	if s.Exists("blog", "cccccccccccc") || s.ContentExists("blog", "cccccccccccc") || s.SummaryExists("blog", "cccccccccccc") {
		t.Error("expected all files of the expired article to be gone")
	}
	for _, id := range []string{"aaaaaaaaaaaa", "bbbbbbbbbbbb"} {
		if !s.Exists("blog", id) || !s.SummaryExists("blog", id) {
			t.Errorf("expected %s to survive", id)
		}
	}
}

func TestSweepDryRun(t *testing.T) {
	s := seedAges(t)

	result, err := NewSweeper(s, 30, true, nil).Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.DryRun || result.Deleted != 0 {
		t.Errorf("dry run must not delete, got %+v", result)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].ID != "cccccccccccc" {
		t.Errorf("expected the same single candidate, got %+v", result.Candidates)
	}
	if !s.Exists("blog", "cccccccccccc") || !s.ContentExists("blog", "cccccccccccc") {
		t.Error("dry run removed files")
	}
}

func TestSweepKeepsUnparseable(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	if _, err := s.MergeWrite("blog", "dddddddddddd", store.Patch{store.FieldPublished: "sometime last spring"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MergeWrite("blog", "eeeeeeeeeeee", store.Patch{store.FieldTitle: "no date"}); err != nil {
		t.Fatal(err)
	}

	result, err := NewSweeper(s, 1, false, nil).Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Unparseable != 2 || result.Deleted != 0 {
		t.Errorf("expected two unparseable records kept, got %+v", result)
	}
}

func TestParsePublishedNormalizesZone(t *testing.T) {
	got, err := ParsePublished("2024-03-01T09:00:00+09:00")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("expected %v in UTC, got %v", want, got)
	}

	naive, err := ParsePublished("2024-03-01 09:00:00")
	if err != nil {
		t.Fatal(err)
	}
	if !naive.Equal(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("naive timestamp should be read as UTC, got %v", naive)
	}
}

func TestSweepModTime(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	now := time.Now()
	seed(t, s, "aaaaaaaaaaaa", now)
	seed(t, s, "bbbbbbbbbbbb", now)

	old := now.Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(s.MetadataPath("blog", "bbbbbbbbbbbb"), old, old); err != nil {
		t.Fatal(err)
	}

	deleted, err := SweepModTime(s, 7*24*time.Hour, now, nil)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if s.Exists("blog", "bbbbbbbbbbbb") || s.SummaryExists("blog", "bbbbbbbbbbbb") {
		t.Error("expected stale article removed with artifacts")
	}
	if !s.Exists("blog", "aaaaaaaaaaaa") {
		t.Error("expected fresh article kept")
	}
}
