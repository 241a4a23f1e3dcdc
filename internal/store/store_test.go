package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), nil)
}

func TestMergeWriteCreatesRecord(t *testing.T) {
	s := openTestStore(t)
	created, err := s.MergeWrite("blog", "abc123", Patch{FieldTitle: "Hello", FieldURL: "https://a.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true for a new record")
	}
	if !s.Exists("blog", "abc123") {
		t.Fatal("expected record to exist")
	}
	rec, err := s.Read("blog", "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Title != "Hello" || rec.URL != "https://a.com" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Scored() {
		t.Error("expected new record to be unscored")
	}
}

func TestMergeWritePreservesEarlierFields(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.MergeWrite("blog", "r1", Patch{"a": 1}); err != nil {
		t.Fatal(err)
	}
	created, err := s.MergeWrite("blog", "r1", Patch{"b": 2})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("expected created=false for an existing record")
	}

	data, err := os.ReadFile(s.MetadataPath("blog", "r1"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, `"a": 1`) || !strings.Contains(text, `"b": 2`) {
		t.Errorf("expected both fields to survive, got %s", text)
	}
}

func TestMergeWriteKeepsRelevanceFields(t *testing.T) {
	s := openTestStore(t)
	s.MergeWrite("blog", "r1", Patch{FieldTitle: "Old title"})
	s.MergeWrite("blog", "r1", Patch{
		FieldFilterScore:   7.5,
		FieldFilterReason:  "good",
		FieldInterestMatch: []string{"go"},
		FieldArticleType:   TypeNews,
	})
	s.MergeWrite("blog", "r1", Patch{FieldTitle: "New title", FieldSummary: "fresh"})

	rec, err := s.Read("blog", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "New title" {
		t.Errorf("expected patched title, got %q", rec.Title)
	}
	if !rec.Scored() || rec.Score() != 7.5 {
		t.Errorf("expected score 7.5 to survive, got %v", rec.FilterScore)
	}
	if rec.ArticleType != TypeNews || len(rec.InterestMatch) != 1 {
		t.Errorf("expected relevance fields to survive, got %+v", rec)
	}
}

func TestMergeWriteReplacesCorruptRecord(t *testing.T) {
	s := openTestStore(t)
	path := s.MetadataPath("blog", "bad")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("{not json"), 0o644)

	created, err := s.MergeWrite("blog", "bad", Patch{FieldTitle: "Recovered"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected corrupt record to be treated as new")
	}
	rec, err := s.Read("blog", "bad")
	if err != nil || rec.Title != "Recovered" {
		t.Errorf("expected recovered record, got %+v (%v)", rec, err)
	}
}

func TestReadNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Read("blog", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClearFields(t *testing.T) {
	s := openTestStore(t)
	s.MergeWrite("blog", "r1", Patch{FieldTitle: "T", FieldFilterScore: 0, FieldFilterReason: "error: boom"})
	if err := s.ClearFields("blog", "r1", RelevanceFields...); err != nil {
		t.Fatal(err)
	}
	rec, _ := s.Read("blog", "r1")
	if rec.Scored() || rec.FilterReason != "" {
		t.Errorf("expected relevance fields cleared, got %+v", rec)
	}
	if rec.Title != "T" {
		t.Error("expected title to survive")
	}
	if err := s.ClearFields("blog", "nope", FieldTitle); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSkipsCorruptRecords(t *testing.T) {
	s := openTestStore(t)
	s.MergeWrite("a", "one", Patch{FieldTitle: "One"})
	s.MergeWrite("b", "two", Patch{FieldTitle: "Two"})
	os.WriteFile(s.MetadataPath("a", "broken"), []byte("]"), 0o644)

	all, err := s.List("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 readable records, got %d", len(all))
	}

	onlyB, _ := s.List("b", nil)
	if len(onlyB) != 1 || onlyB[0].ID != "two" {
		t.Errorf("expected feed filter to return b/two, got %+v", onlyB)
	}

	titled, _ := s.List("", func(e Entry) bool { return e.Record.Title == "One" })
	if len(titled) != 1 || titled[0].Feed != "a" {
		t.Errorf("expected predicate to select a/one, got %+v", titled)
	}
}

func TestDeleteRemovesRecordAndArtifacts(t *testing.T) {
	s := openTestStore(t)
	s.MergeWrite("blog", "r1", Patch{FieldTitle: "T"})
	s.WriteContent("blog", "r1", "body")
	s.WriteSummary("blog", "r1", []byte("summary"))

	report, err := s.Delete("blog", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Files() != 3 {
		t.Errorf("expected 3 files removed, got %+v", report)
	}
	if s.Exists("blog", "r1") || s.ContentExists("blog", "r1") || s.SummaryExists("blog", "r1") {
		t.Error("expected everything removed")
	}

	report, err = s.Delete("blog", "r1")
	if err != nil || report.Files() != 0 {
		t.Errorf("expected idempotent delete, got %+v (%v)", report, err)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if s.ContentExists("blog", "r1") {
		t.Fatal("expected no content yet")
	}
	if err := s.WriteContent("blog", "r1", "# Title\n\nBody"); err != nil {
		t.Fatal(err)
	}
	text, err := s.ReadContent("blog", "r1")
	if err != nil || text != "# Title\n\nBody" {
		t.Errorf("unexpected content %q (%v)", text, err)
	}
	if _, err := s.ReadSummary("blog", "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing summary, got %v", err)
	}

	leftovers, _ := filepath.Glob(filepath.Join(s.Root(), ContentDir, "blog", ".tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("expected no temp files, got %v", leftovers)
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.MergeWrite("../etc", "x", Patch{}); err == nil {
		t.Error("expected traversal feed name to be rejected")
	}
	if err := s.WriteContent("blog", "a/b", "x"); err == nil {
		t.Error("expected slash in id to be rejected")
	}
	if s.Exists("..", "x") {
		t.Error("expected invalid key to report not existing")
	}
}
