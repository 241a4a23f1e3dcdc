package gate

import (
	"testing"

	"github.com/TobiSchelling/feedcurator/internal/store"
)

func score(v float64) *float64 { return &v }

func TestNeedsExtractionThreshold(t *testing.T) {
	cases := []struct {
		name    string
		rec     store.Record
		content bool
		want    bool
	}{
		{"below threshold", store.Record{FilterScore: score(5)}, false, false},
		{"at threshold", store.Record{FilterScore: score(6)}, false, true},
		{"above threshold", store.Record{FilterScore: score(9)}, false, true},
		{"unscored fails open", store.Record{}, false, true},
		{"already extracted", store.Record{FilterScore: score(9)}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NeedsExtraction(&tc.rec, tc.content, DefaultThreshold); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNeedsSynthesis(t *testing.T) {
	if NeedsSynthesis(false, false) {
		t.Error("expected no synthesis without content")
	}
	if !NeedsSynthesis(true, false) {
		t.Error("expected synthesis when content exists without summary")
	}
	if NeedsSynthesis(true, true) {
		t.Error("expected no synthesis when summary exists")
	}
}

func TestPendingUsesStore(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	s.MergeWrite("blog", "low", store.Patch{store.FieldFilterScore: 5})
	s.MergeWrite("blog", "six", store.Patch{store.FieldFilterScore: 6})
	s.MergeWrite("blog", "new", store.Patch{store.FieldTitle: "unscored"})
	s.MergeWrite("news", "done", store.Patch{store.FieldFilterScore: 8})
	s.WriteContent("news", "done", "text")

	g := New(s, DefaultThreshold)

	relevance, err := g.Pending(Relevance, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(relevance) != 1 || relevance[0].ID != "new" {
		t.Errorf("expected only blog/new to need relevance, got %+v", relevance)
	}

	extraction, _ := g.Pending(Extraction, "")
	ids := map[string]bool{}
	for _, e := range extraction {
		ids[e.ID] = true
	}
	if len(ids) != 2 || !ids["six"] || !ids["new"] {
		t.Errorf("expected six and new to need extraction, got %v", ids)
	}

	synthesis, _ := g.Pending(Synthesis, "")
	if len(synthesis) != 1 || synthesis[0].ID != "done" {
		t.Errorf("expected news/done to need synthesis, got %+v", synthesis)
	}

	onlyNews, _ := g.Pending(Extraction, "news")
	if len(onlyNews) != 0 {
		t.Errorf("expected no extraction work in news, got %+v", onlyNews)
	}

	if _, err := g.Pending(Stage("bogus"), ""); err == nil {
		t.Error("expected unknown stage error")
	}
}

func TestZeroThresholdIsHonoured(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	s.MergeWrite("blog", "low", store.Patch{store.FieldFilterScore: 3})
	s.MergeWrite("blog", "zero", store.Patch{store.FieldFilterScore: 0})

	g := New(s, 0)
	if g.Threshold() != 0 {
		t.Fatalf("expected threshold 0, got %v", g.Threshold())
	}
	extraction, err := g.Pending(Extraction, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(extraction) != 2 {
		t.Errorf("expected both scored articles to need extraction, got %+v", extraction)
	}

	if got := New(s, -1).Threshold(); got != DefaultThreshold {
		t.Errorf("expected negative threshold to fall back to %v, got %v", DefaultThreshold, got)
	}
}

func TestStateAndCounts(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	s.MergeWrite("f", "a", store.Patch{store.FieldTitle: "a"})
	s.MergeWrite("f", "b", store.Patch{store.FieldFilterScore: 7})
	s.MergeWrite("f", "c", store.Patch{store.FieldFilterScore: 7})
	s.WriteContent("f", "c", "x")
	s.MergeWrite("f", "d", store.Patch{store.FieldFilterScore: 7})
	s.WriteContent("f", "d", "x")
	s.WriteSummary("f", "d", []byte("y"))

	g := New(s, 6)
	counts, err := g.Counts("")
	if err != nil {
		t.Fatal(err)
	}
	for state, want := range map[State]int{Discovered: 1, Scored: 1, Extracted: 1, Synthesized: 1} {
		if counts[state] != want {
			t.Errorf("expected %d %s, got %d", want, state, counts[state])
		}
	}
}
