package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/TobiSchelling/feedcurator/internal/logging"
	"github.com/TobiSchelling/feedcurator/internal/store"
	"github.com/TobiSchelling/feedcurator/internal/synthesize"
	"github.com/TobiSchelling/feedcurator/internal/userstate"
)

const (
	feed = "blog"
	id   = "0123456789ab"
)

func newTestServer(t *testing.T) (*Server, *userstate.Store) {
	t.Helper()
	root := t.TempDir()
	s := store.New(root, logging.Discard())
	if _, err := s.MergeWrite(feed, id, store.Patch{
		store.FieldID:           id,
		store.FieldTitle:        "Generics in practice",
		store.FieldURL:          "https://example.com/generics",
		store.FieldFilterScore:  8.5,
		store.FieldFilterReason: "core Go topic",
		store.FieldArticleType:  store.TypeTutorial,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteContent(feed, id, "full text"); err != nil {
		t.Fatal(err)
	}
	data, err := synthesize.RenderSummary(synthesize.Header{
		Title: "Generics in practice",
		URL:   "https://example.com/generics",
		Feed:  feed,
	}, "## Key points\n\n- constraints")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteSummary(feed, id, data); err != nil {
		t.Fatal(err)
	}

	states, err := userstate.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(s, states, 6.0, logging.Discard())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, states
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func post(t *testing.T, srv *Server, target, redirect string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"redirect": {redirect}}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Generics in practice") {
		t.Error("expected article title in list")
	}
	if !strings.Contains(body, "8.5") {
		t.Error("expected score in list")
	}

	rec = get(t, srv, "/?type=news")
	if strings.Contains(rec.Body.String(), "Generics in practice") {
		t.Error("type filter should hide tutorial")
	}
}

func TestArticleRouteRendersAndMarksRead(t *testing.T) {
	srv, states := newTestServer(t)

	rec := get(t, srv, "/article/"+feed+"/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<h2>Key points</h2>") {
		t.Errorf("expected rendered markdown, got %s", rec.Body.String())
	}
	if err := states.Reload(); err != nil {
		t.Fatal(err)
	}
	if !states.IsRead(id) {
		t.Error("viewing an article should mark it read")
	}
}

func TestArticleNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	if rec := get(t, srv, "/article/"+feed+"/ffffffffffff"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := post(t, srv, "/article/"+feed+"/"+id+"/explode", "/"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown action, got %d", rec.Code)
	}
}

func TestActions(t *testing.T) {
	srv, states := newTestServer(t)
	base := "/article/" + feed + "/" + id

	rec := post(t, srv, base+"/favorite", base)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != base {
		t.Fatalf("expected redirect to %s, got %d %q", base, rec.Code, rec.Header().Get("Location"))
	}
	if err := states.Reload(); err != nil {
		t.Fatal(err)
	}
	if !states.IsFavorite(id) {
		t.Error("expected favorite")
	}

	post(t, srv, base+"/delete", "/")
	if strings.Contains(get(t, srv, "/").Body.String(), "Generics in practice") {
		t.Error("deleted article should be hidden")
	}
	if !strings.Contains(get(t, srv, "/?deleted=1").Body.String(), "Generics in practice") {
		t.Error("deleted article should show with deleted=1")
	}

	post(t, srv, base+"/undelete", "/")
	post(t, srv, base+"/archive", "/")
	if strings.Contains(get(t, srv, "/").Body.String(), "Generics in practice") {
		t.Error("archived article should be hidden")
	}

	// Redirects outside the site are ignored.
	rec = post(t, srv, base+"/unarchive", "https://evil.example.com/")
	if rec.Header().Get("Location") != "/" {
		t.Errorf("expected redirect to /, got %q", rec.Header().Get("Location"))
	}
}

func TestStatsAPI(t *testing.T) {
	srv, states := newTestServer(t)
	if err := states.MarkRead(id); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		Read     int            `json:"read_count"`
		Favorite int            `json:"favorite_count"`
		Pipeline map[string]int `json:"pipeline"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got.Read != 1 || got.Favorite != 0 {
		t.Errorf("unexpected stats %+v", got)
	}
	if got.Pipeline["synthesized"] != 1 {
		t.Errorf("expected one synthesized article, got %v", got.Pipeline)
	}
}
