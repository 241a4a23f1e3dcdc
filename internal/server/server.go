// Package server serves the review view over HTTP.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/feedcurator/internal/gate"
	"github.com/TobiSchelling/feedcurator/internal/review"
	"github.com/TobiSchelling/feedcurator/internal/store"
	"github.com/TobiSchelling/feedcurator/internal/userstate"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for reviewing summaries.
type Server struct {
	store  *store.Store
	states *userstate.Store
	gate   *gate.Gate
	pages  map[string]*template.Template
	mux    *http.ServeMux
	logger *slog.Logger
}

// New creates a new Server.
func New(s *store.Store, states *userstate.Store, threshold float64, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"score": func(a *review.Article) string {
			if !a.Record.Scored() {
				return "-"
			}
			return strconv.FormatFloat(a.Record.Score(), 'f', 1, 64)
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not collide.
	pageNames := []string{"index.html", "article.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	srv := &Server{
		store:  s,
		states: states,
		gate:   gate.New(s, threshold),
		pages:  pages,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /article/{feed}/{id}", s.handleArticle)
	s.mux.HandleFunc("POST /article/{feed}/{id}/{action}", s.handleAction)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	if err := s.states.Reload(); err != nil {
		s.logger.Warn("reloading user state", "error", err)
	}
	articles, err := review.Load(s.store, s.states, f)
	if err != nil {
		s.logger.Error("loading review view", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "index.html", map[string]any{
		"Articles": articles,
		"Filter":   f,
		"Query":    r.URL.RawQuery,
		"Stats":    s.states.Stats(),
	})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	a, err := s.find(r.PathValue("feed"), r.PathValue("id"))
	if err != nil {
		s.notFound(w, r, err)
		return
	}
	// Opening an article counts as reading it.
	if !a.Read {
		if err := s.states.MarkRead(a.ID); err != nil {
			s.logger.Error("marking read", "id", a.ID, "error", err)
		} else {
			a.Read = true
		}
	}
	s.render(w, "article.html", map[string]any{
		"Article": a,
		"Back":    r.URL.Query().Get("back"),
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	feed, id, action := r.PathValue("feed"), r.PathValue("id"), r.PathValue("action")
	a, err := s.find(feed, id)
	if err != nil {
		s.notFound(w, r, err)
		return
	}

	switch action {
	case "favorite":
		_, err = s.states.ToggleFavorite(id)
	case "read":
		if a.Read {
			err = s.states.MarkUnread(id)
		} else {
			err = s.states.MarkRead(id)
		}
	case "delete":
		err = s.states.MarkDeleted(id)
	case "undelete":
		err = s.states.Undelete(id)
	case "archive":
		err = s.states.Archive(id)
	case "unarchive":
		err = s.states.Unarchive(id)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("applying action", "action", action, "id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	target := r.FormValue("redirect")
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

type statsResponse struct {
	userstate.Stats
	Pipeline map[string]int `json:"pipeline"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if err := s.states.Reload(); err != nil {
		s.logger.Warn("reloading user state", "error", err)
	}
	resp := statsResponse{Stats: s.states.Stats(), Pipeline: map[string]int{}}
	counts, err := s.gate.Counts("")
	if err != nil {
		s.logger.Error("counting pipeline states", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	for state, n := range counts {
		resp.Pipeline[state.String()] = n
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encoding stats", "error", err)
	}
}

var errArticleNotFound = errors.New("article not found")

// find loads one summarized article regardless of its deleted or archived
// state.
func (s *Server) find(feed, id string) (*review.Article, error) {
	if err := s.states.Reload(); err != nil {
		s.logger.Warn("reloading user state", "error", err)
	}
	articles, err := review.Load(s.store, s.states, review.Filter{
		Feed:         feed,
		ShowDeleted:  true,
		ShowArchived: true,
	})
	if err != nil {
		return nil, err
	}
	for _, a := range articles {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", feed, id, errArticleNotFound)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errArticleNotFound) {
		http.NotFound(w, r)
		return
	}
	s.logger.Error("loading article", "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func filterFromQuery(r *http.Request) review.Filter {
	q := r.URL.Query()
	f := review.Filter{
		Feed:          q.Get("feed"),
		Type:          q.Get("type"),
		Sort:          q.Get("sort"),
		ShowDeleted:   q.Get("deleted") == "1",
		ShowArchived:  q.Get("archived") == "1",
		UnreadOnly:    q.Get("unread") == "1",
		FavoritesOnly: q.Get("favorites") == "1",
	}
	if v, err := strconv.ParseFloat(q.Get("min_score"), 64); err == nil {
		f.MinScore = v
	}
	if v, err := strconv.Atoi(q.Get("days")); err == nil && v > 0 {
		f.Since = time.Now().AddDate(0, 0, -v)
	}
	return f
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.logger.Error("rendering template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// ListenAndServe starts the HTTP server on the given port.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.logger.Info("server listening", "addr", "http://"+addr)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return httpSrv.ListenAndServe()
}
