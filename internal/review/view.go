// Package review builds the reader's view over summarized articles and the
// navigation session that drives user state changes.
package review

import (
	"fmt"
	"sort"
	"time"

	"github.com/TobiSchelling/feedcurator/internal/retention"
	"github.com/TobiSchelling/feedcurator/internal/store"
	"github.com/TobiSchelling/feedcurator/internal/synthesize"
	"github.com/TobiSchelling/feedcurator/internal/userstate"
)

// Sort orders.
const (
	SortScore = "score"
	SortDate  = "date"
)

// Filter selects and orders the view.
type Filter struct {
	Feed          string
	MinScore      float64
	Type          string
	Since         time.Time // summary written at or after
	ShowDeleted   bool
	ShowArchived  bool
	UnreadOnly    bool
	FavoritesOnly bool
	Sort          string
}

// Article is one entry of the view.
type Article struct {
	Feed         string
	ID           string
	Record       *store.Record
	Header       synthesize.Header
	Body         string
	SummarizedAt time.Time

	Read     bool
	Deleted  bool
	Favorite bool
	Archived bool
}

// Title returns the record title, falling back to the summary header.
func (a *Article) Title() string {
	if a.Record.Title != "" {
		return a.Record.Title
	}
	return a.Header.Title
}

// Load builds the filtered, sorted view of every summarized article that
// still has a metadata record.
func Load(s *store.Store, states *userstate.Store, f Filter) ([]*Article, error) {
	entries, err := s.List(f.Feed, func(e store.Entry) bool {
		return s.SummaryExists(e.Feed, e.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}

	var out []*Article
	for _, e := range entries {
		rec := e.Record
		if f.MinScore > 0 && rec.Score() < f.MinScore {
			continue
		}
		if f.Type != "" && rec.ArticleType != f.Type {
			continue
		}
		a := &Article{
			Feed:     e.Feed,
			ID:       e.ID,
			Record:   rec,
			Read:     states.IsRead(e.ID),
			Deleted:  states.IsDeleted(e.ID),
			Favorite: states.IsFavorite(e.ID),
			Archived: states.IsArchived(e.ID),
		}
		if a.Deleted && !f.ShowDeleted {
			continue
		}
		if a.Archived && !f.ShowArchived {
			continue
		}
		if f.UnreadOnly && a.Read {
			continue
		}
		if f.FavoritesOnly && !a.Favorite {
			continue
		}

		if mtime, err := s.SummaryModTime(e.Feed, e.ID); err == nil {
			a.SummarizedAt = mtime
		}
		if !f.Since.IsZero() && a.SummarizedAt.Before(f.Since) {
			continue
		}

		raw, err := s.ReadSummary(e.Feed, e.ID)
		if err != nil {
			continue
		}
		// A summary without a header is shown as-is.
		a.Header, a.Body, _ = synthesize.ParseSummary([]byte(raw))
		out = append(out, a)
	}

	sortArticles(out, f.Sort)
	return out, nil
}

func sortArticles(articles []*Article, order string) {
	if order == SortDate {
		published := make(map[*Article]time.Time, len(articles))
		for _, a := range articles {
			if t, err := retention.ParsePublished(a.Record.Published); err == nil {
				published[a] = t
			}
		}
		sort.SliceStable(articles, func(i, j int) bool {
			return published[articles[i]].After(published[articles[j]])
		})
		return
	}
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Record.Score() > articles[j].Record.Score()
	})
}
