// Package discover fetches configured feeds and records new articles in the
// metadata store.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/feedcurator/internal/config"
	"github.com/TobiSchelling/feedcurator/internal/identity"
	"github.com/TobiSchelling/feedcurator/internal/retention"
	"github.com/TobiSchelling/feedcurator/internal/store"
)

// Result holds the counters of a discovery run.
type Result struct {
	Feeds      int
	Found      int
	New        int
	Updated    int
	TooOld     int
	Undated    int
	NoLink     int
	FeedErrors int
	Swept      int
	PerFeed    map[string]int
}

// Discoverer runs the discovery stage.
type Discoverer struct {
	store  *store.Store
	feeds  []config.Feed
	cfg    config.Discovery
	parser *gofeed.Parser
	now    func() time.Time
	logger *slog.Logger
}

// New creates a discoverer for the enabled feeds in cfg.
func New(s *store.Store, cfg *config.Config, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: cfg.Discovery.Timeout()}
	if cfg.Extraction.UserAgent != "" {
		parser.UserAgent = cfg.Extraction.UserAgent
	}
	return &Discoverer{
		store:  s,
		feeds:  cfg.EnabledFeeds(),
		cfg:    cfg.Discovery,
		parser: parser,
		now:    time.Now,
		logger: logger.With("stage", "discovery"),
	}
}

// Run sweeps expired articles, then fetches every enabled feed. A failing
// feed is logged and counted; it never stops the other feeds.
func (d *Discoverer) Run(ctx context.Context) (*Result, error) {
	r := &Result{PerFeed: make(map[string]int)}
	now := d.now().UTC()

	if d.cfg.MaxPerFeed > 0 {
		d.logger.Warn("max_per_feed is ignored; retention is date based only", "max_per_feed", d.cfg.MaxPerFeed)
	}

	if d.cfg.RetentionDays > 0 {
		window := time.Duration(d.cfg.RetentionDays) * 24 * time.Hour
		swept, err := retention.SweepModTime(d.store, window, now, d.logger)
		if err != nil {
			d.logger.Error("retention sweep failed", "error", err)
		}
		r.Swept = swept
	}

	cutoff := now.AddDate(0, 0, -d.cfg.MaxAgeDays)
	for _, feed := range d.feeds {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		r.Feeds++
		n, err := d.fetchFeed(ctx, feed, cutoff, r)
		if err != nil {
			r.FeedErrors++
			d.logger.Error("feed fetch failed", "feed", feed.Name, "url", feed.URL, "error", err)
			continue
		}
		r.PerFeed[feed.Name] = n
		d.logger.Info("feed done", "feed", feed.Name, "new", n)
	}

	d.logger.Info("discovery complete",
		"feeds", r.Feeds, "found", r.Found, "new", r.New, "updated", r.Updated,
		"too_old", r.TooOld, "undated", r.Undated, "no_link", r.NoLink, "swept", r.Swept)
	return r, nil
}

func (d *Discoverer) fetchFeed(ctx context.Context, feed config.Feed, cutoff time.Time, r *Result) (int, error) {
	parsed, err := d.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return 0, err
	}

	newCount := 0
	for _, item := range parsed.Items {
		r.Found++

		link := strings.TrimSpace(item.Link)
		if link == "" {
			r.NoLink++
			continue
		}

		published, ok := publishedTime(item)
		if !ok {
			r.Undated++
			d.logger.Warn("no publish date, skipping", "feed", feed.Name, "title", truncate(item.Title, 50))
			continue
		}
		if published.Before(cutoff) {
			r.TooOld++
			continue
		}

		id := identity.ID(link)
		// id, feed and url are derived from the key, so rewriting them on an
		// existing record is a no-op. fetched_at keeps its first value.
		patch := store.Patch{
			store.FieldID:        id,
			store.FieldFeedName:  feed.Name,
			store.FieldURL:       link,
			store.FieldTitle:     titleOf(item),
			store.FieldSummary:   plainText(item.Description),
			store.FieldAuthor:    authorOf(item),
			store.FieldPublished: published.Format(time.RFC3339),
		}
		if !d.store.Exists(feed.Name, id) {
			patch[store.FieldFetchedAt] = d.now().UTC().Format(time.RFC3339)
		}

		created, err := d.store.MergeWrite(feed.Name, id, patch)
		if err != nil {
			d.logger.Error("saving record failed", "feed", feed.Name, "id", id, "error", err)
			continue
		}
		if created {
			r.New++
			newCount++
			d.logger.Debug("new article", "feed", feed.Name, "id", id, "url", link)
		} else {
			r.Updated++
		}
	}
	return newCount, nil
}

// publishedTime returns the entry's publish time in UTC, falling back to the
// updated time and then to lenient parsing of the raw strings.
func publishedTime(item *gofeed.Item) (time.Time, bool) {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC(), true
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC(), true
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if t, err := dateparse.ParseIn(raw, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func titleOf(item *gofeed.Item) string {
	if t := strings.TrimSpace(item.Title); t != "" {
		return t
	}
	return "No Title"
}

func authorOf(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// plainText reduces an HTML fragment to whitespace-normalized text.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string(r[:n]))
}
