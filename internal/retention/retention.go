// Package retention deletes articles that have aged out of the retention
// window: the metadata record together with any content and summary
// artifacts.
//
// Only date-based sweeps exist. A count-based "keep newest N per feed" pass
// would delete items the live feed still lists, and Discovery would then
// re-add them on its next run.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/araddon/dateparse"

	"github.com/TobiSchelling/feedcurator/internal/store"
)

// Candidate is one article selected for deletion.
type Candidate struct {
	Feed      string
	ID        string
	Title     string
	Published time.Time
}

// Result summarizes a sweep.
type Result struct {
	Examined     int
	Candidates   []Candidate
	Deleted      int
	FilesRemoved int
	Unparseable  int
	Errors       int
	DryRun       bool
}

// Sweeper deletes articles whose published date is older than the window.
type Sweeper struct {
	store  *store.Store
	window time.Duration
	dryRun bool
	now    func() time.Time
	logger *slog.Logger
}

// NewSweeper creates a published-date sweeper with a window in days.
func NewSweeper(s *store.Store, days int, dryRun bool, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  s,
		window: time.Duration(days) * 24 * time.Hour,
		dryRun: dryRun,
		now:    time.Now,
		logger: logger,
	}
}

// Cutoff returns the instant before which articles are swept.
func (sw *Sweeper) Cutoff() time.Time {
	return sw.now().UTC().Add(-sw.window)
}

// Sweep enumerates every record and deletes those published before the
// cutoff. Records with a missing or unparseable published value are kept.
func (sw *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	result := &Result{DryRun: sw.dryRun}
	cutoff := sw.Cutoff()

	entries, err := sw.store.List("", nil)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Examined++

		published, err := ParsePublished(e.Record.Published)
		if err != nil {
			result.Unparseable++
			sw.logger.Warn("unparseable published date, keeping",
				"feed", e.Feed, "id", e.ID, "published", e.Record.Published)
			continue
		}
		if !published.Before(cutoff) {
			continue
		}

		result.Candidates = append(result.Candidates, Candidate{
			Feed:      e.Feed,
			ID:        e.ID,
			Title:     e.Record.Title,
			Published: published,
		})
		if sw.dryRun {
			sw.logger.Info("would delete", "feed", e.Feed, "id", e.ID, "published", published.Format(time.RFC3339))
			continue
		}

		report, err := sw.store.Delete(e.Feed, e.ID)
		result.FilesRemoved += report.Files()
		if err != nil {
			result.Errors++
			sw.logger.Error("delete failed", "feed", e.Feed, "id", e.ID, "error", err)
			continue
		}
		result.Deleted++
		sw.logger.Debug("deleted", "feed", e.Feed, "id", e.ID, "files", report.Files())
	}

	return result, nil
}

// ParsePublished parses a stored published value and normalizes it to UTC.
// Values without zone information are read as UTC.
func ParsePublished(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty published value")
	}
	t, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// SweepModTime deletes every article whose metadata record was last written
// before now-window. Discovery runs it once per invocation before fetching.
// It returns the number of articles deleted.
func SweepModTime(s *store.Store, window time.Duration, now time.Time, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cutoff := now.Add(-window)

	entries, err := s.List("", nil)
	if err != nil {
		return 0, fmt.Errorf("listing records: %w", err)
	}

	deleted := 0
	for _, e := range entries {
		mtime, err := s.ModTime(e.Feed, e.ID)
		if err != nil {
			logger.Warn("stat failed", "feed", e.Feed, "id", e.ID, "error", err)
			continue
		}
		if !mtime.Before(cutoff) {
			continue
		}
		if _, err := s.Delete(e.Feed, e.ID); err != nil {
			logger.Error("delete failed", "feed", e.Feed, "id", e.ID, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		logger.Info("removed expired articles", "count", deleted, "window", window)
	}
	return deleted, nil
}
