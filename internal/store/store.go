// Package store persists article metadata records and stage artifacts on the
// local filesystem. The directory tree is the only coordination surface
// between pipeline stages: every write lands via rename so a reader sees
// either the previous file or the complete new one.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Directory and file names under the storage root.
const (
	MetadataDir = "rss-feeds"
	ContentDir  = "scraped-articles"
	SummaryDir  = "processed-articles"
	StateFile   = "article_states.json"
	LedgerFile  = "runs.db"
	LockDir     = ".locks"
)

// ErrNotFound is returned when a record or artifact does not exist.
var ErrNotFound = errors.New("not found")

// Store reads and writes records and artifacts under a root directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a store rooted at root. The directory is created lazily.
func New(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

// MetadataPath returns the record location for (feed, id).
func (s *Store) MetadataPath(feed, id string) string {
	return filepath.Join(s.root, MetadataDir, feed, id+".json")
}

// ContentPath returns the content artifact location for (feed, id).
func (s *Store) ContentPath(feed, id string) string {
	return filepath.Join(s.root, ContentDir, feed, id+".md")
}

// SummaryPath returns the summary artifact location for (feed, id).
func (s *Store) SummaryPath(feed, id string) string {
	return filepath.Join(s.root, SummaryDir, feed, id+".md")
}

// Exists reports whether a record exists for (feed, id).
func (s *Store) Exists(feed, id string) bool {
	if validateKey(feed, id) != nil {
		return false
	}
	return fileExists(s.MetadataPath(feed, id))
}

// Read loads the record for (feed, id).
func (s *Store) Read(feed, id string) (*Record, error) {
	if err := validateKey(feed, id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.MetadataPath(feed, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("record %s/%s: %w", feed, id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading record %s/%s: %w", feed, id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record %s/%s: %w", feed, id, err)
	}
	return &rec, nil
}

// MergeWrite overlays patch onto the stored record for (feed, id) and
// persists the result. Fields not named in patch keep their stored values,
// including fields this program does not know about. When no record exists
// the patch becomes the whole record and created is true.
//
// Concurrent merge-writes to the same key are not safe; callers serialize
// per stage.
func (s *Store) MergeWrite(feed, id string, patch Patch) (created bool, err error) {
	if err := validateKey(feed, id); err != nil {
		return false, err
	}
	path := s.MetadataPath(feed, id)

	merged, err := s.readRaw(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		merged = map[string]json.RawMessage{}
		created = true
	case err != nil:
		s.logger.Warn("existing record unreadable, replacing", "feed", feed, "id", id, "error", err)
		merged = map[string]json.RawMessage{}
		created = true
	}

	for key, value := range patch {
		raw, err := json.Marshal(value)
		if err != nil {
			return false, fmt.Errorf("encoding field %s: %w", key, err)
		}
		merged[key] = raw
	}

	if err := s.writeRaw(path, merged); err != nil {
		return false, err
	}
	return created, nil
}

// ClearFields removes keys from the stored record for (feed, id).
func (s *Store) ClearFields(feed, id string, keys ...string) error {
	if err := validateKey(feed, id); err != nil {
		return err
	}
	path := s.MetadataPath(feed, id)
	raw, err := s.readRaw(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("record %s/%s: %w", feed, id, ErrNotFound)
		}
		return err
	}
	for _, k := range keys {
		delete(raw, k)
	}
	return s.writeRaw(path, raw)
}

// Feeds returns the names of all feeds that have a metadata directory.
func (s *Store) Feeds() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, MetadataDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	var feeds []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			feeds = append(feeds, e.Name())
		}
	}
	sort.Strings(feeds)
	return feeds, nil
}

// List enumerates records, optionally limited to one feed, keeping those for
// which keep returns true (all when keep is nil). Records that cannot be
// parsed are logged and skipped.
func (s *Store) List(feed string, keep func(Entry) bool) ([]Entry, error) {
	feeds := []string{feed}
	if feed == "" {
		var err error
		if feeds, err = s.Feeds(); err != nil {
			return nil, err
		}
	} else if err := validateName(feed); err != nil {
		return nil, err
	}

	var out []Entry
	for _, f := range feeds {
		files, err := filepath.Glob(filepath.Join(s.root, MetadataDir, f, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", f, err)
		}
		sort.Strings(files)
		for _, path := range files {
			id := strings.TrimSuffix(filepath.Base(path), ".json")
			rec, err := s.Read(f, id)
			if err != nil {
				s.logger.Warn("skipping unreadable record", "feed", f, "id", id, "error", err)
				continue
			}
			e := Entry{Feed: f, ID: id, Record: rec}
			if keep == nil || keep(e) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// ModTime returns the modification time of the record for (feed, id).
func (s *Store) ModTime(feed, id string) (time.Time, error) {
	info, err := os.Stat(s.MetadataPath(feed, id))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// DeleteReport lists which files Delete removed.
type DeleteReport struct {
	Metadata bool
	Content  bool
	Summary  bool
}

// Files returns the number of files removed.
func (r DeleteReport) Files() int {
	n := 0
	for _, ok := range []bool{r.Metadata, r.Content, r.Summary} {
		if ok {
			n++
		}
	}
	return n
}

// Delete removes the record and both artifacts for (feed, id). Missing files
// are not an error.
func (s *Store) Delete(feed, id string) (DeleteReport, error) {
	var report DeleteReport
	if err := validateKey(feed, id); err != nil {
		return report, err
	}
	var errs []error
	remove := func(path string, flag *bool) {
		err := os.Remove(path)
		switch {
		case err == nil:
			*flag = true
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}
	remove(s.MetadataPath(feed, id), &report.Metadata)
	remove(s.ContentPath(feed, id), &report.Content)
	remove(s.SummaryPath(feed, id), &report.Summary)
	return report, errors.Join(errs...)
}

func (s *Store) readRaw(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("parsing %s: not a JSON object", path)
	}
	return raw, nil
}

func (s *Store) writeRaw(path string, raw map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}
