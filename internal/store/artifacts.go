package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ContentExists reports whether the content artifact exists.
func (s *Store) ContentExists(feed, id string) bool {
	return validateKey(feed, id) == nil && fileExists(s.ContentPath(feed, id))
}

// SummaryExists reports whether the summary artifact exists.
func (s *Store) SummaryExists(feed, id string) bool {
	return validateKey(feed, id) == nil && fileExists(s.SummaryPath(feed, id))
}

// WriteContent persists the content artifact for (feed, id).
func (s *Store) WriteContent(feed, id, text string) error {
	if err := validateKey(feed, id); err != nil {
		return err
	}
	return writeFileAtomic(s.ContentPath(feed, id), []byte(text))
}

// ReadContent loads the content artifact for (feed, id).
func (s *Store) ReadContent(feed, id string) (string, error) {
	return s.readArtifact(s.ContentPath(feed, id), feed, id)
}

// WriteSummary persists the summary artifact for (feed, id).
func (s *Store) WriteSummary(feed, id string, data []byte) error {
	if err := validateKey(feed, id); err != nil {
		return err
	}
	return writeFileAtomic(s.SummaryPath(feed, id), data)
}

// ReadSummary loads the summary artifact for (feed, id).
func (s *Store) ReadSummary(feed, id string) (string, error) {
	return s.readArtifact(s.SummaryPath(feed, id), feed, id)
}

// SummaryModTime returns when the summary artifact was written.
func (s *Store) SummaryModTime(feed, id string) (time.Time, error) {
	info, err := os.Stat(s.SummaryPath(feed, id))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s *Store) readArtifact(path, feed, id string) (string, error) {
	if err := validateKey(feed, id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("artifact %s/%s: %w", feed, id, ErrNotFound)
		}
		return "", err
	}
	return string(data), nil
}

// writeFileAtomic writes data to a temp file beside path and renames it into
// place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// WriteFileAtomic is exported for other packages sharing the storage root.
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(path, data)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func validateKey(feed, id string) error {
	if err := validateName(feed); err != nil {
		return err
	}
	return validateName(id)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid key component %q", name)
	}
	return nil
}
