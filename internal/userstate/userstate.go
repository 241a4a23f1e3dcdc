// Package userstate records the reader's per-article flags (read, deleted,
// favorite, archived) in a single JSON snapshot under the storage root.
//
// The flags are keyed by article id only and live apart from pipeline data:
// deleting an article's files leaves its flags alone and the reverse.
package userstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/TobiSchelling/feedcurator/internal/store"
)

// Stats are the aggregate flag counts.
type Stats struct {
	Read     int `json:"read_count"`
	Deleted  int `json:"deleted_count"`
	Favorite int `json:"favorite_count"`
	Archived int `json:"archived_count"`
}

// snapshot is the persisted form: flag -> article id -> RFC3339 timestamp.
type snapshot struct {
	Read     map[string]string `json:"read"`
	Deleted  map[string]string `json:"deleted"`
	Favorite map[string]string `json:"favorite"`
	Archived map[string]string `json:"archived"`
}

func (s *snapshot) init() {
	if s.Read == nil {
		s.Read = map[string]string{}
	}
	if s.Deleted == nil {
		s.Deleted = map[string]string{}
	}
	if s.Favorite == nil {
		s.Favorite = map[string]string{}
	}
	if s.Archived == nil {
		s.Archived = map[string]string{}
	}
}

// Store is the user state store. It is safe for concurrent use; mutations
// from several processes are serialized by a file lock.
type Store struct {
	path string
	lock *flock.Flock
	now  func() time.Time

	mu   sync.RWMutex
	snap snapshot
}

// Open loads the snapshot under root, starting empty when none exists.
func Open(root string) (*Store, error) {
	lockDir := filepath.Join(root, store.LockDir)
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	s := &Store{
		path: filepath.Join(root, store.StateFile),
		lock: flock.New(filepath.Join(lockDir, "article_states.lock")),
		now:  time.Now,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Reload replaces the in-memory view with the snapshot on disk.
func (s *Store) Reload() error {
	snap, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

func (s *Store) load() (snapshot, error) {
	var snap snapshot
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return snap, fmt.Errorf("reading user state: %w", err)
	default:
		if err := json.Unmarshal(data, &snap); err != nil {
			return snap, fmt.Errorf("parsing user state %s: %w", s.path, err)
		}
	}
	snap.init()
	return snap, nil
}

// mutate applies fn to the latest snapshot and persists the whole snapshot
// before returning.
func (s *Store) mutate(fn func(*snapshot, string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking user state: %w", err)
	}
	defer s.lock.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	fn(&snap, s.now().Format(time.RFC3339))

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding user state: %w", err)
	}
	if err := store.WriteFileAtomic(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("writing user state: %w", err)
	}
	s.snap = snap
	return nil
}

// MarkRead flags id as read.
func (s *Store) MarkRead(id string) error {
	return s.mutate(func(sn *snapshot, ts string) { sn.Read[id] = ts })
}

// MarkUnread clears the read flag.
func (s *Store) MarkUnread(id string) error {
	return s.mutate(func(sn *snapshot, _ string) { delete(sn.Read, id) })
}

// MarkDeleted hides id from the default review view.
func (s *Store) MarkDeleted(id string) error {
	return s.mutate(func(sn *snapshot, ts string) { sn.Deleted[id] = ts })
}

// Undelete clears the deleted flag.
func (s *Store) Undelete(id string) error {
	return s.mutate(func(sn *snapshot, _ string) { delete(sn.Deleted, id) })
}

// ToggleFavorite flips the favorite flag and reports the new value.
func (s *Store) ToggleFavorite(id string) (bool, error) {
	var favorite bool
	err := s.mutate(func(sn *snapshot, ts string) {
		if _, ok := sn.Favorite[id]; ok {
			delete(sn.Favorite, id)
			favorite = false
			return
		}
		sn.Favorite[id] = ts
		favorite = true
	})
	return favorite, err
}

// Archive flags id as archived.
func (s *Store) Archive(id string) error {
	return s.mutate(func(sn *snapshot, ts string) { sn.Archived[id] = ts })
}

// Unarchive clears the archived flag.
func (s *Store) Unarchive(id string) error {
	return s.mutate(func(sn *snapshot, _ string) { delete(sn.Archived, id) })
}

func (s *Store) has(pick func(*snapshot) map[string]string, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := pick(&s.snap)[id]
	return ok
}

func (s *Store) IsRead(id string) bool {
	return s.has(func(sn *snapshot) map[string]string { return sn.Read }, id)
}

func (s *Store) IsDeleted(id string) bool {
	return s.has(func(sn *snapshot) map[string]string { return sn.Deleted }, id)
}

func (s *Store) IsFavorite(id string) bool {
	return s.has(func(sn *snapshot) map[string]string { return sn.Favorite }, id)
}

func (s *Store) IsArchived(id string) bool {
	return s.has(func(sn *snapshot) map[string]string { return sn.Archived }, id)
}

// Stats returns flag counts from the in-memory view.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Read:     len(s.snap.Read),
		Deleted:  len(s.snap.Deleted),
		Favorite: len(s.snap.Favorite),
		Archived: len(s.snap.Archived),
	}
}
