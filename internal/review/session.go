package review

import (
	"errors"
	"fmt"

	"github.com/TobiSchelling/feedcurator/internal/userstate"
)

var (
	// ErrEmpty is returned when the session has no articles left.
	ErrEmpty = errors.New("no articles to show")
	// ErrOutOfRange is returned by Jump for an invalid position.
	ErrOutOfRange = errors.New("article number out of range")
)

// Session navigates a loaded view. Leaving an article through navigation or
// Close marks it read. Delete removes the article from the session only; its
// record and artifacts stay on disk.
type Session struct {
	states   *userstate.Store
	articles []*Article
	index    int
}

// NewSession starts at the first article.
func NewSession(states *userstate.Store, articles []*Article) *Session {
	return &Session{states: states, articles: articles}
}

// Len returns the number of articles in the session.
func (s *Session) Len() int { return len(s.articles) }

// Position returns the 1-based position of the current article.
func (s *Session) Position() int { return s.index + 1 }

// Articles returns the current navigation list.
func (s *Session) Articles() []*Article { return s.articles }

// Current returns the article under the cursor.
func (s *Session) Current() (*Article, error) {
	if len(s.articles) == 0 {
		return nil, ErrEmpty
	}
	return s.articles[s.index], nil
}

// Next moves forward, wrapping at the end.
func (s *Session) Next() (*Article, error) {
	return s.moveTo(func(n int) int { return (s.index + 1) % n })
}

// Prev moves backward, wrapping at the start.
func (s *Session) Prev() (*Article, error) {
	return s.moveTo(func(n int) int { return (s.index - 1 + n) % n })
}

// Jump moves to the 1-based position n. An invalid position leaves the
// session unchanged.
func (s *Session) Jump(n int) (*Article, error) {
	if len(s.articles) == 0 {
		return nil, ErrEmpty
	}
	if n < 1 || n > len(s.articles) {
		return nil, fmt.Errorf("%w: %d (valid 1-%d)", ErrOutOfRange, n, len(s.articles))
	}
	return s.moveTo(func(int) int { return n - 1 })
}

func (s *Session) moveTo(next func(n int) int) (*Article, error) {
	if len(s.articles) == 0 {
		return nil, ErrEmpty
	}
	if err := s.leave(); err != nil {
		return nil, err
	}
	s.index = next(len(s.articles))
	return s.articles[s.index], nil
}

// leave marks the current article read.
func (s *Session) leave() error {
	a := s.articles[s.index]
	if a.Read {
		return nil
	}
	if err := s.states.MarkRead(a.ID); err != nil {
		return err
	}
	a.Read = true
	return nil
}

// Close ends the session, marking the current article read.
func (s *Session) Close() error {
	if len(s.articles) == 0 {
		return nil
	}
	return s.leave()
}

// ToggleRead flips the read flag of the current article.
func (s *Session) ToggleRead() (bool, error) {
	a, err := s.Current()
	if err != nil {
		return false, err
	}
	if a.Read {
		err = s.states.MarkUnread(a.ID)
	} else {
		err = s.states.MarkRead(a.ID)
	}
	if err != nil {
		return a.Read, err
	}
	a.Read = !a.Read
	return a.Read, nil
}

// ToggleFavorite flips the favorite flag of the current article.
func (s *Session) ToggleFavorite() (bool, error) {
	a, err := s.Current()
	if err != nil {
		return false, err
	}
	fav, err := s.states.ToggleFavorite(a.ID)
	if err != nil {
		return a.Favorite, err
	}
	a.Favorite = fav
	return fav, nil
}

// Delete flags the current article deleted and drops it from the session.
func (s *Session) Delete() error {
	a, err := s.Current()
	if err != nil {
		return err
	}
	if err := s.states.MarkDeleted(a.ID); err != nil {
		return err
	}
	a.Deleted = true
	s.remove()
	return nil
}

// Archive flags the current article archived and drops it from the session.
func (s *Session) Archive() error {
	a, err := s.Current()
	if err != nil {
		return err
	}
	if err := s.states.Archive(a.ID); err != nil {
		return err
	}
	a.Archived = true
	s.remove()
	return nil
}

// Undelete clears the deleted flag of the current article.
func (s *Session) Undelete() error {
	a, err := s.Current()
	if err != nil {
		return err
	}
	if err := s.states.Undelete(a.ID); err != nil {
		return err
	}
	a.Deleted = false
	return nil
}

func (s *Session) remove() {
	s.articles = append(s.articles[:s.index:s.index], s.articles[s.index+1:]...)
	if s.index >= len(s.articles) && s.index > 0 {
		s.index = len(s.articles) - 1
	}
}
