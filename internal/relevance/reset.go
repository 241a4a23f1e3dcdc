package relevance

import (
	"fmt"
	"log/slog"

	"github.com/TobiSchelling/feedcurator/internal/store"
)

// ResetFailed clears the relevance fields of every record whose filter_score
// is exactly zero, returning them to the relevance work list. Records with
// any other score are untouched.
func ResetFailed(s *store.Store, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	failed, err := s.List("", func(e store.Entry) bool {
		return e.Record.Scored() && e.Record.Score() == 0
	})
	if err != nil {
		return 0, fmt.Errorf("listing records: %w", err)
	}

	reset := 0
	for _, e := range failed {
		if err := s.ClearFields(e.Feed, e.ID, store.RelevanceFields...); err != nil {
			logger.Error("reset failed", "feed", e.Feed, "id", e.ID, "error", err)
			continue
		}
		reset++
		logger.Info("reset", "feed", e.Feed, "id", e.ID)
	}
	return reset, nil
}
