// Package gate decides which articles still need each pipeline stage. The
// decision depends only on record fields and artifact presence, so repeated
// stage invocations resume where the last one stopped.
package gate

import (
	"fmt"

	"github.com/TobiSchelling/feedcurator/internal/store"
)

// DefaultThreshold is the minimum score for extraction when none is configured.
const DefaultThreshold = 6.0

// Stage names a pipeline stage with a gate predicate.
type Stage string

const (
	Relevance  Stage = "relevance"
	Extraction Stage = "extraction"
	Synthesis  Stage = "synthesis"
)

// State is how far an article has progressed through the pipeline.
type State int

const (
	Discovered State = iota
	Scored
	Extracted
	Synthesized
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Scored:
		return "scored"
	case Extracted:
		return "extracted"
	case Synthesized:
		return "synthesized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// NeedsRelevance reports whether rec has not been scored yet.
func NeedsRelevance(rec *store.Record) bool {
	return !rec.Scored()
}

// NeedsExtraction reports whether rec should be extracted. Unscored records
// pass: extraction does not wait on the relevance stage.
func NeedsExtraction(rec *store.Record, contentExists bool, threshold float64) bool {
	if contentExists {
		return false
	}
	return !rec.Scored() || rec.Score() >= threshold
}

// NeedsSynthesis reports whether content exists without a summary.
func NeedsSynthesis(contentExists, summaryExists bool) bool {
	return contentExists && !summaryExists
}

// Gate evaluates stage predicates against a store.
type Gate struct {
	store     *store.Store
	threshold float64
}

// New creates a gate. A negative threshold selects DefaultThreshold; zero is
// a valid setting that lets every scored article through.
func New(s *store.Store, threshold float64) *Gate {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Gate{store: s, threshold: threshold}
}

// Threshold returns the extraction score threshold in effect.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Needs reports whether the entry still requires stage's work.
func (g *Gate) Needs(stage Stage, e store.Entry) bool {
	switch stage {
	case Relevance:
		return NeedsRelevance(e.Record)
	case Extraction:
		return NeedsExtraction(e.Record, g.store.ContentExists(e.Feed, e.ID), g.threshold)
	case Synthesis:
		return NeedsSynthesis(g.store.ContentExists(e.Feed, e.ID), g.store.SummaryExists(e.Feed, e.ID))
	}
	return false
}

// Pending lists entries that need stage, optionally limited to one feed.
func (g *Gate) Pending(stage Stage, feed string) ([]store.Entry, error) {
	switch stage {
	case Relevance, Extraction, Synthesis:
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	return g.store.List(feed, func(e store.Entry) bool {
		return g.Needs(stage, e)
	})
}

// State derives the pipeline state of an entry from artifact and field
// presence.
func (g *Gate) State(e store.Entry) State {
	switch {
	case g.store.SummaryExists(e.Feed, e.ID):
		return Synthesized
	case g.store.ContentExists(e.Feed, e.ID):
		return Extracted
	case e.Record.Scored():
		return Scored
	}
	return Discovered
}

// Counts tallies entries by state, optionally limited to one feed.
func (g *Gate) Counts(feed string) (map[State]int, error) {
	entries, err := g.store.List(feed, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[State]int, 4)
	for _, e := range entries {
		counts[g.State(e)]++
	}
	return counts, nil
}
