// Package relevance scores unscored articles against the configured
// interests using an LLM.
package relevance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/TobiSchelling/feedcurator/internal/config"
	"github.com/TobiSchelling/feedcurator/internal/gate"
	"github.com/TobiSchelling/feedcurator/internal/llm"
	"github.com/TobiSchelling/feedcurator/internal/store"
)

const systemPrompt = `You are a strict editor deciding which articles a busy software engineer should read.
Score each article from 0 to 10 for how well it matches the reader's interests and criteria.
Answer with a single JSON object and nothing else.`

const userPrompt = `Reader interests, most important first:
%s

Evaluation criteria:
%s

Article title: %s
Article summary:
%s

Respond with ONLY this JSON:
{
    "score": 0-10,
    "reason": "one or two sentences explaining the score",
    "interest_match": ["interest topics this article matches"],
    "article_type": "news" or "tutorial"
}

article_type: "news" for announcements, releases and reports of events; "tutorial" for how-to guides, deep dives and explanations.`

// Result holds the counters of a relevance run.
type Result struct {
	Pending        int
	Scored         int
	AboveThreshold int
	Failed         int
}

// Judge runs the relevance stage.
type Judge struct {
	store    *store.Store
	gate     *gate.Gate
	provider llm.Provider
	cfg      config.Relevance
	logger   *slog.Logger
}

// New creates a judge. provider may be nil, in which case Run reports
// llm.ErrNotConfigured before touching any record.
func New(s *store.Store, provider llm.Provider, cfg config.Relevance, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{
		store:    s,
		gate:     gate.New(s, cfg.Threshold),
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("stage", "relevance"),
	}
}

// verdict is the judgment response.
type verdict struct {
	Score         float64  `json:"score"`
	Reason        string   `json:"reason"`
	InterestMatch []string `json:"interest_match"`
	ArticleType   string   `json:"article_type"`
}

// Run scores every record lacking filter_score. A failed judgment is stored
// as score 0 with the failure as reason, so the record leaves the work list
// until reset.
func (j *Judge) Run(ctx context.Context) (*Result, error) {
	if j.provider == nil {
		return nil, fmt.Errorf("relevance: %w", llm.ErrNotConfigured)
	}

	pending, err := j.gate.Pending(gate.Relevance, "")
	if err != nil {
		return nil, fmt.Errorf("listing unscored records: %w", err)
	}
	r := &Result{Pending: len(pending)}
	if len(pending) == 0 {
		j.logger.Info("no articles pending relevance")
		return r, nil
	}

	interests := formatInterests(j.cfg.Interests)
	criteria := formatCriteria(j.cfg.Criteria)

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return r, err
		}

		v, err := j.judge(ctx, e.Record, interests, criteria)
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Interrupted: leave the in-flight record unscored.
			return r, ctxErr
		}
		if err != nil {
			j.logger.Error("judgment failed", "feed", e.Feed, "id", e.ID, "error", err)
			v = &verdict{Score: 0, Reason: "error: " + err.Error()}
			r.Failed++
		}

		if _, err := j.store.MergeWrite(e.Feed, e.ID, v.patch()); err != nil {
			j.logger.Error("saving score failed", "feed", e.Feed, "id", e.ID, "error", err)
			continue
		}
		r.Scored++
		if v.Score >= j.gate.Threshold() {
			r.AboveThreshold++
			j.logger.Info("high score", "feed", e.Feed, "id", e.ID, "score", v.Score, "title", e.Record.Title)
		} else {
			j.logger.Debug("scored", "feed", e.Feed, "id", e.ID, "score", v.Score)
		}
	}

	j.logger.Info("relevance complete",
		"scored", r.Scored, "above_threshold", r.AboveThreshold, "failed", r.Failed)
	return r, nil
}

func (j *Judge) judge(ctx context.Context, rec *store.Record, interests, criteria string) (*verdict, error) {
	prompt := fmt.Sprintf(userPrompt, interests, criteria, rec.Title, rec.Summary)

	text, err := j.provider.Generate(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: j.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var v verdict
	if err := llm.ParseJSONResponse(text, &v); err != nil {
		return nil, err
	}
	v.normalize()
	return &v, nil
}

func (v *verdict) normalize() {
	switch {
	case v.Score < 0:
		v.Score = 0
	case v.Score > 10:
		v.Score = 10
	}
	v.ArticleType = strings.ToLower(strings.TrimSpace(v.ArticleType))
	if v.ArticleType != store.TypeNews && v.ArticleType != store.TypeTutorial {
		v.ArticleType = store.TypeTutorial
	}
	if v.InterestMatch == nil {
		v.InterestMatch = []string{}
	}
}

func (v *verdict) patch() store.Patch {
	articleType := v.ArticleType
	if articleType == "" {
		articleType = store.TypeTutorial
	}
	matches := v.InterestMatch
	if matches == nil {
		matches = []string{}
	}
	return store.Patch{
		store.FieldFilterScore:   v.Score,
		store.FieldFilterReason:  v.Reason,
		store.FieldInterestMatch: matches,
		store.FieldArticleType:   articleType,
	}
}

func formatInterests(interests []config.Interest) string {
	if len(interests) == 0 {
		return "None specified"
	}
	sorted := make([]config.Interest, len(interests))
	copy(sorted, interests)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Priority < sorted[b].Priority
	})

	var b strings.Builder
	for i, in := range sorted {
		priority := in.Priority
		if priority == 0 {
			priority = i + 1
		}
		fmt.Fprintf(&b, "%d. %s\n", priority, in.Topic)
		if in.Note != "" {
			fmt.Fprintf(&b, "   -> %s\n", in.Note)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCriteria(c config.Criteria) string {
	var b strings.Builder
	if len(c.CriticalRequirements) > 0 {
		b.WriteString("Required:\n")
		for _, req := range c.CriticalRequirements {
			fmt.Fprintf(&b, "+ %s\n", req)
		}
		b.WriteString("\n")
	}
	if len(c.Exclusions) > 0 {
		b.WriteString("Excluded (score low):\n")
		for _, ex := range c.Exclusions {
			fmt.Fprintf(&b, "- %s\n", ex)
		}
		b.WriteString("\n")
	}
	for _, band := range []struct {
		label string
		band  config.ScoreBand
	}{
		{"High score", c.HighScore},
		{"Medium score", c.MediumScore},
		{"Low score", c.LowScore},
	} {
		if band.band.Range == "" && band.band.Description == "" {
			continue
		}
		fmt.Fprintf(&b, "%s (%s):\n%s\n\n", band.label, band.band.Range, band.band.Description)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "None specified"
	}
	return out
}
