// Package synthesize turns extracted article content into typed summaries.
package synthesize

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/TobiSchelling/feedcurator/internal/config"
	"github.com/TobiSchelling/feedcurator/internal/gate"
	"github.com/TobiSchelling/feedcurator/internal/llm"
	"github.com/TobiSchelling/feedcurator/internal/store"
)

//go:embed prompts/*.md
var promptFS embed.FS

var (
	systemPrompt = mustRead("prompts/system.md")
	templates    = map[string]*template.Template{
		store.TypeNews:     template.Must(template.New("news").Parse(mustRead("prompts/news.md"))),
		store.TypeTutorial: template.Must(template.New("tutorial").Parse(mustRead("prompts/tutorial.md"))),
	}
)

func mustRead(name string) string {
	data, err := promptFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return strings.TrimSpace(string(data))
}

// Result holds the counters of a synthesis run.
type Result struct {
	Pending     int
	Summarized  int
	Failed      int
	DefaultType int
}

// Synthesizer runs the synthesis stage.
type Synthesizer struct {
	store    *store.Store
	gate     *gate.Gate
	provider llm.Provider
	cfg      config.Synthesis
	logger   *slog.Logger
}

// New creates a synthesizer. provider may be nil, in which case Run reports
// llm.ErrNotConfigured before touching any article.
func New(s *store.Store, provider llm.Provider, cfg config.Synthesis, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		store:    s,
		gate:     gate.New(s, 0),
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("stage", "synthesis"),
	}
}

// Run summarizes every article that has content but no summary. A failed or
// empty generation writes nothing, so the article stays pending.
func (sy *Synthesizer) Run(ctx context.Context) (*Result, error) {
	if sy.provider == nil {
		return nil, fmt.Errorf("synthesis: %w", llm.ErrNotConfigured)
	}

	pending, err := sy.gate.Pending(gate.Synthesis, "")
	if err != nil {
		return nil, fmt.Errorf("listing synthesis work: %w", err)
	}
	r := &Result{Pending: len(pending)}
	if len(pending) == 0 {
		sy.logger.Info("no articles pending synthesis")
		return r, nil
	}

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		err := sy.summarize(ctx, e, r)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r, ctxErr
		}
		if err != nil {
			r.Failed++
			sy.logger.Error("summary failed", "feed", e.Feed, "id", e.ID, "error", err)
			continue
		}
		r.Summarized++
	}

	sy.logger.Info("synthesis complete", "summarized", r.Summarized, "failed", r.Failed)
	return r, nil
}

func (sy *Synthesizer) summarize(ctx context.Context, e store.Entry, r *Result) error {
	content, err := sy.store.ReadContent(e.Feed, e.ID)
	if err != nil {
		return err
	}

	articleType := e.Record.ArticleType
	if _, ok := templates[articleType]; !ok {
		sy.logger.Warn("unknown article type, using tutorial", "feed", e.Feed, "id", e.ID, "article_type", articleType)
		articleType = store.TypeTutorial
		r.DefaultType++
	}

	prompt, err := BuildPrompt(articleType, e.Record.Title, content, sy.cfg.MaxInputChars)
	if err != nil {
		return err
	}

	text, err := sy.provider.Generate(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: sy.maxTokens(articleType),
	})
	if err != nil {
		return err
	}
	body := llm.StripCodeFence(text)
	if body == "" {
		return fmt.Errorf("empty summary")
	}

	data, err := RenderSummary(headerFor(e), body)
	if err != nil {
		return err
	}
	if err := sy.store.WriteSummary(e.Feed, e.ID, data); err != nil {
		return err
	}
	sy.logger.Info("summarized", "feed", e.Feed, "id", e.ID, "article_type", articleType)
	return nil
}

func (sy *Synthesizer) maxTokens(articleType string) int {
	if articleType == store.TypeNews {
		return sy.cfg.NewsMaxTokens
	}
	return sy.cfg.TutorialMaxTokens
}

// BuildPrompt fills the template for articleType with the title and content,
// truncating content to maxChars runes when maxChars is positive.
func BuildPrompt(articleType, title, content string, maxChars int) (string, error) {
	tmpl, ok := templates[articleType]
	if !ok {
		tmpl = templates[store.TypeTutorial]
	}
	if title == "" {
		title = "N/A"
	}
	if maxChars > 0 {
		if runes := []rune(content); len(runes) > maxChars {
			content = string(runes[:maxChars])
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Title, Content string }{title, content}); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", articleType, err)
	}
	return buf.String(), nil
}

func headerFor(e store.Entry) Header {
	orNA := func(s string) string {
		if s == "" {
			return "N/A"
		}
		return s
	}
	return Header{
		Title:     orNA(e.Record.Title),
		URL:       orNA(e.Record.URL),
		Author:    orNA(e.Record.Author),
		Published: orNA(e.Record.Published),
		Feed:      e.Feed,
	}
}
