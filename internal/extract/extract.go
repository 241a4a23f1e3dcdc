// Package extract downloads article pages that passed the relevance gate and
// stores their main text as Markdown content artifacts.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/feedcurator/internal/config"
	"github.com/TobiSchelling/feedcurator/internal/gate"
	"github.com/TobiSchelling/feedcurator/internal/store"
)

// Elements removed before the article container is chosen.
const strippedElements = "script, style, nav, footer, header, aside, iframe, noscript"

// maxBodyBytes bounds how much of a page is read.
const maxBodyBytes = 10 << 20

// Result holds the counters of an extraction run.
type Result struct {
	Pending       int
	Extracted     int
	Failed        int
	DomainSkipped int
	NoURL         int
}

// HTTPError is returned for non-2xx document responses.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Extractor runs the extraction stage.
type Extractor struct {
	store     *store.Store
	gate      *gate.Gate
	cfg       config.Extraction
	client    *http.Client
	converter *md.Converter
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

// New creates an extractor. threshold is the relevance score an article
// needs before its page is fetched.
func New(s *store.Store, cfg config.Extraction, threshold float64, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Extractor{
		store: s,
		gate:  gate.New(s, threshold),
		cfg:   cfg,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		converter: md.NewConverter("", true, nil),
		sleep:     sleepContext,
		logger:    logger.With("stage", "extraction"),
	}
}

// Run fetches every gated article once. Failures leave the article without
// a content artifact so a later run retries it. After an HTTP error the rest
// of that domain is skipped for this run.
func (x *Extractor) Run(ctx context.Context) (*Result, error) {
	pending, err := x.gate.Pending(gate.Extraction, "")
	if err != nil {
		return nil, fmt.Errorf("listing extraction work: %w", err)
	}
	r := &Result{Pending: len(pending)}
	if len(pending) == 0 {
		x.logger.Info("no articles pending extraction")
		return r, nil
	}

	failedDomains := make(map[string]struct{})
	for i, e := range pending {
		if err := ctx.Err(); err != nil {
			return r, err
		}

		link := e.Record.URL
		if link == "" {
			r.NoURL++
			x.logger.Warn("record has no url", "feed", e.Feed, "id", e.ID)
			continue
		}
		domain := hostOf(link)
		if _, failed := failedDomains[domain]; failed && domain != "" {
			r.DomainSkipped++
			continue
		}

		text, err := x.Extract(ctx, link)
		switch {
		case err != nil:
			r.Failed++
			x.logger.Warn("extraction failed", "feed", e.Feed, "id", e.ID, "url", link, "error", err)
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && domain != "" {
				failedDomains[domain] = struct{}{}
			}
		case text == "":
			r.Failed++
			x.logger.Warn("no extractable text", "feed", e.Feed, "id", e.ID, "url", link)
		default:
			if err := x.store.WriteContent(e.Feed, e.ID, text); err != nil {
				r.Failed++
				x.logger.Error("saving content failed", "feed", e.Feed, "id", e.ID, "error", err)
			} else {
				r.Extracted++
				x.logger.Info("extracted", "feed", e.Feed, "id", e.ID, "chars", len(text))
			}
		}

		if i < len(pending)-1 && x.cfg.Delay() > 0 {
			if err := x.sleep(ctx, x.cfg.Delay()); err != nil {
				return r, err
			}
		}
	}

	x.logger.Info("extraction complete",
		"extracted", r.Extracted, "failed", r.Failed, "domain_skipped", r.DomainSkipped)
	return r, nil
}

// Extract fetches pageURL and returns its main content as Markdown, or as
// plain text in readability mode.
func (x *Extractor) Extract(ctx context.Context, pageURL string) (string, error) {
	body, err := x.fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	if x.cfg.Mode == config.ModeReadability {
		return readabilityText(body, pageURL)
	}
	return x.ContainerMarkdown(body)
}

func (x *Extractor) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	if x.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", x.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: pageURL}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// ContainerMarkdown strips page chrome, picks the first of article, main or
// body, and converts it to Markdown with runs of blank lines collapsed.
func (x *Extractor) ContainerMarkdown(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	doc.Find(strippedElements).Remove()

	var container *goquery.Selection
	for _, sel := range []string{"article", "main", "body"} {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			container = found
			break
		}
	}
	if container == nil {
		return "", nil
	}

	markdown := x.converter.Convert(container)
	return CollapseBlankLines(markdown), nil
}

func readabilityText(page []byte, pageURL string) (string, error) {
	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(page), parsedURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return CollapseBlankLines(article.TextContent), nil
}

// CollapseBlankLines reduces every run of blank lines to a single one and
// trims the result.
func CollapseBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	prevEmpty := false
	for _, line := range lines {
		empty := strings.TrimSpace(line) == ""
		if empty && prevEmpty {
			continue
		}
		if empty {
			line = ""
		}
		out = append(out, line)
		prevEmpty = empty
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func hostOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
