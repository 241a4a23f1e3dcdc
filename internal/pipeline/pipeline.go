// Package pipeline runs the curation stages under their invocation locks and
// records each run in the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TobiSchelling/feedcurator/internal/config"
	"github.com/TobiSchelling/feedcurator/internal/discover"
	"github.com/TobiSchelling/feedcurator/internal/extract"
	"github.com/TobiSchelling/feedcurator/internal/gate"
	"github.com/TobiSchelling/feedcurator/internal/ledger"
	"github.com/TobiSchelling/feedcurator/internal/llm"
	"github.com/TobiSchelling/feedcurator/internal/lock"
	"github.com/TobiSchelling/feedcurator/internal/logging"
	"github.com/TobiSchelling/feedcurator/internal/relevance"
	"github.com/TobiSchelling/feedcurator/internal/retention"
	"github.com/TobiSchelling/feedcurator/internal/store"
	"github.com/TobiSchelling/feedcurator/internal/synthesize"
)

// Stage and maintenance names used for locks and ledger rows.
const (
	StageDiscovery  = "discovery"
	StageRelevance  = string(gate.Relevance)
	StageExtraction = string(gate.Extraction)
	StageSynthesis  = string(gate.Synthesis)
	StageSweep      = "sweep"
	StageReset      = "reset-failed"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name      string
	Summary   string
	Processed int
	Succeeded int
	Failed    int
	RunID     string
	Err       error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Pipeline orchestrates the four curation stages over one storage root.
type Pipeline struct {
	cfg    *config.Config
	store  *store.Store
	ledger *ledger.DB
	logger *slog.Logger

	// provider, when set, replaces the per-stage providers built from cfg.LLM.
	provider llm.Provider
}

// New creates a pipeline. db may be nil, in which case runs are not recorded.
func New(cfg *config.Config, s *store.Store, db *ledger.DB, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, store: s, ledger: db, logger: logger}
}

// WithProvider makes every LLM stage use provider.
func (p *Pipeline) WithProvider(provider llm.Provider) *Pipeline {
	p.provider = provider
	return p
}

// Run executes Discovery, Relevance, Extraction and Synthesis in order. A
// failed step does not stop the later ones; each gates on what is on disk.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{}
	for _, step := range []func(context.Context) StepResult{
		p.Discover, p.Judge, p.Extract, p.Synthesize,
	} {
		if ctx.Err() != nil {
			break
		}
		r.Steps = append(r.Steps, step(ctx))
	}
	return r
}

// Discover runs the discovery stage.
func (p *Pipeline) Discover(ctx context.Context) StepResult {
	return p.step(ctx, StageDiscovery, func(ctx context.Context, sr *StepResult) error {
		res, err := discover.New(p.store, p.cfg, p.logger).Run(ctx)
		if err != nil {
			return err
		}
		sr.Processed, sr.Succeeded, sr.Failed = res.Found, res.New+res.Updated, res.FeedErrors
		sr.Summary = fmt.Sprintf("%d feeds, %d entries: %d new, %d updated, %d too old, %d undated, %d feed errors, %d swept",
			res.Feeds, res.Found, res.New, res.Updated, res.TooOld, res.Undated, res.FeedErrors, res.Swept)
		return nil
	})
}

// Judge runs the relevance stage.
func (p *Pipeline) Judge(ctx context.Context) StepResult {
	return p.step(ctx, StageRelevance, func(ctx context.Context, sr *StepResult) error {
		provider, err := p.providerFor(p.cfg.Relevance.Model)
		if err != nil {
			return err
		}
		res, err := relevance.New(p.store, provider, p.cfg.Relevance, p.logger).Run(ctx)
		if err != nil {
			return err
		}
		sr.Processed, sr.Succeeded, sr.Failed = res.Pending, res.Scored, res.Failed
		sr.Summary = fmt.Sprintf("scored %d of %d, %d at or above threshold, %d failed",
			res.Scored, res.Pending, res.AboveThreshold, res.Failed)
		return nil
	})
}

// Extract runs the extraction stage.
func (p *Pipeline) Extract(ctx context.Context) StepResult {
	return p.step(ctx, StageExtraction, func(ctx context.Context, sr *StepResult) error {
		res, err := extract.New(p.store, p.cfg.Extraction, p.cfg.Relevance.Threshold, p.logger).Run(ctx)
		if err != nil {
			return err
		}
		sr.Processed, sr.Succeeded, sr.Failed = res.Pending, res.Extracted, res.Failed+res.DomainSkipped+res.NoURL
		sr.Summary = fmt.Sprintf("extracted %d of %d, %d failed, %d skipped after domain errors, %d without url",
			res.Extracted, res.Pending, res.Failed, res.DomainSkipped, res.NoURL)
		return nil
	})
}

// Synthesize runs the synthesis stage.
func (p *Pipeline) Synthesize(ctx context.Context) StepResult {
	return p.step(ctx, StageSynthesis, func(ctx context.Context, sr *StepResult) error {
		provider, err := p.providerFor(p.cfg.Synthesis.Model)
		if err != nil {
			return err
		}
		res, err := synthesize.New(p.store, provider, p.cfg.Synthesis, p.logger).Run(ctx)
		if err != nil {
			return err
		}
		sr.Processed, sr.Succeeded, sr.Failed = res.Pending, res.Summarized, res.Failed
		sr.Summary = fmt.Sprintf("summarized %d of %d, %d failed", res.Summarized, res.Pending, res.Failed)
		if res.DefaultType > 0 {
			sr.Summary += fmt.Sprintf(", %d defaulted to tutorial", res.DefaultType)
		}
		return nil
	})
}

// Sweep deletes articles whose published date is older than days. A
// non-positive days uses cleanup.retention_days.
func (p *Pipeline) Sweep(ctx context.Context, days int, dryRun bool) (*retention.Result, StepResult) {
	if days <= 0 {
		days = p.cfg.Cleanup.RetentionDays
	}
	var out *retention.Result
	sr := p.step(ctx, StageSweep, func(ctx context.Context, sr *StepResult) error {
		res, err := retention.NewSweeper(p.store, days, dryRun, p.logger).Sweep(ctx)
		if err != nil {
			return err
		}
		out = res
		sr.Processed, sr.Succeeded, sr.Failed = res.Examined, res.Deleted, res.Errors
		verb := "deleted"
		if dryRun {
			verb = "would delete"
			sr.Succeeded = len(res.Candidates)
		}
		sr.Summary = fmt.Sprintf("examined %d, %s %d (%d files), %d unparseable dates kept",
			res.Examined, verb, len(res.Candidates), res.FilesRemoved, res.Unparseable)
		return nil
	})
	return out, sr
}

// ResetFailed clears relevance fields of records whose judgment failed.
func (p *Pipeline) ResetFailed(ctx context.Context) StepResult {
	// Shares the relevance lock: both rewrite the same fields.
	return p.stepWithLock(ctx, StageReset, StageRelevance, func(_ context.Context, sr *StepResult) error {
		n, err := relevance.ResetFailed(p.store, p.logger)
		if err != nil {
			return err
		}
		sr.Processed, sr.Succeeded = n, n
		sr.Summary = fmt.Sprintf("reset %d failed judgments", n)
		return nil
	})
}

func (p *Pipeline) providerFor(model string) (llm.Provider, error) {
	if p.provider != nil {
		return p.provider, nil
	}
	return llm.New(p.cfg.LLM, model, p.logger)
}

func (p *Pipeline) step(ctx context.Context, name string, fn func(context.Context, *StepResult) error) StepResult {
	return p.stepWithLock(ctx, name, name, fn)
}

func (p *Pipeline) stepWithLock(ctx context.Context, name, lockName string, fn func(context.Context, *StepResult) error) StepResult {
	sr := StepResult{Name: name}
	logger := p.logger.With(logging.FieldStage, name)

	l, err := lock.Acquire(p.store.Root(), lockName)
	if err != nil {
		sr.Err = err
		return sr
	}
	defer func() {
		if err := l.Release(); err != nil {
			logger.Warn("lock release failed", "error", err)
		}
	}()

	run := p.begin(ctx, name, logger)
	if run != nil {
		logger = logger.With(logging.FieldRunID, run.ID)
		sr.RunID = run.ID
	}
	logger.Info("stage started")

	sr.Err = fn(ctx, &sr)
	if sr.Err != nil {
		logger.Error("stage failed", "error", sr.Err)
	} else {
		logger.Info("stage finished", "processed", sr.Processed, "succeeded", sr.Succeeded, "failed", sr.Failed)
	}

	p.finish(ctx, run, sr, logger)
	return sr
}

// Ledger errors are logged and never fail a stage.
func (p *Pipeline) begin(ctx context.Context, name string, logger *slog.Logger) *ledger.Run {
	if p.ledger == nil {
		return nil
	}
	run, err := p.ledger.Begin(ctx, name)
	if err != nil {
		logger.Warn("ledger begin failed", "error", err)
		return nil
	}
	return run
}

func (p *Pipeline) finish(ctx context.Context, run *ledger.Run, sr StepResult, logger *slog.Logger) {
	if p.ledger == nil || run == nil {
		return
	}
	run.Processed, run.Succeeded, run.Failed = sr.Processed, sr.Succeeded, sr.Failed
	run.Status = ledger.StatusOK
	run.Note = sr.Summary
	if sr.Err != nil {
		run.Status = ledger.StatusError
		run.Note = sr.Err.Error()
	}
	// The stage context may already be cancelled; the row should still close.
	if err := p.ledger.Finish(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("ledger finish failed", "error", err)
	}
}

// IsNotConfigured reports whether err means the LLM provider lacks credentials.
func IsNotConfigured(err error) bool {
	return errors.Is(err, llm.ErrNotConfigured)
}
