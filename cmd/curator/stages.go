package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/feedcurator/internal/pipeline"
)

func init() {
	rootCmd.AddCommand(stageCmd("discover", "Fetch feeds and record new entries", (*pipeline.Pipeline).Discover))
	rootCmd.AddCommand(stageCmd("judge", "Score unscored articles with the LLM", (*pipeline.Pipeline).Judge))
	rootCmd.AddCommand(stageCmd("extract", "Download article text for relevant articles", (*pipeline.Pipeline).Extract))
	rootCmd.AddCommand(stageCmd("synthesize", "Summarize extracted articles", (*pipeline.Pipeline).Synthesize))
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(resetFailedCmd)

	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "List what would be deleted without deleting")
	sweepCmd.Flags().IntVar(&sweepDays, "days", 0, "Retention window in days (default cleanup.retention_days)")
}

type stageFunc func(*pipeline.Pipeline, context.Context) pipeline.StepResult

func stageCmd(use, short string, run stageFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(func(p *pipeline.Pipeline) error {
				step := run(p, cmd.Context())
				printStep(step)
				return stepError(step)
			})
		},
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all stages: discover -> judge -> extract -> synthesize",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(p *pipeline.Pipeline) error {
			result := p.Run(cmd.Context())
			for i, step := range result.Steps {
				fmt.Printf("\nStep %d/4: %s\n", i+1, step.Name)
				printStep(step)
			}
			if result.Failed() {
				return errors.New("one or more steps failed")
			}
			fmt.Println("\nPipeline complete. Run 'curator review' or 'curator serve' to read.")
			return nil
		})
	},
}

var (
	sweepDryRun bool
	sweepDays   int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete articles published before the retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(p *pipeline.Pipeline) error {
			res, step := p.Sweep(cmd.Context(), sweepDays, sweepDryRun)
			if step.Err != nil {
				return step.Err
			}
			if len(res.Candidates) > 0 {
				rows := make([][]string, 0, len(res.Candidates))
				for _, c := range res.Candidates {
					rows = append(rows, []string{c.Feed, c.ID, c.Published.Format("2006-01-02"), shorten(c.Title, 60)})
				}
				fmt.Println(renderTable(os.Stdout, []string{"Feed", "ID", "Published", "Title"}, rows, nil))
			}
			printStep(step)
			return nil
		})
	},
}

var resetFailedCmd = &cobra.Command{
	Use:   "reset-failed",
	Short: "Clear failed relevance judgments so the next judge run retries them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(p *pipeline.Pipeline) error {
			step := p.ResetFailed(cmd.Context())
			printStep(step)
			return stepError(step)
		})
	},
}

func printStep(step pipeline.StepResult) {
	if step.Err != nil {
		fmt.Printf("  Error: %v\n", step.Err)
		if pipeline.IsNotConfigured(step.Err) {
			fmt.Println("  Set the API key environment variable named in the llm section of your config.")
		}
		return
	}
	fmt.Printf("  %s\n", step.Summary)
}

func stepError(step pipeline.StepResult) error {
	if step.Err != nil {
		return fmt.Errorf("%s failed: %w", step.Name, step.Err)
	}
	return nil
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
