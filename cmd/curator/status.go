package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/feedcurator/internal/gate"
	"github.com/TobiSchelling/feedcurator/internal/ledger"
	"github.com/TobiSchelling/feedcurator/internal/server"
)

var (
	runsStage  string
	runsStatus string
	runsLimit  int
	servePort  int
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)

	runsCmd.Flags().StringVar(&runsStage, "stage", "", "Only runs of this stage")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Only runs with this status (running, ok, error)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default server.port)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state per feed and the latest runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openStore()
		g := gate.New(s, cfg.Relevance.Threshold)

		feeds, err := s.Feeds()
		if err != nil {
			return err
		}
		sort.Strings(feeds)

		fmt.Printf("Storage: %s\n", s.Root())
		fmt.Printf("Threshold: %.1f\n\n", g.Threshold())

		states := []gate.State{gate.Discovered, gate.Scored, gate.Extracted, gate.Synthesized}
		headers := []string{"Feed"}
		aligns := []columnAlignment{alignLeft}
		for _, st := range states {
			headers = append(headers, st.String())
			aligns = append(aligns, alignRight)
		}

		totals := make(map[gate.State]int)
		rows := make([][]string, 0, len(feeds)+1)
		for _, feed := range feeds {
			counts, err := g.Counts(feed)
			if err != nil {
				return err
			}
			row := []string{feed}
			for _, st := range states {
				row = append(row, strconv.Itoa(counts[st]))
				totals[st] += counts[st]
			}
			rows = append(rows, row)
		}
		if len(rows) == 0 {
			fmt.Println("No articles yet. Run 'curator discover' first.")
		} else {
			total := []string{"total"}
			for _, st := range states {
				total = append(total, strconv.Itoa(totals[st]))
			}
			rows = append(rows, total)
			fmt.Println(renderTable(os.Stdout, headers, rows, aligns))
		}

		db := openLedger()
		if db == nil {
			return nil
		}
		defer db.Close()
		runs, err := db.Recent(cmd.Context(), ledger.Filter{Limit: 5})
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			fmt.Println(runsTable(runs))
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the run ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db := openLedger()
		if db == nil {
			return fmt.Errorf("run ledger unavailable")
		}
		defer db.Close()

		runs, err := db.Recent(cmd.Context(), ledger.Filter{
			Stage:  runsStage,
			Status: runsStatus,
			Limit:  runsLimit,
		})
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		fmt.Println(runsTable(runs))
		return nil
	},
}

func runsTable(runs []ledger.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if d := r.Duration(); d > 0 {
			duration = d.Round(100 * time.Millisecond).String()
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Stage,
			r.Status,
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Failed),
			duration,
			shorten(r.Note, 50),
		})
	}
	return renderTable(os.Stdout,
		[]string{"Started", "Stage", "Status", "Processed", "OK", "Failed", "Took", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local review web server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		states, err := openStates()
		if err != nil {
			return err
		}
		srv, err := server.New(openStore(), states, cfg.Relevance.Threshold, logger)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.ListenAndServe(port)
	},
}
