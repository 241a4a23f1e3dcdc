package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/feedcurator/internal/config"
	"github.com/TobiSchelling/feedcurator/internal/ledger"
	"github.com/TobiSchelling/feedcurator/internal/logging"
	"github.com/TobiSchelling/feedcurator/internal/pipeline"
	"github.com/TobiSchelling/feedcurator/internal/store"
	"github.com/TobiSchelling/feedcurator/internal/userstate"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "curator",
	Short:   "Curate articles from RSS feeds into reading summaries",
	Long:    "curator discovers feed entries, judges their relevance, extracts the worthwhile ones and writes summaries you can review.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.New("info")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(level)
		slog.SetDefault(logger)
		logger.Debug("config loaded", "path", path, "root", cfg.Storage.Root)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (.yaml or .toml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("curator", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/curator/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, interests and the LLM provider.")
		return nil
	},
}

func openStore() *store.Store {
	return store.New(cfg.Storage.Root, logger)
}

// openLedger returns nil when the ledger cannot be opened; runs then go
// unrecorded.
func openLedger() *ledger.DB {
	db, err := ledger.Open(filepath.Join(cfg.Storage.Root, store.LedgerFile), logger)
	if err != nil {
		logger.Warn("run ledger unavailable", "error", err)
		return nil
	}
	return db
}

func openStates() (*userstate.Store, error) {
	states, err := userstate.Open(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("opening user state: %w", err)
	}
	return states, nil
}

// withPipeline builds a pipeline over the configured root and closes the
// ledger afterwards.
func withPipeline(fn func(p *pipeline.Pipeline) error) error {
	db := openLedger()
	if db != nil {
		defer db.Close()
	}
	return fn(pipeline.New(cfg, openStore(), db, logger))
}
