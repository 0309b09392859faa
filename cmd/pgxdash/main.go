package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fentz26/pgxdash/internal/analyzer"
	"github.com/fentz26/pgxdash/internal/audit"
	"github.com/fentz26/pgxdash/internal/config"
	"github.com/fentz26/pgxdash/internal/connectors/biomed"
	"github.com/fentz26/pgxdash/internal/connectors/httpapi"
	"github.com/fentz26/pgxdash/internal/logging"
	"github.com/fentz26/pgxdash/internal/orchestrator"
	"github.com/fentz26/pgxdash/internal/progress"
	"github.com/fentz26/pgxdash/internal/service"
	"github.com/fentz26/pgxdash/internal/store"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pgxdash",
	Short: "pgxdash - clinical pharmacogenomics multi-gene dashboard",
	Long: `pgxdash analyzes several pharmacogenes concurrently against public
biomedical APIs and merges the per-gene results into one report.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pgxdash version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "pgxdash", version)
	},
}

var (
	configPath string
	dbPath     string
	logLevel   string

	cfg     *config.Config
	logFile *os.File
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: $PGXDASH_CONFIG or ./pgxdash.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides store.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	// The TUI owns the terminal, so its logs go to a file next to the database.
	if cmd == tuiCmd && cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(filepath.Dir(cfg.Store.Path), "tui.log")
	}

	lc := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		logFile, err = os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		lc.Output = logFile
		lc.Format = "json"
	}
	logging.Init(lc)
	return nil
}

// openService wires the store, upstream clients, gene pipeline and run
// service from cfg. The caller closes the returned store.
func openService(ctx context.Context) (*service.Service, *store.Store, error) {
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}

	var cache httpapi.Cache
	if cfg.Cache.Enabled {
		cache = st
		pruned, err := st.PruneCache(ctx, cfg.Cache.TTL)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to prune API cache")
		} else if pruned > 0 {
			logging.Debug().Int64("entries", pruned).Msg("Pruned stale API cache entries")
		}
	}

	clients := biomed.NewClients(cfg.API, cfg.Breaker, cache, cfg.Cache.TTL)
	pipeline := analyzer.NewPipeline(analyzer.SourcesFrom(clients), cfg.Analysis)
	svc := service.New(
		pipeline,
		st,
		audit.NewPDRWriter(st),
		orchestrator.ConfigFrom(cfg.Orchestrator),
		progress.ConfigFrom(cfg.Consumer),
	)
	return svc, st, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
