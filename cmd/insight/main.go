// Command insight is the operator surface for the detection engine:
// trigger runs, inspect findings, move them through their lifecycle,
// and diagnose environment problems.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/repo"
	"github.com/rankwatch/insight/internal/repo/sqlite"
)

var (
	dbPath      string
	metricsPath string
	configPath  string
	verbose     bool

	// store is opened lazily by commands that need the findings database.
	store repo.Repository
)

var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "Detection engine for search-performance findings",
	Long: `insight watches the per-entity metric view for risks, opportunities,
trends and likely causes, and persists what it finds as deduplicated,
lifecycle-tracked findings.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "insight.db", "Path to the findings database")
	rootCmd.PersistentFlags().StringVar(&metricsPath, "metrics", "metrics.db", "Path to the read-only metric view database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to engine config YAML (defaults used when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// openStore opens the findings database, failing the command on error.
func openStore() error {
	r, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening findings database %s: %w", dbPath, err)
	}
	store = r
	return nil
}

// loadConfig returns the engine config, from file when --config is set.
func loadConfig() (config.EngineConfig, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
