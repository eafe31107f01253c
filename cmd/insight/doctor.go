package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rankwatch/insight/internal/metrics"
	"github.com/rankwatch/insight/internal/repo/sqlite"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check installation and environment health",
	Long: `Run health checks to diagnose common configuration and environment issues.

This command checks for:
- Findings database existence and accessibility
- Metric view existence, expected tables, and freshness
- Engine config validity
- Scope discovery

Exit codes:
  0 - All checks passed
  1 - One or more checks failed (but not critical)
  2 - Critical failures that prevent the engine from running`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running insight health checks...\n\n")

		var warnings []string
		var criticalFailures []string

		// Check 1: Findings database
		fmt.Printf("%s Findings database\n", cyan("→"))
		if r, err := sqlite.New(dbPath); err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Cannot open findings database: %v", err))
			fmt.Printf("  %s Cannot open %s\n", red("✗"), dbPath)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			stats, err := r.Statistics(ctx)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("Findings database opened but query failed: %v", err))
				fmt.Printf("  %s Opened but query failed\n", yellow("⚠"))
			} else {
				fmt.Printf("  %s %s (%d findings)\n", green("✓"), dbPath, stats.TotalFindings)
			}
			r.Close()
		}

		// Check 2: Metric view
		fmt.Printf("%s Metric view\n", cyan("→"))
		if info, err := os.Stat(metricsPath); err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Cannot access metric view: %v", err))
			fmt.Printf("  %s Cannot access %s\n", red("✗"), metricsPath)
		} else {
			fmt.Printf("  %s %s (%d bytes)\n", green("✓"), metricsPath, info.Size())
			if info.Size() == 0 {
				warnings = append(warnings, "Metric view is empty (0 bytes)")
				fmt.Printf("  %s WARNING: metric view is empty\n", yellow("⚠"))
			}
			checkMetricTables(ctx, &warnings, &criticalFailures)
		}

		// Check 3: Scope discovery
		fmt.Printf("%s Scope discovery\n", cyan("→"))
		if reader, err := metrics.NewSQLiteReader(metricsPath); err != nil {
			fmt.Printf("  %s Cannot open metric view reader\n", red("✗"))
		} else {
			scopes, err := reader.Scopes(ctx)
			switch {
			case err != nil:
				warnings = append(warnings, fmt.Sprintf("Scope listing failed: %v", err))
				fmt.Printf("  %s Scope listing failed\n", yellow("⚠"))
			case len(scopes) == 0:
				warnings = append(warnings, "No scopes found; runs will be no-ops")
				fmt.Printf("  %s No scopes found\n", yellow("⚠"))
			default:
				fmt.Printf("  %s %d scope(s)\n", green("✓"), len(scopes))
				if verbose {
					for _, sc := range scopes {
						fmt.Printf("    %s\n", sc)
					}
				}
			}
			reader.Close()
		}

		// Check 4: Engine config
		fmt.Printf("%s Engine config\n", cyan("→"))
		if configPath == "" {
			fmt.Printf("  %s No config file; built-in defaults\n", green("✓"))
		} else if _, err := loadConfig(); err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Config invalid: %v", err))
			fmt.Printf("  %s %s is invalid\n", red("✗"), configPath)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			fmt.Printf("  %s %s\n", green("✓"), configPath)
		}

		// Summary
		fmt.Println()
		switch {
		case len(criticalFailures) > 0:
			fmt.Printf("%s %d critical failure(s) prevent the engine from running\n", red("✗"), len(criticalFailures))
			for _, f := range criticalFailures {
				fmt.Printf("  - %s\n", f)
			}
			os.Exit(2)
		case len(warnings) > 0:
			fmt.Printf("%s %d warning(s)\n", yellow("⚠"), len(warnings))
			for _, w := range warnings {
				fmt.Printf("  - %s\n", w)
			}
			os.Exit(1)
		default:
			fmt.Printf("%s All checks passed\n", green("✓"))
		}
	},
}

// checkMetricTables verifies the tables the readers expect exist, and
// that the view has been refreshed recently.
func checkMetricTables(ctx context.Context, warnings, criticalFailures *[]string) {
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	db, err := sql.Open("sqlite3", metricsPath+"?mode=ro")
	if err != nil {
		*criticalFailures = append(*criticalFailures, fmt.Sprintf("Cannot open metric view: %v", err))
		return
	}
	defer db.Close()

	for _, table := range []string{"metric_daily", "page_query_clicks"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err == sql.ErrNoRows {
			*criticalFailures = append(*criticalFailures, fmt.Sprintf("Metric view is missing table %s", table))
			fmt.Printf("  %s Missing table %s\n", red("✗"), table)
			continue
		}
		if err != nil {
			*warnings = append(*warnings, fmt.Sprintf("Table check for %s failed: %v", table, err))
			continue
		}
		fmt.Printf("  %s Table %s present\n", green("✓"), table)
	}

	var latest sql.NullTime
	if err := db.QueryRowContext(ctx, "SELECT MAX(date) FROM metric_daily").Scan(&latest); err == nil && latest.Valid {
		age := time.Since(latest.Time)
		if age > 72*time.Hour {
			*warnings = append(*warnings, fmt.Sprintf("Metric view is stale: newest row is %v old", age.Round(time.Hour)))
			fmt.Printf("  %s Newest row is %v old\n", yellow("⚠"), age.Round(time.Hour))
		} else {
			fmt.Printf("  %s Fresh (newest row %s)\n", green("✓"), latest.Time.Format(time.DateOnly))
		}
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
