package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rankwatch/insight/internal/detect"
	"github.com/rankwatch/insight/internal/engine"
	"github.com/rankwatch/insight/internal/metrics"
)

var runScope string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a detection run",
	Long: `Run every enabled detector over the latest metric snapshot and persist
the findings. With --scope, only that property is analyzed; otherwise
every scope in the metric view is.

Forecast and similarity detection depend on external services (forecast
model, embedding provider) and are wired in by the hosting platform;
this CLI runs the self-contained detector families.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := openStore(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		reader, err := metrics.NewSQLiteReader(metricsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: opening metric view %s: %v\n", metricsPath, err)
			os.Exit(1)
		}
		defer reader.Close()

		registry := detect.NewRegistry()
		for _, d := range []detect.Detector{
			detect.NewThresholdDetector(),
			detect.NewTrendDetector(reader),
			detect.NewQualityDetector(),
			detect.NewDiagnosisDetector(store, newEventTable(metricsPath)),
		} {
			if err := registry.Register(d); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		e := engine.New(registry, reader, store, cfg, log.Default())
		report, err := e.Run(ctx, runScope)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: run failed: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\nRun %s (%d scope(s), %v)\n", report.RunID, len(report.Scopes), report.Duration.Round(time.Millisecond))
		for _, d := range report.Detectors {
			if d.Failed() {
				fmt.Printf("  %s %-12s %s\n", red("✗"), d.Detector, gray(d.Error))
				continue
			}
			fmt.Printf("  %s %-12s %d candidate(s), %d created, %d updated",
				green("✓"), d.Detector, d.Candidates, d.Created, d.Updated)
			if d.Skipped > 0 {
				fmt.Printf(", %d skipped", d.Skipped)
			}
			fmt.Println()
		}
		fmt.Printf("\n%d finding(s) created, %d refreshed\n", report.Created, report.Updated)
	},
}

func init() {
	runCmd.Flags().StringVar(&runScope, "scope", "", "Analyze a single scope (property) instead of all")
	rootCmd.AddCommand(runCmd)
}

// eventTable reads trigger events from an optional trigger_events table
// in the metric view database. The ingestion layer records deploys,
// content changes and algorithm updates there; when the table is absent
// the diagnosis detector simply sees no events.
type eventTable struct {
	path string
}

func newEventTable(path string) *eventTable {
	return &eventTable{path: path}
}

func (e *eventTable) Events(ctx context.Context, scope, entityID string, from, to time.Time) ([]detect.TriggerEvent, error) {
	db, err := sql.Open("sqlite3", e.path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening event table: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT event_type, description, occurred_at
		FROM trigger_events
		WHERE scope = ? AND (entity_id = ? OR entity_id = '')
		  AND occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at ASC
	`, scope, entityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying trigger events: %w", err)
	}
	defer rows.Close()

	var events []detect.TriggerEvent
	for rows.Next() {
		var ev detect.TriggerEvent
		if err := rows.Scan(&ev.Type, &ev.Description, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning trigger event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
