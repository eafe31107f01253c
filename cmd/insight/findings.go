package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rankwatch/insight/internal/types"
)

var (
	findingsScope    string
	findingsCategory string
	findingsSeverity string
	findingsStatus   string
	findingsEntity   string
	findingsLimit    int
	findingsStats    bool
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "List findings",
	Long:  `List findings, newest first, optionally filtered by scope, category, severity, status or entity.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if err := openStore(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		if findingsStats {
			printStatistics(ctx)
			return
		}

		filter := types.FindingFilter{Limit: findingsLimit}
		if findingsScope != "" {
			filter.Scope = &findingsScope
		}
		if findingsCategory != "" {
			c := types.Category(findingsCategory)
			if !c.IsValid() {
				fmt.Fprintf(os.Stderr, "Error: invalid category %q\n", findingsCategory)
				os.Exit(1)
			}
			filter.Category = &c
		}
		if findingsSeverity != "" {
			s := types.Severity(findingsSeverity)
			if !s.IsValid() {
				fmt.Fprintf(os.Stderr, "Error: invalid severity %q\n", findingsSeverity)
				os.Exit(1)
			}
			filter.Severity = &s
		}
		if findingsStatus != "" {
			s := types.Status(findingsStatus)
			if !s.IsValid() {
				fmt.Fprintf(os.Stderr, "Error: invalid status %q\n", findingsStatus)
				os.Exit(1)
			}
			filter.Status = &s
		}
		if findingsEntity != "" {
			filter.EntityID = &findingsEntity
		}

		findings, err := store.Query(ctx, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(findings) == 0 {
			fmt.Println("No findings match.")
			return
		}

		for _, f := range findings {
			printFinding(f)
		}
		fmt.Printf("\n%d finding(s)\n", len(findings))
	},
}

func printFinding(f *types.Finding) {
	severityColor := color.New(color.FgHiBlack).SprintFunc()
	switch f.Severity {
	case types.SeverityHigh:
		severityColor = color.New(color.FgRed, color.Bold).SprintFunc()
	case types.SeverityMedium:
		severityColor = color.New(color.FgYellow).SprintFunc()
	case types.SeverityLow:
		severityColor = color.New(color.FgGreen).SprintFunc()
	}
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("%s [%s/%s] %s\n", severityColor(string(f.Severity)), f.Category, f.Status, f.Title)
	fmt.Printf("  %s %s %s  conf %.2f  %s\n",
		gray(f.ID[:12]), f.EntityType, f.EntityID, f.Confidence,
		f.UpdatedAt.Format(time.DateOnly))
	if f.LinkedFindingID != "" {
		fmt.Printf("  %s %s\n", gray("linked:"), f.LinkedFindingID[:12])
	}
}

func printStatistics(ctx context.Context) {
	stats, err := store.Statistics(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("%s\n", cyan("Findings"))
	fmt.Printf("  Total: %d\n", stats.TotalFindings)

	fmt.Println("  By category:")
	for _, c := range []types.Category{types.CategoryRisk, types.CategoryOpportunity, types.CategoryDiagnosis, types.CategoryTrend} {
		if n := stats.ByCategory[c]; n > 0 {
			fmt.Printf("    %-12s %d\n", c, n)
		}
	}
	fmt.Println("  By severity:")
	for _, s := range []types.Severity{types.SeverityHigh, types.SeverityMedium, types.SeverityLow} {
		if n := stats.BySeverity[s]; n > 0 {
			fmt.Printf("    %-12s %d\n", s, n)
		}
	}
	fmt.Println("  By status:")
	for _, s := range []types.Status{types.StatusNew, types.StatusInvestigating, types.StatusDiagnosed, types.StatusActioned, types.StatusResolved, types.StatusCancelled} {
		if n := stats.ByStatus[s]; n > 0 {
			fmt.Printf("    %-13s %d\n", s, n)
		}
	}
}

func init() {
	findingsCmd.Flags().StringVar(&findingsScope, "scope", "", "Filter by scope")
	findingsCmd.Flags().StringVar(&findingsCategory, "category", "", "Filter by category (risk, opportunity, diagnosis, trend)")
	findingsCmd.Flags().StringVar(&findingsSeverity, "severity", "", "Filter by severity (low, medium, high)")
	findingsCmd.Flags().StringVar(&findingsStatus, "status", "", "Filter by status")
	findingsCmd.Flags().StringVar(&findingsEntity, "entity", "", "Filter by entity ID")
	findingsCmd.Flags().IntVar(&findingsLimit, "limit", 50, "Maximum findings to list (0 = all)")
	findingsCmd.Flags().BoolVar(&findingsStats, "stats", false, "Show aggregate counts instead of a listing")
	rootCmd.AddCommand(findingsCmd)
}
