package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rankwatch/insight/internal/repo"
	"github.com/rankwatch/insight/internal/types"
)

var transitionActor string

var transitionCmd = &cobra.Command{
	Use:   "transition <finding-id> <status>",
	Short: "Move a finding through its lifecycle",
	Long: `Apply a manual status transition to a finding.

Valid edges: new → investigating → diagnosed → actioned → resolved, and
any pre-terminal status → cancelled. Terminal findings can only be
re-opened by the engine re-detecting the condition.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		id, next := args[0], types.Status(args[1])

		if err := openStore(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		updated, err := store.TransitionStatus(ctx, id, next, transitionActor)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			fmt.Fprintf(os.Stderr, "Error: no finding with ID %s\n", id)
			os.Exit(1)
		case errors.Is(err, repo.ErrInvalidTransition):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s → %s\n", green("✓"), updated.ID, updated.Status)
	},
}

func init() {
	transitionCmd.Flags().StringVar(&transitionActor, "actor", "cli", "Actor recorded in the audit trail")
	rootCmd.AddCommand(transitionCmd)
}
