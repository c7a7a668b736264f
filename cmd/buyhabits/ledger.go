package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/ledger"
)

// ledgerCmd inspects the audit trail
func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the audit trail",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			count, err := e.ledger.Count(ctx)
			if err != nil {
				return err
			}
			if err := e.ledger.VerifyChain(ctx); err != nil {
				fmt.Printf("❌ Chain broken: %v\n", err)
				return err
			}
			fmt.Printf("✅ Chain valid, %d entries\n", count)
			return nil
		},
	})

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := e.ledger.GetRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Printf("%s  %-17s %-6s %s/%s\n",
					entry.Timestamp.Format("2006-01-02 15:04:05"),
					entry.Action, entry.Actor, entry.EntityType, entry.EntityID)
			}
			return nil
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.AddCommand(recent)

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Count entries by action and actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			summary, err := e.ledger.GetSummary(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(summary)
			return nil
		},
	})

	return cmd
}

func printSummary(s *ledger.Summary) {
	fmt.Printf("Entries: %d (chain valid: %t)\n", s.TotalEntries, s.ChainValid)
	fmt.Println("By action:")
	for action, n := range s.ByAction {
		fmt.Printf("  %-17s %d\n", action, n)
	}
	fmt.Println("By actor:")
	for actor, n := range s.ByActor {
		fmt.Printf("  %-17s %d\n", actor, n)
	}
}
