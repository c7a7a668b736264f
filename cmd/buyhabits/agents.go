package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/ledger"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/storage"
)

// importCmd stores orders from a JSON file
func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <orders.json>",
		Short: "Import orders from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var orders []core.Order
			if err := json.Unmarshal(data, &orders); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			store := storage.NewOrderStore(e.db)
			imported, err := store.Import(ctx, orders)
			if err != nil {
				return err
			}
			if imported > 0 {
				if err := ledger.NewRecorder(e.ledger, ledger.ActorUser).OrdersImported(ctx, args[0], imported); err != nil {
					e.logger.Warn("Failed to record import: %v", err)
				}
			}
			total, _ := store.Count(ctx)

			fmt.Printf("✅ Imported %d new orders (%d read, %d stored)\n", imported, len(orders), total)
			return nil
		},
	}
}

// updateCmd feeds the stored orders to the agents
func updateCmd() *cobra.Command {
	var agentType string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the agents with every stored order",
		Long: `Creates the missing agents and appends the new samples of every
stored order. Running it twice with the same orders adds nothing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := core.ParseAgentType(agentType); err != nil {
				return err
			}

			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			k, err := e.newKit()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			orders, err := storage.NewOrderStore(e.db).All(ctx)
			if err != nil {
				return err
			}
			if len(orders) == 0 {
				fmt.Println("No order stored. Run 'buyhabits import' first.")
				return nil
			}

			if err := k.Update(ctx, orders, agentType); err != nil {
				return err
			}
			fmt.Printf("✅ Updated %s agents from %d orders\n", agentType, len(orders))
			return nil
		},
	}

	cmd.Flags().StringVar(&agentType, "type", "all", "agents to update: category, brand or all")
	return cmd
}

// destroyCmd deletes every agent of the project
func destroyCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every agent of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm("Delete every agent of the project?") {
				fmt.Println("Aborted.")
				return nil
			}

			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			k, err := e.newKit()
			if err != nil {
				return err
			}

			count, err := k.Destroy(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("🗑️  Deleted %d agents\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
