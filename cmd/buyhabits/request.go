package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/api"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/storage"
)

// requestCmd runs a prioritized request
func requestCmd() *cobra.Command {
	var (
		categories []string
		brand      string
		from       string
		to         string
		interest   string
		validate   bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Find the clients likely to buy categories or a brand",
		Long: `Each --categories flag is one group of comma separated categories,
queried in order of priority. A client appears in one query at most.`,
		Example: `  buyhabits request --categories FRUIT,VEGETABLE --categories ROOT \
    --brand BORNIBUS --from 2018-01-05 --to 2018-02-05 --interest fan --validate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			loc, err := e.cfg.Location()
			if err != nil {
				return err
			}

			params := core.RequestParams{
				Groups:   parseGroups(categories),
				Brand:    brand,
				Interest: core.InterestLevel(interest),
			}
			if params.From, err = api.ParseDate(from, loc); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if params.To, err = api.ParseDate(to, loc); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if err := params.Validate(); err != nil {
				return err
			}

			k, err := e.newKit()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			run, err := k.Request(ctx, params)
			if err != nil {
				return err
			}
			if err := storage.NewRunStore(e.db).Save(ctx, run); err != nil {
				e.logger.Warn("Failed to store run %s: %v", run.ID, err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}

			printRun(run, e.cfg.Dictionaries.Clients)

			if !validate {
				return nil
			}
			orders, err := storage.NewOrderStore(e.db).All(ctx)
			if err != nil {
				return err
			}
			validateRun(run, orders, loc)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&categories, "categories", nil, "comma separated category group, repeatable")
	cmd.Flags().StringVar(&brand, "brand", "", "brand to intersect with every group")
	cmd.Flags().StringVar(&from, "from", "", "window start, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&to, "to", "", "window end, YYYY-MM-DD (default from + 1 week)")
	cmd.Flags().StringVar(&interest, "interest", string(core.InterestInterested), "interested, fan or super_fan")
	cmd.Flags().BoolVar(&validate, "validate", false, "compare the results with the stored orders")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	cmd.MarkFlagRequired("from")

	return cmd
}

// parseGroups splits every flag value on commas, dropping empty names
func parseGroups(values []string) [][]string {
	var groups [][]string
	for _, value := range values {
		var group []string
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				group = append(group, name)
			}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

func printRun(run *core.RequestRun, clients map[string]string) {
	fmt.Printf("📋 Request %s\n", run.ID)
	for _, q := range run.Results {
		fmt.Printf("\n%s: %d clients\n", q.Name, len(q.Results))
		for _, r := range q.Results {
			name := r.ClientID
			if display, ok := clients[r.ClientID]; ok {
				name = fmt.Sprintf("%s (%s)", display, r.ClientID)
			}
			if r.Undecided {
				fmt.Printf("  • %s, not enough history\n", name)
				continue
			}
			fmt.Printf("  • %s %.2f%%\n", name, 100*r.Confidence)
		}
	}
}
