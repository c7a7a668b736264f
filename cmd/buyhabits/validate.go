package main

import (
	"os"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/report"
)

// validateRun compares every queried window of run with the orders that
// actually happened
func validateRun(run *core.RequestRun, orders []core.Order, loc *time.Location) report.Summary {
	p := report.NewPrinter(os.Stdout)
	var total report.Summary

	for _, q := range run.Results {
		for _, window := range q.Queries {
			agentType := core.AgentTypeCategory
			if window.Target == run.Params.Brand {
				agentType = core.AgentTypeBrand
			}

			measures := report.Compare(orders, agentType, window, q.Results, loc)
			s := report.Summarize(measures)

			os.Stdout.WriteString("\n")
			p.Header(q.Name, window)
			for _, m := range measures {
				p.Print(m)
			}
			p.PrintSummary(s)

			total.Hits += s.Hits
			total.Near += s.Near
			total.Missed += s.Missed
		}
	}

	os.Stdout.WriteString("\nTotal:\n")
	p.PrintSummary(total)
	return total
}
