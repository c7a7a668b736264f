package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/logging"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/predict"
)

// Engine executes query plans against the oracle
type Engine struct {
	Oracle   oracle.Oracle
	Walker   *predict.Walker
	Location *time.Location

	// Concurrency bounds the agents walked at once
	Concurrency int
	// Limiter paces oracle calls; each agent costs two requests
	Limiter *rate.Limiter

	// IncludeUndecided reports agents without enough history with zero confidence
	IncludeUndecided bool

	// OnQuery, when set, is called after each query of the plan completes
	OnQuery func(index int, result core.AggregatedQuery)

	Logger *logging.Logger
}

// Run builds the plan for params and executes it sequentially. Every client
// matched by a query is withdrawn from the pool of the following ones.
// A zero params.To means one quantum after params.From.
func (e *Engine) Run(ctx context.Context, params core.RequestParams) ([]core.AggregatedQuery, error) {
	log := logging.OrDefault(e.Logger).Named("query")

	threshold := params.Interest.Threshold()
	from := oracle.StartOfDay(params.From, e.Location)
	to := from + oracle.Week
	if !params.To.IsZero() {
		to = oracle.StartOfDay(params.To, e.Location)
	}

	pool, err := e.Oracle.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	plan := BuildPlan(params.Groups, params.Brand)
	results := make([]core.AggregatedQuery, 0, len(plan))

	for i, q := range plan {
		aggregated := core.AggregatedQuery{Name: q.Name()}
		lists := make([][]core.QueryResult, len(q.Targets))

		for j, target := range q.Targets {
			slug := core.TargetSlug(target)
			aggregated.Queries = append(aggregated.Queries, core.TargetWindow{Target: slug, From: from, To: to})

			list, err := e.runTarget(ctx, pool, slug, from, to, threshold)
			if err != nil {
				return nil, fmt.Errorf("query %s: %w", aggregated.Name, err)
			}
			lists[j] = list
		}

		if q.Intersection && len(lists) > 1 {
			aggregated.Results = Intersection(lists[0], groupMembers(lists[1:]...))
		} else if q.Intersection {
			aggregated.Results = Intersection(lists...)
		} else {
			aggregated.Results = Union(lists...)
		}

		pool = withoutClients(pool, aggregated.ClientIDs())
		log.WithFields(map[string]interface{}{
			"matched":   len(aggregated.Results),
			"remaining": len(pool),
		}).Info("Query '%s' done", aggregated.Name)

		results = append(results, aggregated)
		if e.OnQuery != nil {
			e.OnQuery(i, aggregated)
		}
	}

	return results, nil
}

// runTarget walks every pool agent of the target and keeps the clients whose
// walk stopped above the threshold.
func (e *Engine) runTarget(ctx context.Context, pool []string, slug string, from, to int64, threshold float64) ([]core.QueryResult, error) {
	var agents, clients []string
	for _, key := range pool {
		if clientID, ok := core.ClientOf(key, slug); ok {
			agents = append(agents, key)
			clients = append(clients, clientID)
		}
	}
	if len(agents) == 0 {
		return []core.QueryResult{}, nil
	}

	found := make([]*core.QueryResult, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	if e.Concurrency > 0 {
		g.SetLimit(e.Concurrency)
	}

	for i, key := range agents {
		i, key := i, key
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if e.Limiter != nil {
				if err := e.Limiter.WaitN(gctx, 2); err != nil {
					return err
				}
			}

			clientID := clients[i]
			prediction, err := e.Walker.PredictAgent(gctx, e.Oracle, key, from, to, threshold)
			switch {
			case errors.Is(err, core.ErrInsufficientHistory):
				if e.IncludeUndecided {
					found[i] = &core.QueryResult{ClientID: clientID, Undecided: true}
				}
				return nil
			case err != nil:
				return fmt.Errorf("agent %s: %w", key, err)
			}

			if prediction.Confidence > threshold {
				found[i] = &core.QueryResult{ClientID: clientID, Confidence: prediction.Confidence}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []core.QueryResult{}
	for _, r := range found {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func withoutClients(pool []string, clientIDs []string) []string {
	if len(clientIDs) == 0 {
		return pool
	}
	matched := make(map[string]bool, len(clientIDs))
	for _, id := range clientIDs {
		matched[id] = true
	}

	kept := make([]string, 0, len(pool))
	for _, key := range pool {
		if !core.OwnedBy(key, matched) {
			kept = append(kept, key)
		}
	}
	return kept
}
