// Package kit is the public surface of the buying habits kit: it feeds
// orders to the per-client models, runs prioritized requests over them and
// destroys every model on demand.
package kit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/logging"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/pipeline"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/predict"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/query"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/resample"
)

// Auditor records the kit's side effects. Failures are logged, never returned.
type Auditor interface {
	AgentCreated(ctx context.Context, agentKey, clientID, target string) error
	AgentUpdated(ctx context.Context, agentKey string, operations int) error
	AgentsDestroyed(ctx context.Context, count int) error
	RequestExecuted(ctx context.Context, run *core.RequestRun) error
}

// Publisher forwards the results of a request to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, runID string, results []core.AggregatedQuery) error
}

// Observer receives progress events as they happen
type Observer interface {
	Notify(event Event)
}

// EventType identifies a progress event
type EventType string

const (
	EventAgentCreated     EventType = "agent.created"
	EventAgentUpdated     EventType = "agent.updated"
	EventQueryCompleted   EventType = "query.completed"
	EventRequestCompleted EventType = "request.completed"
	EventAgentsDestroyed  EventType = "agents.destroyed"
)

// Event is a progress notification
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	RunID     string      `json:"runId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Config for the kit
type Config struct {
	// Location is the timezone orders are bucketed in
	Location *time.Location

	ChunkSize         int
	RequestsPerSecond float64
	Concurrency       int

	// Source thins the negative samples
	Source resample.Source

	// IncludeUndecided keeps clients without enough history in request results
	IncludeUndecided bool

	// Clients and Categories map ids to display names for log lines
	Clients    map[string]string
	Categories map[string]string
}

// DefaultConfig returns the default kit configuration
func DefaultConfig() Config {
	defaults := pipeline.DefaultConfig()
	return Config{
		Location:          defaults.Location,
		ChunkSize:         defaults.ChunkSize,
		RequestsPerSecond: defaults.RequestsPerSecond,
		Concurrency:       defaults.Concurrency,
		Source:            resample.DefaultSource(),
		IncludeUndecided:  true,
	}
}

// Option configures a Kit
type Option func(*Kit)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(k *Kit) { k.logger = l }
}

// WithAuditor records side effects in an audit trail
func WithAuditor(a Auditor) Option {
	return func(k *Kit) { k.auditor = a }
}

// WithPublisher forwards request results
func WithPublisher(p Publisher) Option {
	return func(k *Kit) { k.publisher = p }
}

// WithObserver streams progress events
func WithObserver(o Observer) Option {
	return func(k *Kit) { k.observer = o }
}

// WithDecider replaces the local decision tree evaluator
func WithDecider(d oracle.Decider) Option {
	return func(k *Kit) { k.decider = d }
}

// Kit ties the oracle, the update pipeline and the query engine together
type Kit struct {
	oracle  oracle.Oracle
	cfg     Config
	decider oracle.Decider
	limiter *rate.Limiter

	logger    *logging.Logger
	auditor   Auditor
	publisher Publisher
	observer  Observer
}

// New creates a kit. Zero config values fall back to DefaultConfig.
func New(o oracle.Oracle, cfg Config, opts ...Option) *Kit {
	defaults := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = defaults.Location
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Source == nil {
		cfg.Source = defaults.Source
	}

	// A walk costs two requests, the burst must allow it
	burst := int(cfg.RequestsPerSecond)
	if burst < 2 {
		burst = 2
	}

	k := &Kit{
		oracle:  o,
		cfg:     cfg,
		decider: oracle.TreeDecider{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Kit) log() *logging.Logger {
	return logging.OrDefault(k.logger).Named("kit")
}

// Update ingests orders into the agent family selected by agentType:
// "category", "brand" or "all".
func (k *Kit) Update(ctx context.Context, orders []core.Order, agentType string) error {
	typ, err := core.ParseAgentType(agentType)
	if err != nil {
		return err
	}

	p := pipeline.New(k.oracle, pipeline.Config{
		Location:          k.cfg.Location,
		ChunkSize:         k.cfg.ChunkSize,
		RequestsPerSecond: k.cfg.RequestsPerSecond,
		Concurrency:       k.cfg.Concurrency,
		Source:            k.cfg.Source,
		Clients:           k.cfg.Clients,
		Categories:        k.cfg.Categories,
	})
	p.Logger = k.logger
	p.Observer = pipelineObserver{k}

	k.log().Info("Updating %s agents from %d orders", typ, len(orders))
	return p.Update(ctx, orders, typ)
}

// Request runs the prioritized query plan of params. Every client appears
// in at most one of the returned queries.
func (k *Kit) Request(ctx context.Context, params core.RequestParams) (*core.RequestRun, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	run := &core.RequestRun{
		ID:        uuid.New().String(),
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}

	walker := predict.NewWalker(k.cfg.Location)
	walker.Decider = k.decider

	engine := &query.Engine{
		Oracle:           k.oracle,
		Walker:           walker,
		Location:         k.cfg.Location,
		Concurrency:      k.cfg.Concurrency,
		Limiter:          k.limiter,
		IncludeUndecided: k.cfg.IncludeUndecided,
		Logger:           k.logger,
		OnQuery: func(index int, q core.AggregatedQuery) {
			k.notify(EventQueryCompleted, run.ID, q)
		},
	}

	results, err := engine.Run(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	run.Results = results
	k.notify(EventRequestCompleted, run.ID, run)

	if k.publisher != nil {
		if err := k.publisher.Publish(ctx, run.ID, results); err != nil {
			k.log().Warn("Failed to publish request %s: %v", run.ID, err)
		}
	}
	if k.auditor != nil {
		if err := k.auditor.RequestExecuted(ctx, run); err != nil {
			k.log().Warn("Failed to audit request %s: %v", run.ID, err)
		}
	}
	return run, nil
}

// Destroy deletes every agent of the project and returns how many were
// removed. Agents already gone are not counted.
func (k *Kit) Destroy(ctx context.Context) (int, error) {
	agents, err := k.oracle.ListAgents(ctx)
	if err != nil {
		return 0, fmt.Errorf("list agents: %w", err)
	}

	var deleted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.cfg.Concurrency)
	for _, id := range agents {
		id := id
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := k.limiter.Wait(gctx); err != nil {
				return err
			}
			err := k.oracle.DeleteAgent(gctx, id)
			if errors.Is(err, core.ErrAgentNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("delete agent %s: %w", id, err)
			}
			deleted.Add(1)
			return nil
		})
	}
	err = g.Wait()

	count := int(deleted.Load())
	k.log().Info("Destroyed %d of %d agents", count, len(agents))
	k.notify(EventAgentsDestroyed, "", map[string]int{"count": count})
	if k.auditor != nil && count > 0 {
		if aerr := k.auditor.AgentsDestroyed(ctx, count); aerr != nil {
			k.log().Warn("Failed to audit destroy: %v", aerr)
		}
	}
	return count, err
}

func (k *Kit) notify(typ EventType, runID string, data interface{}) {
	if k.observer == nil {
		return
	}
	k.observer.Notify(Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Data:      data,
	})
}

// pipelineObserver relays pipeline progress to the kit's auditor and observer
type pipelineObserver struct {
	k *Kit
}

func (o pipelineObserver) AgentCreated(ctx context.Context, agent pipeline.Agent) {
	o.k.notify(EventAgentCreated, "", agent)
	if o.k.auditor == nil {
		return
	}
	if err := o.k.auditor.AgentCreated(ctx, agent.Key, agent.ClientID, agent.Target); err != nil {
		o.k.log().Warn("Failed to audit creation of %s: %v", agent.Key, err)
	}
}

func (o pipelineObserver) AgentUpdated(ctx context.Context, agent pipeline.Agent, operations int) {
	o.k.notify(EventAgentUpdated, "", map[string]interface{}{
		"agent":      agent,
		"operations": operations,
	})
	if o.k.auditor == nil {
		return
	}
	if err := o.k.auditor.AgentUpdated(ctx, agent.Key, operations); err != nil {
		o.k.log().Warn("Failed to audit update of %s: %v", agent.Key, err)
	}
}
