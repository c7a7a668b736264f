// Package pipeline feeds new orders to the per-client models: it provisions
// the agents, resamples each agent's orders onto a weekly grid and uploads
// the samples in rate limited chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/logging"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/resample"
)

// Agent is one (client, category) or (client, brand) model touched by an update
type Agent struct {
	Key      string         `json:"key"`
	ClientID string         `json:"clientId"`
	Target   string         `json:"target"`
	Type     core.AgentType `json:"type"`
	Orders   int            `json:"orders"`
	Created  bool           `json:"created"`

	// Latest is the last state known by the service, without its time features
	Latest *oracle.ContextOperation `json:"-"`
}

// Observer is notified as agents are provisioned and fed
type Observer interface {
	AgentCreated(ctx context.Context, agent Agent)
	AgentUpdated(ctx context.Context, agent Agent, operations int)
}

// Config for the pipeline
type Config struct {
	Location          *time.Location
	ChunkSize         int
	RequestsPerSecond float64
	Concurrency       int

	// Source thins the negative samples; defaults to resample.DefaultSource()
	Source resample.Source

	// Clients and Categories map ids to display names for log lines
	Clients    map[string]string
	Categories map[string]string
}

// DefaultConfig returns the service's published limits
func DefaultConfig() Config {
	return Config{
		Location:          oracle.DefaultLocation(),
		ChunkSize:         200,
		RequestsPerSecond: 50,
		Concurrency:       10,
	}
}

// Pipeline updates agents from orders
type Pipeline struct {
	oracle    oracle.Oracle
	cfg       Config
	provision *rate.Limiter
	upload    *rate.Limiter

	Logger   *logging.Logger
	Observer Observer
}

// New creates a pipeline. Zero config values fall back to DefaultConfig.
func New(o oracle.Oracle, cfg Config) *Pipeline {
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
		cfg.Source = resample.DefaultSource()
	}

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Pipeline{
		oracle: o,
		cfg:    cfg,
		// Provisioning costs two requests per agent
		provision: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond/2), burst),
		upload:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// Update ingests orders into the agent family selected by agentType.
// "all" updates categories then brands.
func (p *Pipeline) Update(ctx context.Context, orders []core.Order, agentType core.AgentType) error {
	if _, err := core.ParseAgentType(string(agentType)); err != nil {
		return err
	}

	sorted := SortOrders(orders)
	for _, family := range agentType.Families() {
		if err := p.updateFamily(ctx, sorted, family); err != nil {
			return fmt.Errorf("update %s agents: %w", family, err)
		}
	}
	return nil
}

func (p *Pipeline) updateFamily(ctx context.Context, orders []core.Order, family core.AgentType) error {
	log := logging.OrDefault(p.Logger).Named("pipeline").WithField("type", string(family))

	agents := Discover(orders, family)
	log.Debug("%d agents with at least two orders", len(agents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range agents {
		i := i
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.provision.Wait(gctx); err != nil {
				return err
			}
			return p.provisionAgent(gctx, &agents[i])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, agent := range agents {
		log.Info("Updating agent '%s' for '%s' on '%s'", agent.Key, p.clientName(agent.ClientID), p.targetName(agent))

		ops := Operations(orders, agent, p.cfg.Location)
		sampler := resample.New(oracle.Week, NegativeSample(p.cfg.Location), resample.Options{
			Latest:             agent.Latest,
			ExtendFromPrevious: PeriodsSinceLastEvent,
			KeepLast:           true,
			Source:             p.cfg.Source,
		})

		samples := sampler.Resample(ops)
		if err := p.uploadSamples(ctx, agent.Key, samples); err != nil {
			return err
		}

		if p.Observer != nil {
			p.Observer.AgentUpdated(ctx, agent, len(samples))
		}
	}
	return nil
}

// provisionAgent makes sure the agent exists and loads its last known state
func (p *Pipeline) provisionAgent(ctx context.Context, agent *Agent) error {
	info, err := p.oracle.GetAgent(ctx, agent.Key)
	if errors.Is(err, core.ErrAgentNotFound) {
		err = p.oracle.CreateAgent(ctx, oracle.ModelConfiguration(), agent.Key)
		if err != nil && !errors.Is(err, core.ErrAgentExists) {
			return err
		}
		agent.Created = true
		if p.Observer != nil {
			p.Observer.AgentCreated(ctx, *agent)
		}
		return nil
	}
	if err != nil {
		return err
	}

	if info.LastTimestamp == 0 {
		return nil
	}
	state, err := p.oracle.GetAgentContext(ctx, agent.Key, info.LastTimestamp)
	if err != nil {
		return err
	}
	agent.Latest = &oracle.ContextOperation{
		Timestamp: state.Timestamp,
		Context:   state.Context.WithoutTimeFeatures(),
	}
	return nil
}

func (p *Pipeline) uploadSamples(ctx context.Context, key string, samples []oracle.ContextOperation) error {
	for start := 0; start < len(samples); start += p.cfg.ChunkSize {
		end := start + p.cfg.ChunkSize
		if end > len(samples) {
			end = len(samples)
		}
		if err := p.upload.Wait(ctx); err != nil {
			return err
		}
		if err := p.oracle.AddAgentContextOperations(ctx, key, samples[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) clientName(id string) string {
	if name, ok := p.cfg.Clients[id]; ok {
		return name
	}
	return id
}

func (p *Pipeline) targetName(agent Agent) string {
	if agent.Type == core.AgentTypeBrand {
		return agent.Target
	}
	if name, ok := p.cfg.Categories[agent.Target]; ok {
		return name
	}
	return agent.Target
}

// -----------------------------------------------------------------------------
// Order shaping
// -----------------------------------------------------------------------------

// SortOrders returns a copy of orders sorted by date, stable for equal dates
func SortOrders(orders []core.Order) []core.Order {
	sorted := append([]core.Order(nil), orders...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return sorted
}

// Discover lists the agents touched by orders, in first seen order, keeping
// those with at least two orders. An order counts once per agent.
func Discover(orders []core.Order, family core.AgentType) []Agent {
	index := make(map[string]int)
	var agents []Agent

	for _, order := range orders {
		counted := make(map[string]bool)
		for _, target := range order.Targets(family) {
			key := core.AgentKey(order.ClientID, target)
			if counted[key] {
				continue
			}
			counted[key] = true

			if i, ok := index[key]; ok {
				agents[i].Orders++
				continue
			}
			index[key] = len(agents)
			agents = append(agents, Agent{
				Key:      key,
				ClientID: order.ClientID,
				Target:   target,
				Type:     family,
				Orders:   1,
			})
		}
	}

	kept := agents[:0]
	for _, agent := range agents {
		if agent.Orders >= 2 {
			kept = append(kept, agent)
		}
	}
	return kept
}

// Operations turns the agent's orders into ORDER operations at the start of
// their day in loc.
func Operations(orders []core.Order, agent Agent, loc *time.Location) []oracle.ContextOperation {
	var ops []oracle.ContextOperation
	for _, order := range orders {
		if order.ClientID != agent.ClientID || !order.Touches(agent.Type, agent.Target) {
			continue
		}
		ts := oracle.StartOfDay(order.Date, loc)
		ops = append(ops, oracle.ContextOperation{
			Timestamp: ts,
			Context: oracle.Context{
				Timezone: oracle.NewTime(ts, loc).Timezone,
				Order:    oracle.OutputOrder,
			},
		})
	}
	return ops
}

// NegativeSample generates the NO_ORDER samples kept between two orders
func NegativeSample(loc *time.Location) resample.Generator {
	return func(_, _ oracle.Context, ts int64) oracle.Context {
		return oracle.Context{
			Timezone: oracle.NewTime(ts, loc).Timezone,
			Order:    oracle.OutputNoOrder,
		}
	}
}

// PeriodsSinceLastEvent records the number of quanta since the previous order
func PeriodsSinceLastEvent(_ oracle.Context, _ *oracle.Context, periods int64) oracle.Context {
	return oracle.WithPeriods(periods)
}
