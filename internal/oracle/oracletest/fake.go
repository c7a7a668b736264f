// Package oracletest provides an in-memory decision-tree service for tests.
package oracletest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
)

// ErrNonIncreasing is returned when an operation does not move an agent's clock forward
var ErrNonIncreasing = errors.New("oracletest: timestamps must be strictly increasing")

// TreeBuilder derives the root node of an agent's tree from its history up to t
type TreeBuilder func(agentID string, history []oracle.ContextOperation, t int64) *oracle.TreeNode

type agent struct {
	cfg oracle.Configuration
	ops []oracle.ContextOperation
}

// Fake is an in-memory oracle.Oracle.
// It enforces strictly increasing timestamps per agent and counts calls.
type Fake struct {
	mu     sync.Mutex
	agents map[string]*agent
	order  []string
	calls  map[string]int

	// Fail, when set, is consulted before every call; a non-nil error is returned as is
	Fail func(method, agentID string) error

	// Build replaces the default tree builder
	Build TreeBuilder
}

// New creates an empty fake
func New() *Fake {
	return &Fake{
		agents: make(map[string]*agent),
		calls:  make(map[string]int),
	}
}

// Calls returns how many times method was invoked
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Operations returns a copy of the history of agentID
func (f *Fake) Operations(agentID string) []oracle.ContextOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[agentID]
	if !ok {
		return nil
	}
	return cloneOps(a.ops)
}

// Seed creates agentID with the model configuration and the given history,
// bypassing call counting.
func (f *Fake) Seed(agentID string, ops ...oracle.ContextOperation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.agents[agentID]; !ok {
		f.agents[agentID] = &agent{cfg: oracle.ModelConfiguration()}
		f.order = append(f.order, agentID)
	}
	f.agents[agentID].ops = append(f.agents[agentID].ops, cloneOps(ops)...)
}

func (f *Fake) enter(method, agentID string) error {
	f.mu.Lock()
	f.calls[method]++
	fail := f.Fail
	f.mu.Unlock()
	if fail != nil {
		return fail(method, agentID)
	}
	return nil
}

// ListAgents implements oracle.Oracle
func (f *Fake) ListAgents(ctx context.Context) ([]string, error) {
	if err := f.enter("ListAgents", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...), nil
}

// CreateAgent implements oracle.Oracle
func (f *Fake) CreateAgent(ctx context.Context, cfg oracle.Configuration, agentID string) error {
	if err := f.enter("CreateAgent", agentID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.agents[agentID]; ok {
		return fmt.Errorf("%w: %s", core.ErrAgentExists, agentID)
	}
	f.agents[agentID] = &agent{cfg: cfg}
	f.order = append(f.order, agentID)
	return nil
}

// GetAgent implements oracle.Oracle
func (f *Fake) GetAgent(ctx context.Context, agentID string) (*oracle.AgentInfo, error) {
	if err := f.enter("GetAgent", agentID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}
	cfg := a.cfg
	info := &oracle.AgentInfo{ID: agentID, Configuration: &cfg}
	if len(a.ops) > 0 {
		info.FirstTimestamp = a.ops[0].Timestamp
		info.LastTimestamp = a.ops[len(a.ops)-1].Timestamp
	}
	return info, nil
}

// GetAgentContext implements oracle.Oracle.
// The state merges every operation up to timestamp and adds the day and
// month features, as the real service does.
func (f *Fake) GetAgentContext(ctx context.Context, agentID string, timestamp int64) (*oracle.ContextOperation, error) {
	if err := f.enter("GetAgentContext", agentID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}

	state := oracle.ContextOperation{}
	for _, op := range a.ops {
		if op.Timestamp > timestamp {
			break
		}
		state.Timestamp = op.Timestamp
		state.Context.Merge(op.Context)
	}
	if state.Timestamp == 0 {
		return nil, fmt.Errorf("%w: %s has no state at %d", core.ErrAgentNotFound, agentID, timestamp)
	}
	at := oracle.NewTime(state.Timestamp, time.UTC)
	day, month := at.DayOfMonth, at.MonthOfYr
	state.Context.Day, state.Context.Month = &day, &month
	return &state, nil
}

// GetAgentContextOperations implements oracle.Oracle
func (f *Fake) GetAgentContextOperations(ctx context.Context, agentID string) ([]oracle.ContextOperation, error) {
	if err := f.enter("GetAgentContextOperations", agentID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}
	return cloneOps(a.ops), nil
}

// GetAgentDecisionTree implements oracle.Oracle
func (f *Fake) GetAgentDecisionTree(ctx context.Context, agentID string, timestamp int64) (*oracle.DecisionTree, error) {
	if err := f.enter("GetAgentDecisionTree", agentID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	a, ok := f.agents[agentID]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}
	cfg := a.cfg
	var history []oracle.ContextOperation
	for _, op := range a.ops {
		if op.Timestamp <= timestamp {
			history = append(history, op.Clone())
		}
	}
	build := f.Build
	f.mu.Unlock()

	if build == nil {
		build = OrderRate
	}
	output := "order"
	if len(cfg.Output) > 0 {
		output = cfg.Output[0]
	}
	return &oracle.DecisionTree{
		Version:       "1.1.0",
		Configuration: cfg,
		Trees:         map[string]*oracle.TreeNode{output: build(agentID, history, timestamp)},
	}, nil
}

// AddAgentContextOperations implements oracle.Oracle
func (f *Fake) AddAgentContextOperations(ctx context.Context, agentID string, ops []oracle.ContextOperation) error {
	if err := f.enter("AddAgentContextOperations", agentID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}

	last := int64(-1)
	if len(a.ops) > 0 {
		last = a.ops[len(a.ops)-1].Timestamp
	}
	for _, op := range ops {
		if op.Timestamp <= last {
			return fmt.Errorf("%w: %s at %d after %d", ErrNonIncreasing, agentID, op.Timestamp, last)
		}
		last = op.Timestamp
	}
	a.ops = append(a.ops, cloneOps(ops)...)
	return nil
}

// DeleteAgent implements oracle.Oracle
func (f *Fake) DeleteAgent(ctx context.Context, agentID string) error {
	if err := f.enter("DeleteAgent", agentID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.agents[agentID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}
	delete(f.agents, agentID)
	for i, id := range f.order {
		if id == agentID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

// Agents returns the sorted ids of every agent
func (f *Fake) Agents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := append([]string(nil), f.order...)
	sort.Strings(ids)
	return ids
}

// OrderRate is the default tree: a single leaf predicting ORDER with the
// share of ORDER operations in the history as confidence.
func OrderRate(agentID string, history []oracle.ContextOperation, t int64) *oracle.TreeNode {
	orders := 0
	for _, op := range history {
		if op.IsOrder() {
			orders++
		}
	}
	if orders == 0 {
		return oracle.Leaf(oracle.OutputNoOrder, 1)
	}
	return oracle.Leaf(oracle.OutputOrder, float64(orders)/float64(len(history)))
}

// Constant returns a builder yielding the same leaf for every agent
func Constant(value string, confidence float64) TreeBuilder {
	return func(string, []oracle.ContextOperation, int64) *oracle.TreeNode {
		return oracle.Leaf(value, confidence)
	}
}

func cloneOps(ops []oracle.ContextOperation) []oracle.ContextOperation {
	out := make([]oracle.ContextOperation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}

var _ oracle.Oracle = (*Fake)(nil)
