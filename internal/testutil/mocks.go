package testutil

import (
	"context"
	"sync"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
)

// MockOracle implements oracle.Oracle for testing.
type MockOracle struct {
	ListAgentsFunc                func(ctx context.Context) ([]string, error)
	CreateAgentFunc               func(ctx context.Context, cfg oracle.Configuration, agentID string) error
	GetAgentFunc                  func(ctx context.Context, agentID string) (*oracle.AgentInfo, error)
	GetAgentContextFunc           func(ctx context.Context, agentID string, timestamp int64) (*oracle.ContextOperation, error)
	GetAgentContextOperationsFunc func(ctx context.Context, agentID string) ([]oracle.ContextOperation, error)
	GetAgentDecisionTreeFunc      func(ctx context.Context, agentID string, timestamp int64) (*oracle.DecisionTree, error)
	AddAgentContextOperationsFunc func(ctx context.Context, agentID string, ops []oracle.ContextOperation) error
	DeleteAgentFunc               func(ctx context.Context, agentID string) error
}

var _ oracle.Oracle = (*MockOracle)(nil)

// ListAgents calls the mock function if set.
func (m *MockOracle) ListAgents(ctx context.Context) ([]string, error) {
	if m.ListAgentsFunc != nil {
		return m.ListAgentsFunc(ctx)
	}
	return nil, nil
}

// CreateAgent calls the mock function if set.
func (m *MockOracle) CreateAgent(ctx context.Context, cfg oracle.Configuration, agentID string) error {
	if m.CreateAgentFunc != nil {
		return m.CreateAgentFunc(ctx, cfg, agentID)
	}
	return nil
}

// GetAgent calls the mock function if set. Without one every agent is missing.
func (m *MockOracle) GetAgent(ctx context.Context, agentID string) (*oracle.AgentInfo, error) {
	if m.GetAgentFunc != nil {
		return m.GetAgentFunc(ctx, agentID)
	}
	return nil, core.ErrAgentNotFound
}

// GetAgentContext calls the mock function if set.
func (m *MockOracle) GetAgentContext(ctx context.Context, agentID string, timestamp int64) (*oracle.ContextOperation, error) {
	if m.GetAgentContextFunc != nil {
		return m.GetAgentContextFunc(ctx, agentID, timestamp)
	}
	return nil, core.ErrAgentNotFound
}

// GetAgentContextOperations calls the mock function if set.
func (m *MockOracle) GetAgentContextOperations(ctx context.Context, agentID string) ([]oracle.ContextOperation, error) {
	if m.GetAgentContextOperationsFunc != nil {
		return m.GetAgentContextOperationsFunc(ctx, agentID)
	}
	return nil, nil
}

// GetAgentDecisionTree calls the mock function if set.
func (m *MockOracle) GetAgentDecisionTree(ctx context.Context, agentID string, timestamp int64) (*oracle.DecisionTree, error) {
	if m.GetAgentDecisionTreeFunc != nil {
		return m.GetAgentDecisionTreeFunc(ctx, agentID, timestamp)
	}
	return nil, core.ErrAgentNotFound
}

// AddAgentContextOperations calls the mock function if set.
func (m *MockOracle) AddAgentContextOperations(ctx context.Context, agentID string, ops []oracle.ContextOperation) error {
	if m.AddAgentContextOperationsFunc != nil {
		return m.AddAgentContextOperationsFunc(ctx, agentID, ops)
	}
	return nil
}

// DeleteAgent calls the mock function if set.
func (m *MockOracle) DeleteAgent(ctx context.Context, agentID string) error {
	if m.DeleteAgentFunc != nil {
		return m.DeleteAgentFunc(ctx, agentID)
	}
	return nil
}

// MockPublisher records published request results.
type MockPublisher struct {
	PublishFunc func(ctx context.Context, runID string, results []core.AggregatedQuery) error

	mu        sync.Mutex
	Published map[string][]core.AggregatedQuery
}

// Publish records the results then calls the mock function if set.
func (m *MockPublisher) Publish(ctx context.Context, runID string, results []core.AggregatedQuery) error {
	m.mu.Lock()
	if m.Published == nil {
		m.Published = make(map[string][]core.AggregatedQuery)
	}
	m.Published[runID] = results
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, runID, results)
	}
	return nil
}
