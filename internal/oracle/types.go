// Package oracle is the boundary to the decision-tree service: the sequential
// classifier that ingests timestamped context operations per agent and
// returns decision trees that can be evaluated locally.
package oracle

import (
	"context"
	"encoding/json"
)

// Output values of the order property
const (
	OutputOrder   = "ORDER"
	OutputNoOrder = "NO_ORDER"
)

// Context is a (possibly partial) feature vector of an agent.
// Zero-valued fields are absent; Merge only copies present fields.
type Context struct {
	Timezone              string   `json:"timezone,omitempty"`
	Day                   *int     `json:"day,omitempty"`
	Month                 *int     `json:"month,omitempty"`
	PeriodsSinceLastEvent *float64 `json:"periodsSinceLastEvent,omitempty"`
	Order                 string   `json:"order,omitempty"`
}

// Merge copies every present field of partial into c
func (c *Context) Merge(partial Context) {
	if partial.Timezone != "" {
		c.Timezone = partial.Timezone
	}
	if partial.Day != nil {
		day := *partial.Day
		c.Day = &day
	}
	if partial.Month != nil {
		month := *partial.Month
		c.Month = &month
	}
	if partial.PeriodsSinceLastEvent != nil {
		periods := *partial.PeriodsSinceLastEvent
		c.PeriodsSinceLastEvent = &periods
	}
	if partial.Order != "" {
		c.Order = partial.Order
	}
}

// Clone returns a deep copy of the context
func (c Context) Clone() Context {
	var clone Context
	clone.Merge(c)
	return clone
}

// WithoutTimeFeatures drops the features the service derives from the
// timestamp itself, so a retrieved state can be sent back as an operation.
func (c Context) WithoutTimeFeatures() Context {
	clone := c.Clone()
	clone.Day = nil
	clone.Month = nil
	return clone
}

// Periods returns periodsSinceLastEvent, or zero when absent
func (c Context) Periods() float64 {
	if c.PeriodsSinceLastEvent == nil {
		return 0
	}
	return *c.PeriodsSinceLastEvent
}

// WithPeriods returns a partial context carrying only periodsSinceLastEvent
func WithPeriods(periods int64) Context {
	value := float64(periods)
	return Context{PeriodsSinceLastEvent: &value}
}

// ContextOperation is the atomic unit ingested by the service for one agent.
// Timestamps of one agent are strictly increasing.
type ContextOperation struct {
	Timestamp int64   `json:"timestamp"`
	Context   Context `json:"context"`
}

// Clone returns a deep copy of the operation
func (op ContextOperation) Clone() ContextOperation {
	return ContextOperation{Timestamp: op.Timestamp, Context: op.Context.Clone()}
}

// IsOrder reports whether the operation records a purchase
func (op ContextOperation) IsOrder() bool {
	return op.Context.Order == OutputOrder
}

// AgentInfo is what the service reports about an existing agent
type AgentInfo struct {
	ID             string         `json:"id"`
	Configuration  *Configuration `json:"configuration,omitempty"`
	FirstTimestamp int64          `json:"firstTimestamp,omitempty"`
	LastTimestamp  int64          `json:"lastTimestamp,omitempty"`
}

// DecisionTree is a model snapshot taken at a given timestamp
type DecisionTree struct {
	Version       string               `json:"_version"`
	Configuration Configuration        `json:"configuration"`
	Trees         map[string]*TreeNode `json:"trees"`
}

// TreeNode is either a leaf (no children) or a split on its children's rules
type TreeNode struct {
	DecisionRule   *DecisionRule `json:"decision_rule,omitempty"`
	PredictedValue any           `json:"predicted_value,omitempty"`
	Confidence     float64       `json:"confidence,omitempty"`
	Children       []*TreeNode   `json:"children,omitempty"`
}

// DecisionRule routes a context to a child node
type DecisionRule struct {
	Property string          `json:"property"`
	Operator string          `json:"operator"`
	Operand  json.RawMessage `json:"operand"`
}

// Decision is the prediction of a tree for one output
type Decision struct {
	PredictedValue string  `json:"predicted_value"`
	Confidence     float64 `json:"confidence"`
}

// Oracle is the set of remote capabilities the kit consumes
type Oracle interface {
	ListAgents(ctx context.Context) ([]string, error)
	CreateAgent(ctx context.Context, cfg Configuration, agentID string) error
	GetAgent(ctx context.Context, agentID string) (*AgentInfo, error)
	GetAgentContext(ctx context.Context, agentID string, timestamp int64) (*ContextOperation, error)
	GetAgentContextOperations(ctx context.Context, agentID string) ([]ContextOperation, error)
	GetAgentDecisionTree(ctx context.Context, agentID string, timestamp int64) (*DecisionTree, error)
	AddAgentContextOperations(ctx context.Context, agentID string, ops []ContextOperation) error
	DeleteAgent(ctx context.Context, agentID string) error
}

// Decider evaluates a decision tree locally, without any network call
type Decider interface {
	Decide(tree *DecisionTree, features Context, t Time) (Decision, error)
}
