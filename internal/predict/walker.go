// Package predict walks a decision tree forward in time to find the first
// week a client is likely to order again.
package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
)

// ErrInvalidQuantum is returned for trees whose configuration has no time quantum
var ErrInvalidQuantum = errors.New("decision tree has no positive time quantum")

// Prediction is the outcome of a walk
type Prediction struct {
	Timestamp      int64   `json:"timestamp"`
	PredictedValue string  `json:"predicted_value"`
	Confidence     float64 `json:"confidence"`
	Steps          int     `json:"steps"`
}

// Walker evaluates trees locally with Decider, deriving calendar features in Location
type Walker struct {
	Decider  oracle.Decider
	Location *time.Location
}

// NewWalker returns a walker using the in-process tree decider
func NewWalker(loc *time.Location) *Walker {
	return &Walker{Decider: oracle.TreeDecider{}, Location: loc}
}

// Walk steps from `from` (inclusive) to `to` (exclusive) one quantum at a time.
// Only ORDER predictions keep their confidence, and each one resets the clock
// of periodsSinceLastEvent. The walk stops at the first step whose confidence
// is strictly above threshold; otherwise the last step is returned.
func (w *Walker) Walk(tree *oracle.DecisionTree, from, to, lastOrder int64, threshold float64) (Prediction, error) {
	if tree == nil {
		return Prediction{}, oracle.ErrMissingTree
	}
	quantum := tree.Configuration.TimeQuantum
	if quantum <= 0 {
		return Prediction{}, ErrInvalidQuantum
	}

	result := Prediction{Timestamp: from, PredictedValue: oracle.OutputNoOrder}
	for t := from; t < to; t += quantum {
		at := oracle.NewTime(t, w.Location)
		features := oracle.WithPeriods(floorDiv(t-lastOrder, quantum))
		features.Timezone = at.Timezone

		decision, err := w.Decider.Decide(tree, features, at)
		if err != nil {
			return Prediction{}, fmt.Errorf("decide at %d: %w", t, err)
		}

		result = Prediction{Timestamp: t, PredictedValue: decision.PredictedValue, Steps: result.Steps + 1}
		if decision.PredictedValue == oracle.OutputOrder {
			result.Confidence = decision.Confidence
			lastOrder = t
		}
		if result.Confidence > threshold {
			break
		}
	}

	return result, nil
}

// LastOrderBefore returns the last ORDER operation at or before ts
func LastOrderBefore(ops []oracle.ContextOperation, ts int64) (oracle.ContextOperation, bool) {
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Timestamp <= ts && ops[i].IsOrder() {
			return ops[i], true
		}
	}
	return oracle.ContextOperation{}, false
}

// PredictAgent fetches the history and tree of agentID and walks it.
// ErrInsufficientHistory means no decision is possible for this agent.
func (w *Walker) PredictAgent(ctx context.Context, o oracle.Oracle, agentID string, from, to int64, threshold float64) (Prediction, error) {
	ops, err := o.GetAgentContextOperations(ctx, agentID)
	if err != nil {
		return Prediction{}, err
	}
	if len(ops) < 2 {
		return Prediction{}, fmt.Errorf("%w: %s has %d operations", core.ErrInsufficientHistory, agentID, len(ops))
	}

	treeTs := from
	if last := ops[len(ops)-1].Timestamp; last < treeTs {
		treeTs = last
	}

	lastOrder, ok := LastOrderBefore(ops, treeTs)
	if !ok {
		return Prediction{}, fmt.Errorf("%w: %s has no order before %d", core.ErrInsufficientHistory, agentID, treeTs)
	}

	tree, err := o.GetAgentDecisionTree(ctx, agentID, treeTs)
	if err != nil {
		return Prediction{}, err
	}

	return w.Walk(tree, from, to, lastOrder.Timestamp, threshold)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
