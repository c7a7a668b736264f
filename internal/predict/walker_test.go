package predict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle/oracletest"
)

const week = oracle.Week

// scripted returns a fixed decision per call and records the features it saw
type scripted struct {
	decisions []oracle.Decision
	periods   []float64
}

func (s *scripted) Decide(tree *oracle.DecisionTree, features oracle.Context, t oracle.Time) (oracle.Decision, error) {
	s.periods = append(s.periods, features.Periods())
	d := s.decisions[len(s.periods)-1]
	return d, nil
}

func weeklyTree() *oracle.DecisionTree {
	return &oracle.DecisionTree{Configuration: oracle.ModelConfiguration()}
}

func TestWalker_StopsAboveThreshold(t *testing.T) {
	decider := &scripted{decisions: []oracle.Decision{
		{PredictedValue: oracle.OutputOrder, Confidence: 0.3},
		{PredictedValue: oracle.OutputNoOrder, Confidence: 0.99},
		{PredictedValue: oracle.OutputOrder, Confidence: 0.9},
		{PredictedValue: oracle.OutputOrder, Confidence: 0.95},
	}}
	w := &Walker{Decider: decider, Location: time.UTC}

	got, err := w.Walk(weeklyTree(), 10*week, 20*week, 8*week, 0.85)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if got.Timestamp != 12*week || got.Confidence != 0.9 || got.Steps != 3 {
		t.Errorf("Walk() = %+v, want stop at week 12 with 0.9", got)
	}
	if len(decider.periods) != 3 {
		t.Errorf("evaluated %d steps, want 3", len(decider.periods))
	}

	// The ORDER at week 10 resets the clock; the NO_ORDER at week 11 does not
	want := []float64{2, 1, 2}
	for i, p := range want {
		if decider.periods[i] != p {
			t.Errorf("step %d periods = %v, want %v", i, decider.periods[i], p)
		}
	}
}

func TestWalker_ReturnsLastBelowThreshold(t *testing.T) {
	decider := &scripted{decisions: []oracle.Decision{
		{PredictedValue: oracle.OutputOrder, Confidence: 0.5},
		{PredictedValue: oracle.OutputNoOrder, Confidence: 0.97},
	}}
	w := &Walker{Decider: decider, Location: time.UTC}

	got, err := w.Walk(weeklyTree(), 0, 2*week, -week, 0.85)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if got.Timestamp != week || got.Confidence != 0 || got.PredictedValue != oracle.OutputNoOrder {
		t.Errorf("Walk() = %+v, want the last step forced to 0", got)
	}
}

func TestWalker_ThresholdIsStrict(t *testing.T) {
	decider := &scripted{decisions: []oracle.Decision{
		{PredictedValue: oracle.OutputOrder, Confidence: 0.85},
		{PredictedValue: oracle.OutputOrder, Confidence: 0.86},
	}}
	w := &Walker{Decider: decider, Location: time.UTC}

	got, _ := w.Walk(weeklyTree(), 0, 5*week, 0, 0.85)
	if got.Steps != 2 || got.Confidence != 0.86 {
		t.Errorf("Walk() = %+v, equal confidence must not stop the walk", got)
	}
}

func TestWalker_EmptyRange(t *testing.T) {
	w := NewWalker(time.UTC)
	got, err := w.Walk(weeklyTree(), week, week, 0, 0.5)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if got.Steps != 0 || got.Confidence != 0 || got.Timestamp != week {
		t.Errorf("Walk() = %+v, want zero prediction", got)
	}

	bad := &oracle.DecisionTree{}
	if _, err := w.Walk(bad, 0, week, 0, 0.5); !errors.Is(err, ErrInvalidQuantum) {
		t.Errorf("Walk() without quantum error = %v", err)
	}
}

func TestLastOrderBefore(t *testing.T) {
	ops := []oracle.ContextOperation{
		{Timestamp: 1, Context: oracle.Context{Order: oracle.OutputOrder}},
		{Timestamp: 2, Context: oracle.Context{Order: oracle.OutputNoOrder}},
		{Timestamp: 3, Context: oracle.Context{Order: oracle.OutputOrder}},
		{Timestamp: 4, Context: oracle.Context{Order: oracle.OutputNoOrder}},
	}

	tests := []struct {
		ts     int64
		want   int64
		wantOK bool
	}{
		{0, 0, false},
		{1, 1, true},
		{2, 1, true},
		{3, 3, true},
		{10, 3, true},
	}
	for _, tt := range tests {
		got, ok := LastOrderBefore(ops, tt.ts)
		if ok != tt.wantOK || (ok && got.Timestamp != tt.want) {
			t.Errorf("LastOrderBefore(%d) = %d, %v; want %d, %v", tt.ts, got.Timestamp, ok, tt.want, tt.wantOK)
		}
	}
}

func TestWalker_PredictAgent(t *testing.T) {
	ctx := context.Background()
	fake := oracletest.New()
	fake.Build = oracletest.Constant(oracle.OutputOrder, 0.9)

	fake.Seed("C1-FRUIT",
		oracle.ContextOperation{Timestamp: 0, Context: oracle.Context{Order: oracle.OutputOrder}},
		oracle.ContextOperation{Timestamp: week, Context: oracle.Context{Order: oracle.OutputNoOrder}},
		oracle.ContextOperation{Timestamp: 2 * week, Context: oracle.Context{Order: oracle.OutputOrder}},
	)
	fake.Seed("C2-FRUIT", oracle.ContextOperation{Timestamp: 0, Context: oracle.Context{Order: oracle.OutputOrder}})
	fake.Seed("C3-FRUIT",
		oracle.ContextOperation{Timestamp: 5 * week, Context: oracle.Context{Order: oracle.OutputNoOrder}},
		oracle.ContextOperation{Timestamp: 6 * week, Context: oracle.Context{Order: oracle.OutputOrder}},
	)

	w := NewWalker(time.UTC)

	got, err := w.PredictAgent(ctx, fake, "C1-FRUIT", 10*week, 14*week, 0.5)
	if err != nil {
		t.Fatalf("PredictAgent() error = %v", err)
	}
	if got.Timestamp != 10*week || got.Confidence != 0.9 {
		t.Errorf("PredictAgent() = %+v", got)
	}

	if _, err := w.PredictAgent(ctx, fake, "C2-FRUIT", 10*week, 14*week, 0.5); !errors.Is(err, core.ErrInsufficientHistory) {
		t.Errorf("single operation error = %v", err)
	}

	// The reference time precedes the only order
	if _, err := w.PredictAgent(ctx, fake, "C3-FRUIT", 5*week, 8*week, 0.5); !errors.Is(err, core.ErrInsufficientHistory) {
		t.Errorf("no prior order error = %v", err)
	}

	if _, err := w.PredictAgent(ctx, fake, "C9-FRUIT", 0, week, 0.5); !errors.Is(err, core.ErrAgentNotFound) {
		t.Errorf("unknown agent error = %v", err)
	}
}
