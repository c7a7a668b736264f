package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNoMatchingRule = errors.New("no decision rule matches the context")
	ErrMissingTree    = errors.New("decision tree has no tree for output")
	ErrUnknownOp      = errors.New("unknown decision rule operator")
)

// Decision rule operators
const (
	OpIs             = "is"
	OpInInterval     = "[in["
	OpGreaterOrEqual = ">="
	OpLessThan       = "<"
)

// TreeDecider evaluates trees in process by descending to the first child
// whose rule matches the features.
type TreeDecider struct{}

// Decide returns the prediction of the tree's first output
func (TreeDecider) Decide(tree *DecisionTree, features Context, t Time) (Decision, error) {
	if tree == nil {
		return Decision{}, ErrMissingTree
	}
	output := "order"
	if len(tree.Configuration.Output) > 0 {
		output = tree.Configuration.Output[0]
	}
	node, ok := tree.Trees[output]
	if !ok || node == nil {
		return Decision{}, fmt.Errorf("%w: %s", ErrMissingTree, output)
	}

	values := featureValues(tree.Configuration, features, t)

	for len(node.Children) > 0 {
		var next *TreeNode
		for _, child := range node.Children {
			if child.DecisionRule == nil {
				continue
			}
			matched, err := child.DecisionRule.Match(values)
			if err != nil {
				return Decision{}, err
			}
			if matched {
				next = child
				break
			}
		}
		if next == nil {
			return Decision{}, ErrNoMatchingRule
		}
		node = next
	}

	return Decision{
		PredictedValue: leafValue(node.PredictedValue),
		Confidence:     node.Confidence,
	}, nil
}

// featureValues resolves every configured property, taking time-typed
// properties from t and the others from the explicit features.
func featureValues(cfg Configuration, features Context, t Time) map[string]any {
	values := make(map[string]any, len(cfg.Context))
	for name, prop := range cfg.Context {
		switch prop.Type {
		case TypeTimezone:
			if features.Timezone != "" {
				values[name] = features.Timezone
			} else {
				values[name] = t.Timezone
			}
		case TypeDayOfMonth:
			values[name] = float64(t.DayOfMonth)
		case TypeMonthOfYr:
			values[name] = float64(t.MonthOfYr)
		case TypeDayOfWeek:
			values[name] = float64(t.DayOfWeek)
		case TypeTimeOfDay:
			values[name] = t.TimeOfDay
		default:
			if v, ok := features.value(name); ok {
				values[name] = v
			}
		}
	}
	return values
}

func (c Context) value(name string) (any, bool) {
	switch name {
	case "timezone":
		return c.Timezone, c.Timezone != ""
	case "day":
		if c.Day != nil {
			return float64(*c.Day), true
		}
	case "month":
		if c.Month != nil {
			return float64(*c.Month), true
		}
	case "periodsSinceLastEvent":
		if c.PeriodsSinceLastEvent != nil {
			return *c.PeriodsSinceLastEvent, true
		}
	case "order":
		return c.Order, c.Order != ""
	}
	return nil, false
}

// Match reports whether the rule holds for the given property values.
// A missing property never matches.
func (r *DecisionRule) Match(values map[string]any) (bool, error) {
	value, ok := values[r.Property]
	if !ok {
		return false, nil
	}

	switch r.Operator {
	case OpIs:
		var operand any
		if err := json.Unmarshal(r.Operand, &operand); err != nil {
			return false, fmt.Errorf("invalid operand for %s: %w", r.Property, err)
		}
		return fmt.Sprint(operand) == fmt.Sprint(value), nil

	case OpInInterval:
		var bounds [2]float64
		if err := json.Unmarshal(r.Operand, &bounds); err != nil {
			return false, fmt.Errorf("invalid interval for %s: %w", r.Property, err)
		}
		v, ok := value.(float64)
		if !ok {
			return false, nil
		}
		lo, hi := bounds[0], bounds[1]
		if lo <= hi {
			return v >= lo && v < hi, nil
		}
		// Cyclic properties wrap around, e.g. [11, 2[ for months
		return v >= lo || v < hi, nil

	case OpGreaterOrEqual, OpLessThan:
		var bound float64
		if err := json.Unmarshal(r.Operand, &bound); err != nil {
			return false, fmt.Errorf("invalid bound for %s: %w", r.Property, err)
		}
		v, ok := value.(float64)
		if !ok {
			return false, nil
		}
		if r.Operator == OpGreaterOrEqual {
			return v >= bound, nil
		}
		return v < bound, nil
	}

	return false, fmt.Errorf("%w: %q", ErrUnknownOp, r.Operator)
}

func leafValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}

// Leaf builds a terminal node
func Leaf(value string, confidence float64) *TreeNode {
	return &TreeNode{PredictedValue: value, Confidence: confidence}
}

// Branch builds an inner node over children
func Branch(children ...*TreeNode) *TreeNode {
	return &TreeNode{Children: children}
}

// When attaches the rule routing a parent to n
func (n *TreeNode) When(property, operator string, operand any) *TreeNode {
	raw, _ := json.Marshal(operand)
	n.DecisionRule = &DecisionRule{Property: property, Operator: operator, Operand: raw}
	return n
}
