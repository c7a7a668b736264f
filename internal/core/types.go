// Package core defines the fundamental types for the buying habits kit.
package core

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// ORDER - What a customer bought, and when
// -----------------------------------------------------------------------------

// Article is one line of an order
type Article struct {
	ProductID  string  `json:"productId"`
	Brand      string  `json:"brand"`
	CategoryID string  `json:"categoryId"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
}

// Order is an immutable purchase event. Orders are supplied in bulk and never
// stored by the prediction pipeline itself.
type Order struct {
	ID       string    `json:"id,omitempty"`
	ClientID string    `json:"clientId"`
	Date     time.Time `json:"date"`
	Articles []Article `json:"articles"`
}

// Targets returns the distinct brands or categories touched by the order, in
// article order.
func (o Order) Targets(agentType AgentType) []string {
	seen := make(map[string]struct{}, len(o.Articles))
	var targets []string
	for _, article := range o.Articles {
		target := article.Target(agentType)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}
	return targets
}

// Touches reports whether any article of the order matches target.
func (o Order) Touches(agentType AgentType, target string) bool {
	for _, article := range o.Articles {
		if article.Target(agentType) == target {
			return true
		}
	}
	return false
}

// TouchesSlug is Touches for a target known only by its slug
func (o Order) TouchesSlug(agentType AgentType, targetSlug string) bool {
	for _, article := range o.Articles {
		if target := article.Target(agentType); target != "" && TargetSlug(target) == targetSlug {
			return true
		}
	}
	return false
}

// Target returns the brand or the category of the article
func (a Article) Target(agentType AgentType) string {
	if agentType == AgentTypeBrand {
		return a.Brand
	}
	return a.CategoryID
}

// -----------------------------------------------------------------------------
// AGENT TYPE - Which family of models an update touches
// -----------------------------------------------------------------------------

// AgentType selects the agent family: one model per (customer, category) or
// one per (customer, brand).
type AgentType string

const (
	AgentTypeAll      AgentType = "all"
	AgentTypeBrand    AgentType = "brand"
	AgentTypeCategory AgentType = "category"
)

// ParseAgentType validates an update type
func ParseAgentType(s string) (AgentType, error) {
	switch AgentType(s) {
	case AgentTypeAll, AgentTypeBrand, AgentTypeCategory:
		return AgentType(s), nil
	default:
		return "", fmt.Errorf("%w: Unknown agent type %s. Allowed values: all, brand and category", ErrUnknownUpdateType, s)
	}
}

// Families expands "all" into the concrete families, category first.
func (t AgentType) Families() []AgentType {
	if t == AgentTypeAll {
		return []AgentType{AgentTypeCategory, AgentTypeBrand}
	}
	return []AgentType{t}
}

// -----------------------------------------------------------------------------
// INTEREST LEVEL - How confident a prediction must be to count
// -----------------------------------------------------------------------------

// InterestLevel names a confidence threshold
type InterestLevel string

const (
	InterestInterested InterestLevel = "interested"
	InterestFan        InterestLevel = "fan"
	InterestSuperFan   InterestLevel = "super_fan"
)

var interestThresholds = map[InterestLevel]float64{
	InterestInterested: 0.01,
	InterestFan:        0.85,
	InterestSuperFan:   0.90,
}

// ParseInterestLevel validates an interest level
func ParseInterestLevel(s string) (InterestLevel, error) {
	level := InterestLevel(s)
	if _, ok := interestThresholds[level]; !ok {
		return "", fmt.Errorf("%w: %q (allowed: interested, fan, super_fan)", ErrUnknownInterestLevel, s)
	}
	return level, nil
}

// Threshold returns the confidence a prediction must strictly exceed
func (l InterestLevel) Threshold() float64 {
	return interestThresholds[l]
}

// -----------------------------------------------------------------------------
// QUERY RESULTS
// -----------------------------------------------------------------------------

// QueryResult is one matched customer for a category or brand query.
// Undecided marks customers whose history was too short to run a prediction;
// they are kept as candidates with a zero confidence.
type QueryResult struct {
	ClientID   string  `json:"clientId"`
	Confidence float64 `json:"confidence"`
	Undecided  bool    `json:"undecided,omitempty"`
}

// TargetWindow describes the time window a single target was queried on
type TargetWindow struct {
	Target string `json:"target"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
}

// AggregatedQuery is the outcome of one logical query of the plan.
// Results holds at most one entry per client.
type AggregatedQuery struct {
	Name    string         `json:"name"`
	Queries []TargetWindow `json:"queries"`
	Results []QueryResult  `json:"results"`
}

// ClientIDs returns the ids of the matched clients
func (q AggregatedQuery) ClientIDs() []string {
	ids := make([]string, 0, len(q.Results))
	for _, r := range q.Results {
		ids = append(ids, r.ClientID)
	}
	return ids
}

// -----------------------------------------------------------------------------
// REQUEST RUN - One executed query plan, as stored and published
// -----------------------------------------------------------------------------

// RequestParams is the caller facing form of a request
type RequestParams struct {
	Groups   [][]string    `json:"groups"`
	Brand    string        `json:"brand,omitempty"`
	From     time.Time     `json:"from"`
	To       time.Time     `json:"to,omitempty"`
	Interest InterestLevel `json:"interest"`
}

// Validate checks the request shape and the interest level
func (p RequestParams) Validate() error {
	if len(p.Groups) == 0 && p.Brand == "" {
		return fmt.Errorf("%w: at least one category group or a brand", ErrMissingRequired)
	}
	if p.From.IsZero() {
		return fmt.Errorf("%w: from", ErrMissingRequired)
	}
	if !p.To.IsZero() && !p.To.After(p.From) {
		return fmt.Errorf("%w: to must be after from", ErrInvalidInput)
	}
	if _, err := ParseInterestLevel(string(p.Interest)); err != nil {
		return err
	}
	return nil
}

// RequestRun is an executed request and its results
type RequestRun struct {
	ID        string            `json:"id"`
	Params    RequestParams     `json:"params"`
	Results   []AggregatedQuery `json:"results"`
	CreatedAt time.Time         `json:"createdAt"`
}
