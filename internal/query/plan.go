// Package query runs prioritized category and brand queries over every
// client agent and partitions the matched clients between them.
package query

import (
	"strings"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
)

// Query is one entry of the plan. For an intersection query the first
// target is the brand and the others form the category group.
type Query struct {
	Targets      []string
	Intersection bool
}

// Name joins the targets with an underscore, e.g. BORNIBUS_FRUIT_VEGETABLE
func (q Query) Name() string {
	return strings.Join(q.Targets, "_")
}

// BuildPlan orders the queries by priority: for each group, the brand+group
// intersection first (when a brand is given) then the group alone; the
// brand-only query comes last.
func BuildPlan(groups [][]string, brand string) []Query {
	var plan []Query
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		if brand != "" {
			targets := append([]string{brand}, group...)
			plan = append(plan, Query{Targets: targets, Intersection: true})
		}
		plan = append(plan, Query{Targets: append([]string(nil), group...)})
	}
	if brand != "" {
		plan = append(plan, Query{Targets: []string{brand}, Intersection: true})
	}
	return plan
}

// Union keeps the clients of the first list, each with the highest
// confidence seen across all lists. Clients found only in the other lists
// are dropped.
func Union(lists ...[]core.QueryResult) []core.QueryResult {
	out := []core.QueryResult{}
	if len(lists) == 0 {
		return out
	}

	others := make([]map[string]core.QueryResult, len(lists)-1)
	for i, list := range lists[1:] {
		others[i] = byClient(list)
	}

	seen := make(map[string]bool)
	for _, r := range lists[0] {
		if seen[r.ClientID] {
			continue
		}
		seen[r.ClientID] = true

		merged := r
		for _, other := range others {
			if match, ok := other[r.ClientID]; ok {
				merged = merge(merged, match)
			}
		}
		out = append(out, merged)
	}
	return out
}

// Intersection keeps the clients of the first list that appear in every
// other list, with the highest confidence seen.
func Intersection(lists ...[]core.QueryResult) []core.QueryResult {
	out := []core.QueryResult{}
	if len(lists) == 0 {
		return out
	}

	others := make([]map[string]core.QueryResult, len(lists)-1)
	for i, list := range lists[1:] {
		others[i] = byClient(list)
	}

	seen := make(map[string]bool)
	for _, r := range lists[0] {
		if seen[r.ClientID] {
			continue
		}
		seen[r.ClientID] = true

		merged, found := r, true
		for _, other := range others {
			match, ok := other[r.ClientID]
			if !ok {
				found = false
				break
			}
			merged = merge(merged, match)
		}
		if found {
			out = append(out, merged)
		}
	}
	return out
}

// groupMembers keeps every client of every list once, in first appearance order,
// with the highest confidence seen. It stands for a whole category group
// when a brand is intersected with it.
func groupMembers(lists ...[]core.QueryResult) []core.QueryResult {
	out := []core.QueryResult{}
	index := make(map[string]int)
	for _, list := range lists {
		for _, r := range list {
			if i, ok := index[r.ClientID]; ok {
				out[i] = merge(out[i], r)
				continue
			}
			index[r.ClientID] = len(out)
			out = append(out, r)
		}
	}
	return out
}

// merge takes the max confidence; the result stays undecided only if both are
func merge(a, b core.QueryResult) core.QueryResult {
	if b.Confidence > a.Confidence {
		a.Confidence = b.Confidence
	}
	a.Undecided = a.Undecided && b.Undecided
	return a
}

func byClient(list []core.QueryResult) map[string]core.QueryResult {
	m := make(map[string]core.QueryResult, len(list))
	for _, r := range list {
		if prev, ok := m[r.ClientID]; ok {
			m[r.ClientID] = merge(prev, r)
			continue
		}
		m[r.ClientID] = r
	}
	return m
}
