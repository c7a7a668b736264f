package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/testutil"
)

func fruitWindow() core.TargetWindow {
	return core.TargetWindow{
		Target: "FRUIT",
		From:   testutil.Day("2018-01-05").Unix(),
		To:     testutil.Day("2018-02-05").Unix(),
	}
}

// =============================================================================
// Compare Tests
// =============================================================================

func TestCompare_NearAndUnpredicted(t *testing.T) {
	results := []core.QueryResult{
		{ClientID: "C5678", Confidence: 0.9},
		{ClientID: "C9999", Confidence: 0.5},
	}

	measures := Compare(testutil.DefaultOrders(), core.AgentTypeCategory, fruitWindow(), results, nil)
	if len(measures) != 3 {
		t.Fatalf("len(measures) = %d, want 3: %+v", len(measures), measures)
	}

	// C5678 last bought fruit on 2017-12-25, eleven days before the window
	near := measures[0]
	if near.ClientID != "C5678" || !near.Bought {
		t.Fatalf("measures[0] = %+v", near)
	}
	if near.Distance != 11*24*3600 {
		t.Errorf("Distance = %d, want 11 days", near.Distance)
	}
	if !near.Date.Equal(testutil.Day("2017-12-25")) {
		t.Errorf("Date = %v, want the closest order", near.Date)
	}
	if near.Outcome() != OutcomeNear {
		t.Errorf("Outcome() = %s, want near", near.Outcome())
	}

	if measures[1].ClientID != "C9999" || measures[1].Bought || measures[1].Outcome() != OutcomeNear {
		t.Errorf("measures[1] = %+v", measures[1])
	}

	// C1234 bought in the window without being predicted
	missed := measures[2]
	if missed.ClientID != "C1234" || missed.Distance != 0 || missed.Outcome() != OutcomeMissed {
		t.Errorf("measures[2] = %+v", missed)
	}

	s := Summarize(measures)
	if s != (Summary{Hits: 0, Near: 2, Missed: 1}) {
		t.Errorf("Summarize() = %+v", s)
	}
}

func TestCompare_Hit(t *testing.T) {
	results := []core.QueryResult{{ClientID: "C1234", Confidence: 0.95}}

	measures := Compare(testutil.DefaultOrders(), core.AgentTypeCategory, fruitWindow(), results, nil)
	if len(measures) != 1 {
		t.Fatalf("len(measures) = %d, want 1 (C5678 is outside the window)", len(measures))
	}
	if measures[0].Outcome() != OutcomeHit {
		t.Errorf("Outcome() = %s, want hit: %+v", measures[0].Outcome(), measures[0])
	}
	if !measures[0].Date.Equal(testutil.Day("2018-01-05")) {
		t.Errorf("Date = %v, want the first order inside the window", measures[0].Date)
	}
}

func TestCompare_UndecidedIsMissed(t *testing.T) {
	results := []core.QueryResult{{ClientID: "C1234", Undecided: true}}

	measures := Compare(testutil.DefaultOrders(), core.AgentTypeCategory, fruitWindow(), results, nil)
	if len(measures) != 1 || measures[0].Outcome() != OutcomeMissed {
		t.Errorf("measures = %+v", measures)
	}
}

func TestCompare_Brand(t *testing.T) {
	window := core.TargetWindow{
		Target: "EPINOOS",
		From:   testutil.Day("2018-02-01").Unix(),
		To:     testutil.Day("2018-03-01").Unix(),
	}

	measures := Compare(testutil.DefaultOrders(), core.AgentTypeBrand, window, nil, nil)
	var ids []string
	for _, m := range measures {
		ids = append(ids, m.ClientID)
	}
	if strings.Join(ids, ",") != "C1234,C5678" {
		t.Errorf("unpredicted buyers = %v, want sorted C1234,C5678", ids)
	}
}

func TestCompare_SluggedTarget(t *testing.T) {
	orders := []core.Order{
		{ID: "O1", ClientID: "C1", Date: testutil.Day("2018-01-10"), Articles: []core.Article{{CategoryID: "Fruits & Légumes"}}},
		{ID: "O2", ClientID: "C2", Date: testutil.Day("2018-01-12"), Articles: []core.Article{{CategoryID: "Fruits"}}},
	}
	window := core.TargetWindow{
		Target: core.TargetSlug("Fruits & Légumes"),
		From:   testutil.Day("2018-01-05").Unix(),
		To:     testutil.Day("2018-02-05").Unix(),
	}

	measures := Compare(orders, core.AgentTypeCategory, window, []core.QueryResult{{ClientID: "C1", Confidence: 0.8}}, nil)
	if len(measures) != 1 {
		t.Fatalf("len(measures) = %d, want 1: %+v", len(measures), measures)
	}
	if !measures[0].Bought || measures[0].Outcome() != OutcomeHit {
		t.Errorf("measures[0] = %+v, want a hit", measures[0])
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		distance int64
		want     int64
	}{
		{0, 0},
		{1, 1},
		{oracle.Week, 1},
		{oracle.Week + 1, 2},
		{-2 * oracle.Week, 2},
	}

	for _, tt := range tests {
		if got := FormatDistance(tt.distance); got != tt.want {
			t.Errorf("FormatDistance(%d) = %d, want %d", tt.distance, got, tt.want)
		}
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter(t *testing.T) {
	results := []core.QueryResult{
		{ClientID: "C5678", Confidence: 0.9},
	}
	measures := Compare(testutil.DefaultOrders(), core.AgentTypeCategory, fruitWindow(), results, nil)

	var buf bytes.Buffer
	p := NewPrinter(&buf)
	if p.Color {
		t.Fatal("a buffer is not a terminal")
	}

	p.Header("FRUIT", fruitWindow())
	for _, m := range measures {
		p.Print(m)
	}
	p.PrintSummary(Summarize(measures))

	out := buf.String()
	for _, want := range []string{
		"FRUIT / FRUIT [2018-01-05, 2018-02-05)",
		"C5678 2017-12-25 (-2, +6, 90.00%)",
		"C1234 2018-01-05 (not found)",
		"0 hit, 1 near, 1 missed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain output should not contain escape codes")
	}
}

func TestPrinter_Color(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Color = true

	p.Print(Measure{ClientID: "C1234", Date: testutil.Day("2018-01-05"), Bought: true, Confidence: 0.5})

	if !strings.HasPrefix(buf.String(), "  "+green) || !strings.Contains(buf.String(), "(50.00%)") {
		t.Errorf("output = %q", buf.String())
	}
}
