package oracle

import (
	"errors"
	"testing"
	"time"
)

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestNewTime(t *testing.T) {
	loc := paris(t)

	// 2018-01-05 00:00 Paris is a Friday in winter time
	ts := time.Date(2018, 1, 5, 0, 0, 0, 0, loc).Unix()
	got := NewTime(ts, loc)

	if got.Timezone != "+01:00" {
		t.Errorf("Timezone = %q, want +01:00", got.Timezone)
	}
	if got.DayOfMonth != 5 || got.MonthOfYr != 1 {
		t.Errorf("day/month = %d/%d, want 5/1", got.DayOfMonth, got.MonthOfYr)
	}
	if got.DayOfWeek != 4 {
		t.Errorf("DayOfWeek = %d, want 4", got.DayOfWeek)
	}

	summer := NewTime(time.Date(2018, 7, 14, 12, 30, 0, 0, loc).Unix(), loc)
	if summer.Timezone != "+02:00" {
		t.Errorf("summer Timezone = %q, want +02:00", summer.Timezone)
	}
	if summer.TimeOfDay != 12.5 {
		t.Errorf("TimeOfDay = %v, want 12.5", summer.TimeOfDay)
	}
}

func TestStartOfDay(t *testing.T) {
	loc := paris(t)

	// 23:30 UTC on Dec 4th is already Dec 5th in Paris
	at := time.Date(2017, 12, 4, 23, 30, 0, 0, time.UTC)
	want := time.Date(2017, 12, 5, 0, 0, 0, 0, loc).Unix()
	if got := StartOfDay(at, loc); got != want {
		t.Errorf("StartOfDay = %d, want %d", got, want)
	}
}

func TestContext_Merge(t *testing.T) {
	base := Context{Timezone: "+01:00", Order: OutputOrder}
	base.Merge(WithPeriods(3))

	if base.Periods() != 3 {
		t.Errorf("Periods() = %v, want 3", base.Periods())
	}
	if base.Order != OutputOrder || base.Timezone != "+01:00" {
		t.Errorf("Merge dropped existing fields: %+v", base)
	}

	clone := base.Clone()
	*clone.PeriodsSinceLastEvent = 9
	if base.Periods() != 3 {
		t.Error("Clone shares the periods pointer")
	}

	day := 5
	withDay := Context{Timezone: "+01:00", Day: &day, Month: &day}
	stripped := withDay.WithoutTimeFeatures()
	if stripped.Day != nil || stripped.Month != nil {
		t.Errorf("WithoutTimeFeatures kept day/month: %+v", stripped)
	}
	if stripped.Timezone != "+01:00" {
		t.Error("WithoutTimeFeatures dropped timezone")
	}
}

func testTree(root *TreeNode) *DecisionTree {
	return &DecisionTree{
		Configuration: ModelConfiguration(),
		Trees:         map[string]*TreeNode{"order": root},
	}
}

func TestTreeDecider_Decide(t *testing.T) {
	loc := paris(t)
	jan := NewTime(time.Date(2018, 1, 5, 0, 0, 0, 0, loc).Unix(), loc)
	jun := NewTime(time.Date(2018, 6, 5, 0, 0, 0, 0, loc).Unix(), loc)

	tree := testTree(Branch(
		Branch(
			Leaf(OutputOrder, 0.9).When("month", OpInInterval, []float64{11, 3}),
			Leaf(OutputNoOrder, 0.6).When("month", OpInInterval, []float64{3, 11}),
		).When("periodsSinceLastEvent", OpGreaterOrEqual, 2),
		Leaf(OutputNoOrder, 0.8).When("periodsSinceLastEvent", OpLessThan, 2),
	))

	tests := []struct {
		name       string
		periods    int64
		at         Time
		wantValue  string
		wantConfid float64
	}{
		{"recent order", 1, jan, OutputNoOrder, 0.8},
		{"winter wraps interval", 4, jan, OutputOrder, 0.9},
		{"summer", 4, jun, OutputNoOrder, 0.6},
	}

	var decider TreeDecider
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decider.Decide(tree, WithPeriods(tt.periods), tt.at)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if got.PredictedValue != tt.wantValue || got.Confidence != tt.wantConfid {
				t.Errorf("Decide() = %+v, want %s/%v", got, tt.wantValue, tt.wantConfid)
			}
		})
	}
}

func TestTreeDecider_Errors(t *testing.T) {
	var decider TreeDecider
	at := NewTime(0, time.UTC)

	if _, err := decider.Decide(nil, Context{}, at); !errors.Is(err, ErrMissingTree) {
		t.Errorf("nil tree error = %v", err)
	}

	empty := &DecisionTree{Configuration: ModelConfiguration(), Trees: map[string]*TreeNode{}}
	if _, err := decider.Decide(empty, Context{}, at); !errors.Is(err, ErrMissingTree) {
		t.Errorf("missing output error = %v", err)
	}

	unmatched := testTree(Branch(Leaf(OutputOrder, 1).When("periodsSinceLastEvent", OpGreaterOrEqual, 10)))
	if _, err := decider.Decide(unmatched, WithPeriods(1), at); !errors.Is(err, ErrNoMatchingRule) {
		t.Errorf("unmatched error = %v", err)
	}

	unknown := testTree(Branch(Leaf(OutputOrder, 1).When("periodsSinceLastEvent", "~", 1)))
	if _, err := decider.Decide(unknown, WithPeriods(1), at); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("unknown operator error = %v", err)
	}
}

func TestDecisionRule_Is(t *testing.T) {
	rule := Leaf(OutputOrder, 1).When("timezone", OpIs, "+01:00").DecisionRule

	ok, err := rule.Match(map[string]any{"timezone": "+01:00"})
	if err != nil || !ok {
		t.Errorf("Match(+01:00) = %v, %v", ok, err)
	}
	ok, _ = rule.Match(map[string]any{"timezone": "+02:00"})
	if ok {
		t.Error("Match(+02:00) should not match")
	}
	ok, _ = rule.Match(map[string]any{})
	if ok {
		t.Error("missing property should not match")
	}
}
