package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
)

func date(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

// ============================================================================
// Schedule Tests
// ============================================================================

func TestSchedule_Validate(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"interval", Schedule{Every: time.Hour}, false},
		{"daily", Schedule{At: "03:30"}, false},
		{"weekly", Schedule{At: "03:30", Days: []time.Weekday{time.Monday}}, false},
		{"empty", Schedule{}, true},
		{"negative interval", Schedule{Every: -time.Second}, true},
		{"bad clock", Schedule{At: "25:00"}, true},
		{"not a clock", Schedule{At: "noon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchedule_Next(t *testing.T) {
	// 2018-01-03 is a Wednesday
	now := date(2018, 1, 3, 10, 0)

	tests := []struct {
		name     string
		schedule Schedule
		want     time.Time
	}{
		{"interval", Schedule{Every: 6 * time.Hour}, date(2018, 1, 3, 16, 0)},
		{"daily later today", Schedule{At: "12:00"}, date(2018, 1, 3, 12, 0)},
		{"daily already passed", Schedule{At: "03:00"}, date(2018, 1, 4, 3, 0)},
		{"daily exactly now", Schedule{At: "10:00"}, date(2018, 1, 4, 10, 0)},
		{"weekly next monday", Schedule{At: "03:00", Days: []time.Weekday{time.Monday}}, date(2018, 1, 8, 3, 0)},
		{"weekly later today", Schedule{At: "11:00", Days: []time.Weekday{time.Wednesday}}, date(2018, 1, 3, 11, 0)},
		{"weekly passed today", Schedule{At: "09:00", Days: []time.Weekday{time.Wednesday}}, date(2018, 1, 10, 9, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.schedule.Next(now, time.UTC); !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSchedule_Next_Location(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}

	// 22:30 UTC is already 23:30 in Paris
	got := Schedule{At: "23:00"}.Next(date(2018, 1, 3, 22, 30), paris)
	want := time.Date(2018, 1, 4, 23, 0, 0, 0, paris)
	if !got.Equal(want) {
		t.Errorf("Next() = %v, want %v", got, want)
	}
}

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Weekday
		wantErr bool
	}{
		{"mon", time.Monday, false},
		{"Monday", time.Monday, false},
		{" SAT ", time.Saturday, false},
		{"thu", time.Thursday, false},
		{"mo", 0, true},
		{"funday", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWeekday(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWeekday(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseWeekday(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// ============================================================================
// Scheduler Tests
// ============================================================================

func TestScheduler_Register(t *testing.T) {
	s := New(nil, nil)
	noop := func(ctx context.Context) error { return nil }

	if err := s.Register(&Task{ID: "a", Handler: noop, Schedule: Schedule{Every: time.Minute}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	task, ok := s.GetTask("a")
	if !ok {
		t.Fatal("task not found")
	}
	if task.Timeout != time.Hour {
		t.Errorf("Timeout = %v, want default 1h", task.Timeout)
	}
	if task.NextRun == nil {
		t.Error("NextRun not computed")
	}

	invalid := []*Task{
		{Handler: noop, Schedule: Schedule{Every: time.Minute}},
		{ID: "b", Schedule: Schedule{Every: time.Minute}},
		{ID: "c", Handler: noop},
		{ID: "a", Handler: noop, Schedule: Schedule{Every: time.Minute}},
	}
	for _, task := range invalid {
		if err := s.Register(task); err == nil {
			t.Errorf("Register(%+v) should fail", task)
		}
	}
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	s := New(nil, nil)

	var runs atomic.Int64
	task := &Task{
		ID:       "tick",
		Schedule: Schedule{Every: 10 * time.Millisecond},
		Handler: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}
	if err := s.Register(task); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if runs.Load() < 3 {
		t.Fatalf("runs = %d, want at least 3", runs.Load())
	}

	stopped := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != stopped {
		t.Error("task kept running after Stop")
	}

	stats := s.GetStats()
	if stats.Started || stats.TotalTasks != 1 || stats.TotalRuns < 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(nil, nil)
	fail := errors.New("oracle unavailable")

	var calls int
	if err := s.Register(&Task{
		ID:       "flaky",
		Schedule: Schedule{Every: time.Hour},
		Handler: func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return fail
			}
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.RunNow(context.Background(), "flaky"); err == nil {
		t.Error("RunNow should report the handler error")
	}
	task, _ := s.GetTask("flaky")
	if task.ErrorCount != 1 || task.LastError != fail.Error() {
		t.Errorf("ErrorCount = %d, LastError = %q", task.ErrorCount, task.LastError)
	}

	if err := s.RunNow(context.Background(), "flaky"); err != nil {
		t.Errorf("RunNow failed: %v", err)
	}
	task, _ = s.GetTask("flaky")
	if task.RunCount != 2 || task.LastError != "" {
		t.Errorf("RunCount = %d, LastError = %q", task.RunCount, task.LastError)
	}

	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("RunNow on an unknown task should fail")
	}
}

// ============================================================================
// Refresh Tests
// ============================================================================

type fakeUpdater struct {
	mu        sync.Mutex
	orders    []core.Order
	agentType string
	calls     int
	err       error
}

func (f *fakeUpdater) Update(ctx context.Context, orders []core.Order, agentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.orders = orders
	f.agentType = agentType
	return f.err
}

type fakeOrders struct {
	orders []core.Order
	err    error
}

func (f fakeOrders) All(ctx context.Context) ([]core.Order, error) {
	return f.orders, f.err
}

func TestRefreshTask(t *testing.T) {
	orders := []core.Order{
		{ID: "O1", ClientID: "C1234", Date: date(2018, 1, 2, 0, 0), Articles: []core.Article{{CategoryID: "FRUIT"}}},
		{ID: "O2", ClientID: "C5678", Date: date(2018, 1, 3, 0, 0), Articles: []core.Article{{Brand: "BORNIBUS"}}},
	}
	schedule := Schedule{At: "03:00"}

	t.Run("replays stored orders", func(t *testing.T) {
		u := &fakeUpdater{}
		task := RefreshTask(schedule, core.AgentTypeAll, u, fakeOrders{orders: orders})

		if task.ID != "refresh-all" {
			t.Errorf("ID = %q", task.ID)
		}
		if err := task.Handler(context.Background()); err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		if u.calls != 1 || len(u.orders) != 2 || u.agentType != "all" {
			t.Errorf("calls = %d, orders = %d, type = %q", u.calls, len(u.orders), u.agentType)
		}
	})

	t.Run("no orders skips the update", func(t *testing.T) {
		u := &fakeUpdater{}
		task := RefreshTask(schedule, core.AgentTypeBrand, u, fakeOrders{})
		if err := task.Handler(context.Background()); err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		if u.calls != 0 {
			t.Errorf("calls = %d, want 0", u.calls)
		}
	})

	t.Run("errors propagate", func(t *testing.T) {
		task := RefreshTask(schedule, core.AgentTypeAll, &fakeUpdater{}, fakeOrders{err: errors.New("db closed")})
		if err := task.Handler(context.Background()); err == nil {
			t.Error("expected the order source error")
		}

		u := &fakeUpdater{err: core.ErrUnknownUpdateType}
		task = RefreshTask(schedule, core.AgentTypeAll, u, fakeOrders{orders: orders})
		if err := task.Handler(context.Background()); !errors.Is(err, core.ErrUnknownUpdateType) {
			t.Errorf("error = %v, want ErrUnknownUpdateType", err)
		}
	})
}
