// Package scheduler refreshes the agents from the stored orders on a
// recurring schedule.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/logging"
)

// Scheduler manages scheduled tasks
type Scheduler struct {
	tasks   map[string]*Task
	running map[string]context.CancelFunc
	mu      sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	loc     *time.Location
	logger  *logging.Logger

	now func() time.Time
}

// New creates a scheduler computing daily and weekly runs in loc
func New(loc *time.Location, logger *logging.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:   make(map[string]*Task),
		running: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
		loc:     loc,
		logger:  logging.OrDefault(logger).Named("scheduler"),
		now:     time.Now,
	}
}

// Task is a handler run on a schedule
type Task struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Schedule   Schedule      `json:"schedule"`
	Handler    TaskHandler   `json:"-"`
	Timeout    time.Duration `json:"timeout"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
}

// TaskHandler is the function executed for a task
type TaskHandler func(ctx context.Context) error

// Schedule defines when a task runs. Every wins over At; At alone runs
// daily, At with Days runs on those weekdays only.
type Schedule struct {
	Every time.Duration  `json:"every,omitempty"`
	At    string         `json:"at,omitempty"`
	Days  []time.Weekday `json:"days,omitempty"`
}

// Validate checks that the schedule describes at least one run
func (s Schedule) Validate() error {
	if s.Every < 0 {
		return fmt.Errorf("negative interval %s", s.Every)
	}
	if s.Every > 0 {
		return nil
	}
	if s.At == "" {
		return fmt.Errorf("schedule needs an interval or a time of day")
	}
	if _, _, err := parseClock(s.At); err != nil {
		return err
	}
	return nil
}

// Next returns the first run strictly after now
func (s Schedule) Next(now time.Time, loc *time.Location) time.Time {
	if s.Every > 0 {
		return now.Add(s.Every)
	}

	hour, minute, err := parseClock(s.At)
	if err != nil {
		return now.Add(time.Hour)
	}

	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	for i := 0; i < 8; i++ {
		candidate := next.AddDate(0, 0, i)
		if candidate.After(now) && s.matchesDay(candidate.Weekday()) {
			return candidate
		}
	}
	return next.AddDate(0, 0, 7)
}

func (s Schedule) matchesDay(day time.Weekday) bool {
	if len(s.Days) == 0 {
		return true
	}
	for _, d := range s.Days {
		if d == day {
			return true
		}
	}
	return false
}

// parseClock reads "HH:MM"
func parseClock(at string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(at))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", at)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseWeekday maps "mon", "Monday" and the like to a time.Weekday
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if len(name) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.HasPrefix(strings.ToLower(d.String()), name) {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// Register adds a task to the scheduler
func (s *Scheduler) Register(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}
	if err := task.Schedule.Validate(); err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already registered", task.ID)
	}

	if task.Timeout == 0 {
		task.Timeout = time.Hour
	}
	next := task.Schedule.Next(s.now(), s.loc)
	task.NextRun = &next

	s.tasks[task.ID] = task
	if s.started {
		s.startTask(task)
	}
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	for _, task := range s.tasks {
		s.startTask(task)
	}
	return nil
}

// Stop cancels every task and waits for running handlers to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
}

// startTask must be called with s.mu held
func (s *Scheduler) startTask(task *Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.running[task.ID] = cancel

	s.wg.Add(1)
	go s.runTaskLoop(taskCtx, task)
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := task.NextRun.Sub(s.now())
		s.mu.RUnlock()

		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.executeTask(ctx, task)
		}
	}
}

func (s *Scheduler) executeTask(ctx context.Context, task *Task) {
	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	now := s.now()
	s.mu.Lock()
	task.LastRun = &now
	task.RunCount++
	s.mu.Unlock()

	s.logger.Debug("Running %s", task.ID)
	err := task.Handler(execCtx)

	s.mu.Lock()
	if err != nil {
		task.ErrorCount++
		task.LastError = err.Error()
	} else {
		task.LastError = ""
	}
	next := task.Schedule.Next(s.now(), s.loc)
	task.NextRun = &next
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Task %s failed: %v", task.ID, err)
		return
	}
	s.logger.Info("Task %s done, next run %s", task.ID, next.Format(time.RFC3339))
}

// RunNow executes a task immediately and waits for it
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}

	s.executeTask(ctx, task)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if task.LastError != "" {
		return fmt.Errorf("task %s: %s", taskID, task.LastError)
	}
	return nil
}

// GetTask returns a copy of a task's state
func (s *Scheduler) GetTask(taskID string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Stats contains scheduler statistics
type Stats struct {
	Started     bool   `json:"started"`
	TotalTasks  int    `json:"total_tasks"`
	TotalRuns   int64  `json:"total_runs"`
	TotalErrors int64  `json:"total_errors"`
	Timezone    string `json:"timezone"`
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:    s.started,
		TotalTasks: len(s.tasks),
		Timezone:   s.loc.String(),
	}
	for _, task := range s.tasks {
		stats.TotalRuns += task.RunCount
		stats.TotalErrors += task.ErrorCount
	}
	return stats
}

// Updater feeds orders to the agents
type Updater interface {
	Update(ctx context.Context, orders []core.Order, agentType string) error
}

// OrderSource lists the orders known so far
type OrderSource interface {
	All(ctx context.Context) ([]core.Order, error)
}

// RefreshTask builds the task that replays every stored order into the
// agents of agentType. Agents only receive the samples past their last
// recorded state, so a refresh without new orders sends nothing.
func RefreshTask(schedule Schedule, agentType core.AgentType, u Updater, orders OrderSource) *Task {
	return &Task{
		ID:       "refresh-" + string(agentType),
		Name:     fmt.Sprintf("Refresh %s agents", agentType),
		Schedule: schedule,
		Handler: func(ctx context.Context) error {
			all, err := orders.All(ctx)
			if err != nil {
				return fmt.Errorf("loading orders: %w", err)
			}
			if len(all) == 0 {
				return nil
			}
			return u.Update(ctx, all, string(agentType))
		},
	}
}
