// Package scheduler runs the standing background jobs: scheduled digest
// delivery, periodic capture-queue drains, and storage maintenance.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/logging"
)

// TaskHandler is the function executed for a task.
type TaskHandler func(ctx context.Context) error

// ScheduleType selects how a task recurs.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval" // every Interval
	ScheduleDaily    ScheduleType = "daily"    // every day at At
	ScheduleWeekly   ScheduleType = "weekly"   // on Days at At
)

// Schedule defines when a task runs. At is "HH:MM" in the scheduler's
// timezone.
type Schedule struct {
	Type     ScheduleType   `json:"type"`
	Interval time.Duration  `json:"interval,omitempty"`
	At       string         `json:"at,omitempty"`
	Days     []time.Weekday `json:"days,omitempty"`
}

// Task is one registered job.
type Task struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Schedule   Schedule      `json:"schedule"`
	Handler    TaskHandler   `json:"-"`
	Enabled    bool          `json:"enabled"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Timeout    time.Duration `json:"timeout"`
}

// Config configures the scheduler.
type Config struct {
	Timezone string // default Local
}

// Scheduler owns a set of recurring tasks.
type Scheduler struct {
	tasks    map[string]*Task
	running  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	timezone *time.Location
	logger   *logging.Logger
}

// New creates a scheduler. An unknown timezone falls back to Local.
func New(cfg Config, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		tz = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:    make(map[string]*Task),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		timezone: tz,
		logger:   logger,
	}
}

// Register adds a task. Registered tasks start enabled; if the scheduler is
// already running the task loop starts immediately.
func (s *Scheduler) Register(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task %s: handler is required", task.ID)
	}
	if task.Timeout == 0 {
		task.Timeout = 5 * time.Minute
	}
	task.Enabled = true

	next := s.nextRun(task.Schedule)
	task.NextRun = &next
	s.tasks[task.ID] = task

	if s.started {
		s.startTask(task)
	}
	return nil
}

// Start launches every enabled task loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	for _, task := range s.tasks {
		if task.Enabled {
			s.startTask(task)
		}
	}
	return nil
}

// Stop cancels every task loop and waits for in-flight handlers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	for _, cancel := range s.running {
		cancel()
	}
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.wg.Wait()
}

// RunNow fires a task immediately, outside its schedule.
func (s *Scheduler) RunNow(taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	go s.execute(s.ctx, task)
	return nil
}

// Tasks returns a snapshot of registered tasks.
func (s *Scheduler) Tasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}
	return out
}

func (s *Scheduler) startTask(task *Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.running[task.ID] = cancel

	s.wg.Add(1)
	go s.loop(taskCtx, task)
}

func (s *Scheduler) loop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		var wait time.Duration
		if task.NextRun != nil {
			wait = time.Until(*task.NextRun)
		}
		s.mu.RUnlock()
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.execute(ctx, task)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, task *Task) {
	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	task.LastRun = &now
	task.RunCount++
	s.mu.Unlock()

	err := task.Handler(execCtx)

	s.mu.Lock()
	if err != nil {
		task.ErrorCount++
		task.LastError = err.Error()
	} else {
		task.LastError = ""
	}
	next := s.nextRun(task.Schedule)
	task.NextRun = &next
	s.mu.Unlock()

	if err != nil {
		s.logger.WithField("task", task.ID).Error("scheduled task failed: %v", err)
	}
}

func (s *Scheduler) nextRun(schedule Schedule) time.Time {
	now := time.Now().In(s.timezone)

	switch schedule.Type {
	case ScheduleInterval:
		return now.Add(schedule.Interval)

	case ScheduleDaily:
		next := atTime(now, schedule.At, s.timezone)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		return next

	case ScheduleWeekly:
		base := atTime(now, schedule.At, s.timezone)
		for i := 0; i < 8; i++ {
			candidate := base.Add(time.Duration(i) * 24 * time.Hour)
			if !candidate.After(now) {
				continue
			}
			for _, day := range schedule.Days {
				if candidate.Weekday() == day {
					return candidate
				}
			}
		}
		return base.Add(7 * 24 * time.Hour)

	default:
		return now.Add(time.Hour)
	}
}

func atTime(now time.Time, at string, tz *time.Location) time.Time {
	hour, minute := 8, 0
	fmt.Sscanf(at, "%d:%d", &hour, &minute)
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, tz)
}

// IntervalTask creates a task that runs every interval.
func IntervalTask(id, name string, interval time.Duration, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleInterval, Interval: interval},
		Handler:  handler,
	}
}

// DailyTask creates a task that runs daily at "HH:MM".
func DailyTask(id, name, at string, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleDaily, At: at},
		Handler:  handler,
	}
}

// WeeklyTask creates a task that runs at "HH:MM" on the given weekdays.
func WeeklyTask(id, name, at string, days []time.Weekday, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleWeekly, At: at, Days: days},
		Handler:  handler,
	}
}
