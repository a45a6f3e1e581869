// Package cron implements the process-wide Scheduler: a single ticker that
// evaluates absolute one-shot and recurring cron-pattern ScheduledTasks every
// 30 seconds, firing a caller-supplied TriggerHandler in insertion order for
// every task due in a tick.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTickInterval is how often the Scheduler evaluates tasks.
const DefaultTickInterval = 30 * time.Second

// dedupWindow guards against a task firing twice for the same due instant if
// a tick lands close to the previous one (clock jitter, slow handlers).
const dedupWindow = 60 * time.Second

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithHandler(handler TriggerHandler) Option {
	return func(s *Scheduler) { s.handler = handler }
}

func WithOnOneShotFired(fn OnOneShotFired) Option {
	return func(s *Scheduler) { s.onOneShotFired = fn }
}

// Scheduler evaluates ScheduledTasks on a fixed tick and fires due tasks
// through a single TriggerHandler.
type Scheduler struct {
	logger         *slog.Logger
	handler        TriggerHandler
	onOneShotFired OnOneShotFired
	now            func() time.Time
	tickInterval   time.Duration

	mu    sync.Mutex
	tasks []*ScheduledTask // insertion order, preserved across Add/replace

	started bool
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler with no tasks registered.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:       slog.Default().With("component", "scheduler"),
		now:          time.Now,
		tickInterval: DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler sets (or replaces) the TriggerHandler invoked for due tasks.
func (s *Scheduler) RegisterHandler(h TriggerHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// NewAbsoluteTask builds a one-shot task that fires once triggerAt is reached.
func NewAbsoluteTask(id, agentID, userID string, triggerAt time.Time, payload any) *ScheduledTask {
	return &ScheduledTask{
		ID:        id,
		AgentID:   agentID,
		UserID:    userID,
		Kind:      TaskAbsolute,
		TriggerAt: triggerAt,
		Enabled:   true,
		Payload:   payload,
	}
}

// NewCronTask builds a recurring task from a raw schedule string, which may
// be a five-field cron expression or one of the natural-language phrasings
// parseNaturalLanguageSchedule understands.
func NewCronTask(id, agentID, userID, rawSchedule, timezone string, oneShot bool, payload any) (*ScheduledTask, error) {
	expr, err := NewCronFields(rawSchedule)
	if err != nil {
		return nil, err
	}
	return &ScheduledTask{
		ID:       id,
		AgentID:  agentID,
		UserID:   userID,
		Kind:     TaskCron,
		Expr:     expr,
		Timezone: timezone,
		OneShot:  oneShot,
		Enabled:  true,
		Payload:  payload,
	}, nil
}

// Add registers a task, replacing any existing task with the same ID in
// place so insertion order (and thus same-tick firing order) is preserved.
func (s *Scheduler) Add(task *ScheduledTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("scheduled task requires an id")
	}
	switch task.Kind {
	case TaskAbsolute:
		if task.TriggerAt.IsZero() {
			return fmt.Errorf("absolute task %s missing trigger time", task.ID)
		}
	case TaskCron:
		if task.Expr == "" {
			return fmt.Errorf("cron task %s missing expression", task.ID)
		}
	default:
		return fmt.Errorf("task %s has unknown kind %q", task.ID, task.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tasks {
		if existing.ID == task.ID {
			s.tasks[i] = task
			return nil
		}
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Remove deletes a task by id. Returns false if no such task was registered.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range s.tasks {
		if task.ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// Update applies mutate to the task registered under id in place and
// reports whether such a task was found. mutate runs under the scheduler's
// lock, so it must not call back into the Scheduler.
func (s *Scheduler) Update(id string, mutate func(*ScheduledTask)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.ID == id {
			mutate(task)
			return true
		}
	}
	return false
}

// Tasks returns a snapshot of the registered tasks in insertion order.
func (s *Scheduler) Tasks() []*ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ScheduledTask, len(s.tasks))
	for i, task := range s.tasks {
		copyTask := *task
		out[i] = &copyTask
	}
	return out
}

// Start begins the scheduler's tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the tick loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce evaluates all tasks immediately, firing any that are due. It
// returns the number fired. Intended primarily for tests and manual triggers.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	due := make([]*ScheduledTask, 0)
	for _, task := range s.tasks {
		if task.Enabled && s.isDue(task, now) {
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	// Same-tick tasks fire sequentially, in the insertion order captured above.
	for _, task := range due {
		s.fire(ctx, task, now)
	}
	return len(due)
}

func (s *Scheduler) isDue(task *ScheduledTask, now time.Time) bool {
	if !task.LastRun.IsZero() && now.Sub(task.LastRun) < dedupWindow {
		return false
	}
	switch task.Kind {
	case TaskAbsolute:
		return !now.Before(task.TriggerAt)
	case TaskCron:
		loc := loadLocation(task.Timezone)
		return cronFieldsMatch(task.Expr, now.In(loc))
	default:
		return false
	}
}

func (s *Scheduler) fire(ctx context.Context, task *ScheduledTask, now time.Time) {
	s.mu.Lock()
	task.LastRun = now
	disable := task.Kind == TaskAbsolute || task.OneShot
	if disable {
		task.Enabled = false
	}
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		if err := handler.Handle(ctx, task); err != nil {
			s.logger.Warn("scheduled task handler failed", "id", task.ID, "error", err)
		}
	}
	if disable && s.onOneShotFired != nil {
		s.onOneShotFired(task)
	}
}
