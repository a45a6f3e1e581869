package cron

import (
	"context"
	"time"
)

// TaskKind identifies how a ScheduledTask's trigger time is computed.
type TaskKind string

const (
	TaskAbsolute TaskKind = "absolute"
	TaskCron     TaskKind = "cron"
)

// ScheduledTask is a single entry in the Scheduler: either a one-shot
// absolute-timestamp trigger or a recurring cron-pattern trigger, optionally
// flagged to auto-disable after its first firing.
type ScheduledTask struct {
	ID      string
	AgentID string
	UserID  string

	Kind TaskKind

	// TriggerAt is the fire time for Kind == TaskAbsolute.
	TriggerAt time.Time

	// Expr is the five-field cron expression for Kind == TaskCron, already
	// validated by NewCronFields. Empty for TaskAbsolute.
	Expr string

	// Timezone is the IANA zone name the task's fields are matched in. An
	// invalid or empty value degrades to the scheduler's local time.
	Timezone string

	// OneShot disables the task after its first firing even if it is a
	// TaskCron entry (a recurring schedule that should only ever fire once).
	OneShot bool

	Enabled bool
	LastRun time.Time

	// Payload is opaque to the Scheduler; it is handed back to the
	// TriggerHandler unchanged.
	Payload any
}

// TriggerHandler invokes a task's effect when it fires.
type TriggerHandler interface {
	Handle(ctx context.Context, task *ScheduledTask) error
}

// TriggerHandlerFunc adapts a function to a TriggerHandler.
type TriggerHandlerFunc func(ctx context.Context, task *ScheduledTask) error

func (f TriggerHandlerFunc) Handle(ctx context.Context, task *ScheduledTask) error {
	return f(ctx, task)
}

// OnOneShotFired is invoked synchronously after a one-shot task (or a
// one-shot-flagged cron task) is disabled, so the caller can persist the
// disabled state (e.g. to the Persistence Store).
type OnOneShotFired func(task *ScheduledTask)
