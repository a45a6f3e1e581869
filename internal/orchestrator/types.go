// Package orchestrator owns the per-agent message queue, the engine
// invocation loop, the confirmation/action fast-path heuristics, and the
// approval/budget gates' chat-facing half (button send, callback resolve).
// It is the seam between the channel adapters, the scheduler, the event
// router, and the Engine (internal/agent).
package orchestrator

import (
	"context"
	"time"

	"github.com/outpostlabs/conduit/internal/channels"
	"github.com/outpostlabs/conduit/internal/cron"
	"github.com/outpostlabs/conduit/pkg/models"
)

// Source identifies where a queued turn originated. It decides queue
// ordering priority, whether a typing indicator is shown, and whether the
// engine's final text is sent automatically or carries a receipt instead.
type Source string

const (
	SourceUser      Source = "user"
	SourceScheduler Source = "scheduler"
	SourceWebhook   Source = "webhook"
)

// QueueEntry is one turn waiting to be run through the Engine.
type QueueEntry struct {
	Source Source

	// Message is the inbound turn content for SourceUser/SourceWebhook.
	// Nil for a scheduler-sourced entry driven entirely by Task.
	Message *models.Message

	// Session is the conversation this entry belongs to.
	Session *models.Session

	// Task is the fired ScheduledTask for SourceScheduler entries.
	Task *cron.ScheduledTask

	// Instruction is the router- or scheduler-composed text handed to the
	// engine in place of a literal user message, for SourceWebhook and
	// non-reminder SourceScheduler entries.
	Instruction string

	EnqueuedAt time.Time
}

// priority orders queue insertion: user-sourced entries are inserted ahead
// of background (scheduler/webhook) entries already queued, but never
// reorder relative to other entries of equal-or-higher priority.
func (e *QueueEntry) priority() int {
	if e.Source == SourceUser {
		return 0
	}
	return 1
}

// ApprovalRequestInput is what a tool call passes to ToolContext.RequestApproval.
type ApprovalRequestInput struct {
	Kind    string // "command" | "code" | "critical_action"
	Reason  string
	Detail  string // command line, code body, or free-text action description
	ToolUse models.ToolCall
}

// ToolContext is the bound, per-turn surface tools execute against. It is
// threaded through the engine's RuntimeOptions/context rather than the
// tool's constructor so every tool sees the turn's originating session and
// agent without the Orchestrator exposing its internals.
type ToolContext interface {
	// SendMessage delivers text on the turn's originating channel outside
	// the engine's own response stream (e.g. a tool that narrates progress).
	SendMessage(ctx context.Context, text string) error

	// SendButtons delivers text with inline buttons on the turn's
	// originating channel and returns the platform message id.
	SendButtons(ctx context.Context, text string, buttons [][]channels.Button) (string, error)

	// DownloadFile fetches an attachment's bytes by its channel-local id.
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)

	// AddSchedule installs a new scheduled task for the turn's agent.
	AddSchedule(task *cron.ScheduledTask) error
	// RemoveSchedule cancels a previously installed task.
	RemoveSchedule(taskID string) bool
	// ToggleSchedule enables or disables a task without removing it.
	ToggleSchedule(taskID string, enabled bool) bool
	// SetOneShotTrigger reschedules a task's absolute fire time.
	SetOneShotTrigger(taskID string, at time.Time) bool

	// RecordUsageEvent logs token/cost spend against the turn's agent.
	RecordUsageEvent(provider, model string, inputTokens, outputTokens int64, costUSD float64)
	// RecordResourceEvent logs a non-LLM resource consumption (e.g. an
	// extension tool call) for audit/analytics.
	RecordResourceEvent(kind, detail string)

	// CheckBudget reports whether the turn's agent still has budget headroom.
	CheckBudget(ctx context.Context) (ok bool, reason string)

	// RequestApproval blocks until a human resolves req or it times out.
	RequestApproval(ctx context.Context, req ApprovalRequestInput) (approved bool, err error)

	// AgentID and SessionID identify the turn this context is bound to.
	AgentID() string
	SessionID() string
}

// toolContextKey is the context key a turn's ToolContext is stored under so
// tool implementations can reach it without it being threaded through every
// constructor (mirrors agent.WithSession/SessionFromContext).
type toolContextKey struct{}

// WithToolContext attaches tc to ctx for the duration of one engine turn.
func WithToolContext(ctx context.Context, tc ToolContext) context.Context {
	return context.WithValue(ctx, toolContextKey{}, tc)
}

// ToolContextFromContext retrieves the turn's ToolContext, if any.
func ToolContextFromContext(ctx context.Context) (ToolContext, bool) {
	tc, ok := ctx.Value(toolContextKey{}).(ToolContext)
	return tc, ok
}
