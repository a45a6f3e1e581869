package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/cron"
	"github.com/outpostlabs/conduit/internal/tools/reminders"
)

// TestHandleScheduledTask_ReminderBypassesEngine covers S1: a fired
// reminder's ScheduledTask carries a reminders.ReminderPayload, which
// handleScheduledTask must recognize and deliver directly through the
// channel's outbound adapter, without ever invoking the engine.
func TestHandleScheduledTask_ReminderBypassesEngine(t *testing.T) {
	provider := &scriptedProvider{}
	o, outbound := newTestOrchestrator(t, testAgentConfig("reminder-agent"), provider, nil)

	task := &cron.ScheduledTask{
		ID:      "task-1",
		AgentID: "reminder-agent",
		UserID:  "chat-1",
		Kind:    cron.TaskAbsolute,
		Enabled: true,
		OneShot: true,
		Payload: reminders.ReminderPayload{
			Title:       "⏰ *Reminder*",
			Message:     "Buy milk",
			ChannelType: string(testChannel),
			ChannelID:   "chat-1",
		},
	}

	if err := o.handleScheduledTask(context.Background(), task); err != nil {
		t.Fatalf("handleScheduledTask: %v", err)
	}

	sent := outbound.messages()
	if len(sent) != 1 {
		t.Fatalf("expected exactly one delivered message, got %d", len(sent))
	}
	want := "⏰ *Reminder*\nBuy milk"
	if sent[0].Content != want {
		t.Errorf("delivered content = %q, want %q", sent[0].Content, want)
	}
	if sent[0].ChannelID != "chat-1" {
		t.Errorf("delivered ChannelID = %q, want chat-1", sent[0].ChannelID)
	}

	if calls := provider.callCount(); calls != 0 {
		t.Errorf("expected the LLM provider never to be called, got %d call(s)", calls)
	}
	if depth := o.QueueDepth("reminder-agent"); depth != 0 {
		t.Errorf("expected nothing enqueued for a reminder delivery, queue depth = %d", depth)
	}
}

// TestHandleScheduledTask_PointerPayloadAlsoBypassesEngine confirms the
// *reminders.ReminderPayload variant (as opposed to the value type) is
// recognized identically.
func TestHandleScheduledTask_PointerPayloadAlsoBypassesEngine(t *testing.T) {
	provider := &scriptedProvider{}
	o, outbound := newTestOrchestrator(t, testAgentConfig("reminder-agent"), provider, nil)

	task := &cron.ScheduledTask{
		ID:      "task-2",
		AgentID: "reminder-agent",
		UserID:  "chat-1",
		Kind:    cron.TaskAbsolute,
		OneShot: true,
		Payload: &reminders.ReminderPayload{
			Message:     "Stretch break",
			ChannelType: string(testChannel),
			ChannelID:   "chat-1",
		},
	}

	if err := o.handleScheduledTask(context.Background(), task); err != nil {
		t.Fatalf("handleScheduledTask: %v", err)
	}

	sent := outbound.messages()
	if len(sent) != 1 || sent[0].Content != "Stretch break" {
		t.Fatalf("unexpected delivery: %+v", sent)
	}
	if provider.callCount() != 0 {
		t.Errorf("expected no LLM calls for a reminder delivery")
	}
}

// TestHandleScheduledTask_NonReminderPayloadEnqueuesTurn confirms the
// fallback path: a task whose payload isn't a reminder is enqueued as a
// normal scheduler-sourced turn instead of being delivered directly.
func TestHandleScheduledTask_NonReminderPayloadEnqueuesTurn(t *testing.T) {
	provider := &scriptedProvider{
		responses: [][]agent.CompletionChunk{
			{{Text: "Done."}},
		},
	}
	o, outbound := newTestOrchestrator(t, testAgentConfig("reminder-agent"), provider, nil)

	task := &cron.ScheduledTask{
		ID:      "task-3",
		AgentID: "reminder-agent",
		UserID:  "chat-1",
		Kind:    cron.TaskCron,
		Payload: map[string]any{"kind": "digest"},
	}

	if err := o.handleScheduledTask(context.Background(), task); err != nil {
		t.Fatalf("handleScheduledTask: %v", err)
	}

	if !waitForIdle(o, "reminder-agent", 2*time.Second) {
		t.Fatalf("queue never drained")
	}
	if calls := provider.callCount(); calls != 1 {
		t.Errorf("expected exactly one LLM call for a non-reminder scheduled turn, got %d", calls)
	}
	// A scheduler-sourced turn always gets a receipt in addition to any
	// text the engine produced.
	sent := outbound.messages()
	if len(sent) == 0 {
		t.Fatalf("expected a scheduler receipt to be sent")
	}
}
