package reminders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/cron"
)

// CancelTool cancels a reminder by ScheduledTask id.
type CancelTool struct {
	scheduler *cron.Scheduler
}

func NewCancelTool(scheduler *cron.Scheduler) *CancelTool {
	return &CancelTool{scheduler: scheduler}
}

func (t *CancelTool) Name() string { return "cancel_reminder" }

func (t *CancelTool) Description() string {
	return "Cancel a reminder by its ID"
}

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"reminder_id": {
				"type": "string",
				"description": "The ID of the reminder to cancel"
			}
		},
		"required": ["reminder_id"]
	}`)
}

type CancelInput struct {
	ReminderID string `json:"reminder_id"`
}

func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.scheduler == nil {
		return &agent.ToolResult{Content: "scheduler unavailable", IsError: true}, nil
	}

	var input CancelInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.ReminderID == "" {
		return &agent.ToolResult{Content: "reminder_id is required", IsError: true}, nil
	}

	if !t.scheduler.Remove(input.ReminderID) {
		return &agent.ToolResult{Content: "reminder not found", IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Reminder cancelled: %s", input.ReminderID)}, nil
}
