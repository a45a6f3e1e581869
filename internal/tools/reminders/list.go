package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/cron"
)

// ListTool lists active reminders for the current agent.
type ListTool struct {
	scheduler *cron.Scheduler
}

func NewListTool(scheduler *cron.Scheduler) *ListTool {
	return &ListTool{scheduler: scheduler}
}

func (t *ListTool) Name() string { return "list_reminders" }

func (t *ListTool) Description() string {
	return "List all active reminders for the current agent"
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"limit": {
				"type": "integer",
				"description": "Maximum number of reminders to return (default 20)"
			}
		}
	}`)
}

type ListInput struct {
	Limit int `json:"limit"`
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.scheduler == nil {
		return &agent.ToolResult{Content: "scheduler unavailable", IsError: true}, nil
	}

	var input ListInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}

	session := agent.SessionFromContext(ctx)
	agentID, _, _, _ := sessionFields(session)

	var matched []*cron.ScheduledTask
	for _, task := range t.scheduler.Tasks() {
		if task.AgentID != agentID || !task.Enabled {
			continue
		}
		if _, ok := task.Payload.(ReminderPayload); !ok {
			continue
		}
		matched = append(matched, task)
		if len(matched) >= input.Limit {
			break
		}
	}

	if len(matched) == 0 {
		return &agent.ToolResult{Content: "No active reminders found."}, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d reminder(s):\n\n", len(matched)))
	for i, task := range matched {
		payload := task.Payload.(ReminderPayload)
		sb.WriteString(fmt.Sprintf("%d. ID: %s\n", i+1, task.ID))
		sb.WriteString(fmt.Sprintf("   Message: %s\n", payload.Message))
		if !task.TriggerAt.IsZero() {
			duration := time.Until(task.TriggerAt)
			if duration > 0 {
				sb.WriteString(fmt.Sprintf("   Fires: %s (in %s)\n", task.TriggerAt.Format("Mon Jan 2 3:04 PM"), formatDuration(duration)))
			} else {
				sb.WriteString(fmt.Sprintf("   Fires: %s\n", task.TriggerAt.Format("Mon Jan 2 3:04 PM")))
			}
		}
		sb.WriteString("\n")
	}
	return &agent.ToolResult{Content: sb.String()}, nil
}
