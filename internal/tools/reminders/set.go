// Package reminders provides the set_reminder / cancel_reminder / list_reminders
// built-in tools, backed directly by the cron scheduler rather than the
// persistence store since reminders are scheduled triggers, not records.
package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/cron"
	"github.com/outpostlabs/conduit/pkg/models"
)

// ReminderPayload is the Payload carried on a reminder's ScheduledTask.
// The orchestrator's scheduler-trigger fast path recognizes this payload
// type and delivers Message directly through the output channel without
// invoking the LLM.
type ReminderPayload struct {
	Message     string `json:"message"`
	Title       string `json:"title"`
	ChannelType string `json:"channel_type"`
	ChannelID   string `json:"channel_id"`
}

// SetTool creates a reminder that fires a one-shot ScheduledTask at a
// specified time.
type SetTool struct {
	scheduler *cron.Scheduler
}

func NewSetTool(scheduler *cron.Scheduler) *SetTool {
	return &SetTool{scheduler: scheduler}
}

func (t *SetTool) Name() string { return "set_reminder" }

func (t *SetTool) Description() string {
	return "Set a reminder to send a message at a specified time. Use relative times like 'in 5 minutes', 'in 2 hours', or absolute times."
}

func (t *SetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {
				"type": "string",
				"description": "The reminder message to send when triggered"
			},
			"when": {
				"type": "string",
				"description": "When to send the reminder: 'in X minutes', 'in X hours', 'in X days', or an ISO8601 timestamp"
			},
			"title": {
				"type": "string",
				"description": "Optional short title for the reminder"
			}
		},
		"required": ["message", "when"]
	}`)
}

type SetInput struct {
	Message string `json:"message"`
	When    string `json:"when"`
	Title   string `json:"title"`
}

func (t *SetTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.scheduler == nil {
		return &agent.ToolResult{Content: "scheduler unavailable", IsError: true}, nil
	}

	var input SetInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.Message == "" {
		return &agent.ToolResult{Content: "message is required", IsError: true}, nil
	}
	if input.When == "" {
		return &agent.ToolResult{Content: "when is required", IsError: true}, nil
	}

	triggerAt, err := parseWhen(input.When)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid time: %v", err), IsError: true}, nil
	}
	if triggerAt.Before(time.Now()) {
		return &agent.ToolResult{Content: "cannot set reminder in the past", IsError: true}, nil
	}

	session := agent.SessionFromContext(ctx)
	agentID, userID, channelType, channelID := sessionFields(session)

	task := cron.NewAbsoluteTask(uuid.NewString(), agentID, userID, triggerAt, ReminderPayload{
		Message:     input.Message,
		Title:       input.Title,
		ChannelType: channelType,
		ChannelID:   channelID,
	})
	if err := t.scheduler.Add(task); err != nil {
		return nil, fmt.Errorf("schedule reminder: %w", err)
	}

	duration := time.Until(triggerAt).Round(time.Second)
	response := fmt.Sprintf("Reminder set for %s (in %s)\nID: %s\nMessage: %s",
		triggerAt.Format("Mon Jan 2 3:04 PM"),
		formatDuration(duration),
		task.ID,
		input.Message,
	)
	return &agent.ToolResult{Content: response}, nil
}

func sessionFields(session *models.Session) (agentID, userID, channelType, channelID string) {
	agentID = "default"
	if session == nil {
		return
	}
	if session.AgentID != "" {
		agentID = session.AgentID
	}
	userID = session.ID
	channelType = string(session.Channel)
	channelID = session.ChannelID
	return
}

// parseWhen parses a time specification into an absolute time. Supports
// "in 5 minutes"-style relative phrases and a handful of absolute formats.
func parseWhen(when string) (time.Time, error) {
	when = strings.TrimSpace(strings.ToLower(when))

	if strings.HasPrefix(when, "in ") {
		return parseRelativeTime(strings.TrimPrefix(when, "in "))
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"Jan 2 15:04",
		"Jan 2 3:04 PM",
		"3:04 PM",
		"15:04",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, when); err == nil {
			if t.Year() == 0 {
				now := time.Now()
				t = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local)
				if t.Before(now) {
					t = t.Add(24 * time.Hour)
				}
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse time: %s", when)
}

var relativeTimePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(seconds?|minutes?|mins?|hours?|hrs?|days?|weeks?)$`)

func parseRelativeTime(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	matches := relativeTimePattern.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("invalid relative time: %s", s)
	}
	amount, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid number: %s", matches[1])
	}
	unit := matches[2]
	var duration time.Duration
	switch {
	case strings.HasPrefix(unit, "second"):
		duration = time.Duration(amount * float64(time.Second))
	case strings.HasPrefix(unit, "min"):
		duration = time.Duration(amount * float64(time.Minute))
	case strings.HasPrefix(unit, "hour"), strings.HasPrefix(unit, "hr"):
		duration = time.Duration(amount * float64(time.Hour))
	case strings.HasPrefix(unit, "day"):
		duration = time.Duration(amount * float64(24*time.Hour))
	case strings.HasPrefix(unit, "week"):
		duration = time.Duration(amount * float64(7*24*time.Hour))
	default:
		return time.Time{}, fmt.Errorf("unknown unit: %s", unit)
	}
	return time.Now().Add(duration), nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
	if d < 24*time.Hour {
		hrs := d.Hours()
		if hrs < 2 {
			return "1 hour"
		}
		return fmt.Sprintf("%.1f hours", hrs)
	}
	days := d.Hours() / 24
	if days < 2 {
		return "1 day"
	}
	return fmt.Sprintf("%.1f days", days)
}
