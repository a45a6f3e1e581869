package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/channels"
	"github.com/outpostlabs/conduit/internal/cron"
	"github.com/outpostlabs/conduit/pkg/models"
)

// turnToolContext is the ToolContext bound to one queue entry's engine
// invocation. Tools reach it via ToolContextFromContext rather than a
// constructor argument, since the engine's tool registry is built once at
// startup and has no per-turn state of its own.
type turnToolContext struct {
	o       *Orchestrator
	rt      *agentRuntime
	session *models.Session
	entry   *QueueEntry

	mu        sync.Mutex
	delivered bool
}

func (tc *turnToolContext) wasDelivered() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.delivered
}

func (tc *turnToolContext) markDelivered() {
	tc.mu.Lock()
	tc.delivered = true
	tc.mu.Unlock()
}

func (tc *turnToolContext) SendMessage(ctx context.Context, text string) error {
	adapter, ok := tc.o.channels.GetOutbound(tc.session.Channel)
	if !ok {
		return fmt.Errorf("orchestrator: no outbound adapter for channel %q", tc.session.Channel)
	}
	err := adapter.Send(ctx, &models.Message{
		SessionID: tc.session.ID,
		Channel:   tc.session.Channel,
		ChannelID: tc.session.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
	})
	if err == nil {
		tc.markDelivered()
	}
	return err
}

func (tc *turnToolContext) SendButtons(ctx context.Context, text string, buttons [][]channels.Button) (string, error) {
	adapter, ok := tc.o.channels.GetButtons(tc.session.Channel)
	if !ok {
		return "", fmt.Errorf("orchestrator: no buttons adapter for channel %q", tc.session.Channel)
	}
	id, err := adapter.SendButtons(ctx, &channels.ButtonsRequest{
		ChannelID: tc.session.ChannelID,
		Content:   text,
		Buttons:   buttons,
	})
	if err == nil {
		tc.markDelivered()
	}
	return id, err
}

func (tc *turnToolContext) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	adapter, ok := tc.o.channels.GetDownloads(tc.session.Channel)
	if !ok {
		return nil, fmt.Errorf("orchestrator: no download adapter for channel %q", tc.session.Channel)
	}
	return adapter.DownloadFile(ctx, fileID)
}

func (tc *turnToolContext) AddSchedule(task *cron.ScheduledTask) error {
	if tc.o.scheduler == nil {
		return fmt.Errorf("orchestrator: no scheduler configured")
	}
	return tc.o.scheduler.Add(task)
}

func (tc *turnToolContext) RemoveSchedule(taskID string) bool {
	if tc.o.scheduler == nil {
		return false
	}
	return tc.o.scheduler.Remove(taskID)
}

func (tc *turnToolContext) ToggleSchedule(taskID string, enabled bool) bool {
	if tc.o.scheduler == nil {
		return false
	}
	return tc.o.scheduler.Update(taskID, func(task *cron.ScheduledTask) {
		task.Enabled = enabled
	})
}

func (tc *turnToolContext) SetOneShotTrigger(taskID string, at time.Time) bool {
	if tc.o.scheduler == nil {
		return false
	}
	return tc.o.scheduler.Update(taskID, func(task *cron.ScheduledTask) {
		task.TriggerAt = at
		task.Kind = cron.TaskAbsolute
	})
}

func (tc *turnToolContext) RecordUsageEvent(provider, model string, inputTokens, outputTokens int64, costUSD float64) {
	if tc.o.budget != nil && costUSD > 0 {
		tc.o.budget.RecordSpend(tc.rt.cfg.ID, costUSD)
	}
	if tc.o.audit != nil {
		tc.o.audit.LogAgentAction(context.Background(), tc.rt.cfg.ID, "llm_usage", fmt.Sprintf("%s/%s", provider, model), map[string]any{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"cost_usd":      costUSD,
		}, tc.session.Key)
	}
}

func (tc *turnToolContext) RecordResourceEvent(kind, detail string) {
	if tc.o.audit != nil {
		tc.o.audit.LogAgentAction(context.Background(), tc.rt.cfg.ID, kind, detail, nil, tc.session.Key)
	}
}

func (tc *turnToolContext) CheckBudget(ctx context.Context) (ok bool, reason string) {
	if tc.o.budget == nil {
		return true, ""
	}
	return tc.o.budget.CheckBudget(ctx, tc.rt.cfg.ID)
}

// RequestApproval implements §4.7.1's approval protocol: compose a capped
// preview, send it with two inline buttons whose callback data carries the
// approve:/deny: prefixes, then block on AwaitDecision until a button press
// or the 120s timeout resolves it.
func (tc *turnToolContext) RequestApproval(ctx context.Context, req ApprovalRequestInput) (bool, error) {
	if tc.o.approvals == nil {
		return false, fmt.Errorf("orchestrator: no approval checker configured")
	}

	approval, err := tc.o.approvals.CreateApprovalRequest(ctx, tc.rt.cfg.ID, tc.session.ID, req.ToolUse, req.Reason)
	if err != nil {
		return false, err
	}

	approveData, denyData := agent.ApprovalCallbackData(approval.ID)
	text := fmt.Sprintf("Approval needed: %s\n%s\n\n%s", req.Kind, req.Reason, capPreview(req.Detail, 800))

	buttonsAdapter, ok := tc.o.channels.GetButtons(tc.session.Channel)
	if !ok {
		_ = tc.o.approvals.Deny(ctx, approval.ID, "system")
		return false, fmt.Errorf("orchestrator: no buttons adapter for channel %q", tc.session.Channel)
	}

	if _, err := buttonsAdapter.SendButtons(ctx, &channels.ButtonsRequest{
		ChannelID: tc.session.ChannelID,
		Content:   text,
		Buttons: [][]channels.Button{{
			{Text: "Approve", CallbackData: approveData},
			{Text: "Deny", CallbackData: denyData},
		}},
	}); err != nil {
		_ = tc.o.approvals.Deny(ctx, approval.ID, "system")
		return false, nil
	}

	decision, err := tc.o.approvals.AwaitDecision(ctx, approval.ID)
	if err != nil {
		return false, err
	}

	status := "Request denied."
	approved := decision == agent.ApprovalAllowed
	if approved {
		status = "Request approved."
	}
	_ = tc.SendMessage(ctx, status)

	return approved, nil
}

func (tc *turnToolContext) AgentID() string   { return tc.rt.cfg.ID }
func (tc *turnToolContext) SessionID() string { return tc.session.ID }

func capPreview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…(truncated)"
}
