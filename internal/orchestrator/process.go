package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/channels"
	"github.com/outpostlabs/conduit/internal/typing"
	"github.com/outpostlabs/conduit/pkg/models"
)

// defaultProcessTimeout bounds a single queue entry's engine invocation
// (§4.7 step 5). Overridable via AGENT_PROCESS_TIMEOUT_MS.
const defaultProcessTimeout = 180 * time.Second

var processTimeout = resolveProcessTimeout()

func resolveProcessTimeout() time.Duration {
	raw := strings.TrimSpace(os.Getenv("AGENT_PROCESS_TIMEOUT_MS"))
	if raw == "" {
		return defaultProcessTimeout
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return defaultProcessTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// process runs one queue entry through the Engine end to end: the
// budget-approval gate, the typing indicator, the engine invocation itself,
// conditional delivery of its text, the scheduler execution receipt, and
// the inter-turn delay. It is always called from the owning AgentQueue's
// single drain goroutine, so no two entries for the same agent ever run
// concurrently.
func (o *Orchestrator) process(ctx context.Context, rt *agentRuntime, entry *QueueEntry) {
	session := entry.Session
	logger := o.logger.With("agent_id", rt.cfg.ID, "session_id", session.ID, "source", entry.Source)

	o.logVisible(logger, entry)

	if rt.cfg.DailyBudgetUSD > 0 && o.budget != nil {
		if ok, reason := o.budget.CheckBudget(ctx, rt.cfg.ID); !ok {
			if !o.requestBudgetApproval(ctx, rt, session, reason) {
				o.sendText(ctx, rt, session, entry, fmt.Sprintf("I've hit today's budget cap (%s) and wasn't authorized to go over it.", reason))
				return
			}
			o.budget.GrantOverride(rt.cfg.ID)
		}
	}

	var typingCtl *typing.TypingController
	if entry.Source == SourceUser {
		typingCtl = o.startTyping(ctx, rt, session)
	}
	if typingCtl != nil {
		defer typingCtl.Cleanup()
	}

	engine, directive := o.classifyTurn(ctx, rt, session, entry)

	tc := &turnToolContext{o: o, rt: rt, session: session, entry: entry}
	runCtx := WithToolContext(ctx, tc)
	if directive != "" {
		runCtx = agent.WithSystemPrompt(runCtx, rt.cfg.SystemPrompt+"\n\n"+directive)
	}

	runCtx, cancel := context.WithTimeout(runCtx, processTimeout)
	defer cancel()

	msg := entry.Message
	if msg == nil {
		msg = &models.Message{
			SessionID: session.ID,
			Channel:   session.Channel,
			ChannelID: session.ChannelID,
			Direction: models.DirectionInbound,
			Role:      models.RoleSystem,
			Content:   entry.Instruction,
			CreatedAt: time.Now(),
		}
	}

	chunks, err := engine.Process(runCtx, session, msg)
	if err != nil {
		logger.Error("engine invocation failed", "error", err)
		if entry.Source == SourceScheduler {
			o.sendSchedulerReceipt(ctx, rt, session, entry, false, err.Error())
		}
		o.delay(rt, entry)
		return
	}

	var response strings.Builder
	var runErr error
	for chunk := range chunks {
		if chunk.Error != nil {
			runErr = chunk.Error
			logger.Error("engine stream error", "error", chunk.Error)
			continue
		}
		if chunk.Text != "" {
			response.WriteString(chunk.Text)
		}
	}

	if !tc.wasDelivered() && entry.Source == SourceUser {
		switch {
		case response.Len() > 0:
			o.sendText(ctx, rt, session, entry, response.String())
		case isBudgetExhausted(runErr):
			o.sendText(ctx, rt, session, entry, fmt.Sprintf("I've hit today's budget cap (%s) partway through that and had to stop.", budgetExhaustedReason(runErr)))
		}
	}

	if entry.Source == SourceScheduler {
		detail := response.String()
		success := runErr == nil
		if !success {
			detail = runErr.Error()
		}
		o.sendSchedulerReceipt(ctx, rt, session, entry, success, detail)
	}

	o.delay(rt, entry)
}

// delay implements §4.7 step 9: a small pause before the queue's drain loop
// picks up the next entry, using the per-agent user/background delay so a
// burst of queued turns doesn't hammer the LLM provider back to back.
func (o *Orchestrator) delay(rt *agentRuntime, entry *QueueEntry) {
	ms := rt.cfg.Options.QueueDelayBackgroundMs
	if entry.Source == SourceUser {
		ms = rt.cfg.Options.QueueDelayUserMs
	}
	if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}

// logVisible gives live observers (structured logs today; a future
// websocket/timeline view tomorrow) visibility into an inbound turn before
// the engine runs, satisfying §4.7 step 2 without double-persisting the
// message the engine itself will persist in step 8.
func (o *Orchestrator) logVisible(logger interface {
	Info(msg string, args ...any)
}, entry *QueueEntry) {
	switch entry.Source {
	case SourceUser:
		content := ""
		if entry.Message != nil {
			content = entry.Message.Content
		}
		logger.Info("turn enqueued", "preview", preview(content, 120))
	default:
		logger.Info("turn enqueued", "instruction", preview(entry.Instruction, 120))
	}
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// startTyping constructs a fresh per-turn TypingController whose
// OnReplyStart fires a best-effort typing action on the turn's channel, and
// keeps it refreshed via StartTypingLoop for the duration of a long engine
// call. The caller must defer Cleanup.
func (o *Orchestrator) startTyping(ctx context.Context, rt *agentRuntime, session *models.Session) *typing.TypingController {
	adapter, ok := o.channels.GetActions(session.Channel)
	if !ok {
		return nil
	}

	ctl := typing.NewTypingController(&typing.TypingControllerConfig{
		OnReplyStart: func() {
			_, _ = adapter.ExecuteAction(ctx, &channels.MessageActionRequest{
				Action:    channels.ActionTyping,
				ChannelID: session.ChannelID,
			})
		},
		Log: func(message string) {
			o.logger.Debug("typing controller", "agent_id", rt.cfg.ID, "message", message)
		},
	})
	ctl.OnReplyStart()
	ctl.StartTypingLoop()
	return ctl
}

// sendText delivers content on the turn's originating channel. Used both
// for the engine's final text (step 6) and for refusal/status messages
// generated outside the engine.
func (o *Orchestrator) sendText(ctx context.Context, rt *agentRuntime, session *models.Session, entry *QueueEntry, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	adapter, ok := o.channels.GetOutbound(session.Channel)
	if !ok {
		o.logger.Error("no outbound adapter for channel", "channel", session.Channel, "agent_id", rt.cfg.ID)
		return
	}
	outbound := &models.Message{
		SessionID: session.ID,
		Channel:   session.Channel,
		ChannelID: session.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if entry != nil && entry.Message != nil {
		outbound.ChannelID = entry.Message.ChannelID
	}
	if err := adapter.Send(ctx, outbound); err != nil {
		o.logger.Error("failed to send outbound message", "error", err, "agent_id", rt.cfg.ID)
	}
}

// sendSchedulerReceipt implements §4.7 step 7: a scheduler-sourced turn
// always gets a final execution receipt, success or failure, distinct from
// whatever text the engine itself produced.
func (o *Orchestrator) sendSchedulerReceipt(ctx context.Context, rt *agentRuntime, session *models.Session, entry *QueueEntry, success bool, detail string) {
	status := "completed"
	if !success {
		status = "failed"
	}
	content := fmt.Sprintf("Scheduled task %s: %s", status, preview(detail, 400))
	if entry.Task != nil {
		content = fmt.Sprintf("Scheduled task %s %s: %s", entry.Task.ID, status, preview(detail, 400))
	}
	o.sendText(ctx, rt, session, entry, content)
}

// requestBudgetApproval implements the budget half of §4.7.1: a denial
// leaves the caller to send a refusal; an approval grants today's override
// and lets the calling turn proceed.
func (o *Orchestrator) requestBudgetApproval(ctx context.Context, rt *agentRuntime, session *models.Session, reason string) bool {
	tc := &turnToolContext{o: o, rt: rt, session: session, entry: &QueueEntry{Source: SourceUser}}
	approved, err := tc.RequestApproval(ctx, ApprovalRequestInput{
		Kind:   "budget_override",
		Reason: reason,
		Detail: fmt.Sprintf("agent %q has reached its daily budget cap", rt.cfg.ID),
	})
	if err != nil {
		return false
	}
	return approved
}

// isBudgetExhausted reports whether err is the engine's mid-turn
// BudgetExhausted CoreError, raised when an iteration's pre-call budget
// check fails after an earlier iteration in the same turn already spent
// past the cap.
func isBudgetExhausted(err error) bool {
	var coreErr *agent.CoreError
	return errors.As(err, &coreErr) && coreErr.Kind == agent.KindBudgetExhausted
}

func budgetExhaustedReason(err error) string {
	var coreErr *agent.CoreError
	if errors.As(err, &coreErr) && coreErr.Message != "" {
		return coreErr.Message
	}
	return "daily budget exhausted"
}
