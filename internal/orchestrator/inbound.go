package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/channels"
	"github.com/outpostlabs/conduit/internal/cron"
	"github.com/outpostlabs/conduit/internal/events"
	"github.com/outpostlabs/conduit/internal/sessions"
	"github.com/outpostlabs/conduit/internal/tools/reminders"
	"github.com/outpostlabs/conduit/pkg/models"
)

// Transcriber converts a voice/audio attachment to text. Implementations
// live outside this package (speech-to-text is a separate concern); a nil
// Transcriber simply skips voice/audio merging.
type Transcriber interface {
	Transcribe(ctx context.Context, attachment models.Attachment) (string, error)
}

// SetTranscriber installs the voice/audio transcription hook used by
// HandleChannelMessage. Safe to call once at startup.
func (o *Orchestrator) SetTranscriber(t Transcriber) {
	o.mu.Lock()
	o.transcriber = t
	o.mu.Unlock()
}

func (o *Orchestrator) transcriberHook() Transcriber {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.transcriber
}

// HandleChannelMessage is the chat-bot inbound path: voice/audio
// attachments are transcribed and merged into the text, keyword
// subscriptions are checked and dispatched as webhook-sourced turns, and
// the message itself is enqueued as a user turn.
func (o *Orchestrator) HandleChannelMessage(ctx context.Context, agentID string, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("orchestrator: nil message")
	}
	rt, ok := o.agentRuntime(agentID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown agent %q", agentID)
	}

	if t := o.transcriberHook(); t != nil {
		for _, att := range msg.Attachments {
			if att.Type != "voice" && att.Type != "audio" {
				continue
			}
			transcript, err := t.Transcribe(ctx, att)
			if err != nil {
				o.logger.Warn("transcription failed", "error", err, "attachment", att.ID)
				continue
			}
			if transcript == "" {
				continue
			}
			if msg.Content != "" {
				msg.Content += "\n" + transcript
			} else {
				msg.Content = transcript
			}
		}
	}

	o.matchKeywordSubscriptions(ctx, agentID, msg)

	session, err := o.sessionFor(ctx, rt, msg.Channel, msg.ChannelID)
	if err != nil {
		return err
	}

	rt.queue.Enqueue(&QueueEntry{
		Source:     SourceUser,
		Message:    msg,
		Session:    session,
		EnqueuedAt: time.Now(),
	})
	return nil
}

// matchKeywordSubscriptions dispatches a synthetic chat event through the
// router so keyword subscriptions registered against this agent fire their
// own webhook-sourced turn, independent of the user turn the message is
// also enqueued as.
func (o *Orchestrator) matchKeywordSubscriptions(ctx context.Context, agentID string, msg *models.Message) {
	if o.router == nil || strings.TrimSpace(msg.Content) == "" {
		return
	}
	hasKeywordSub := false
	for _, sub := range o.router.Subscriptions(agentID) {
		if sub.Type == events.SubscriptionKeyword {
			hasKeywordSub = true
			break
		}
	}
	if !hasKeywordSub {
		return
	}
	_ = o.router.Dispatch(ctx, &events.Event{
		Source:         "chat",
		EventType:      "message",
		TargetAgentIDs: []string{agentID},
		Data:           map[string]any{"text": msg.Content},
		Priority:       events.PriorityLow,
	})
}

// HandleWebMessage is the web-UI inbound path: the message is enqueued as a
// user turn carrying its channel tag, bypassing channel-adapter concerns
// (attachments, keyword subscriptions) that only apply to chat bots.
func (o *Orchestrator) HandleWebMessage(ctx context.Context, agentID string, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("orchestrator: nil message")
	}
	rt, ok := o.agentRuntime(agentID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown agent %q", agentID)
	}

	session, err := o.sessionFor(ctx, rt, msg.Channel, msg.ChannelID)
	if err != nil {
		return err
	}
	if session.Metadata == nil {
		session.Metadata = map[string]any{}
	}
	session.Metadata["channel_tag"] = "web"

	rt.queue.Enqueue(&QueueEntry{
		Source:     SourceUser,
		Message:    msg,
		Session:    session,
		EnqueuedAt: time.Now(),
	})
	return nil
}

// HandleCallback is the inbound path for button-press replies. Approval
// callbacks resolve the matching pending ApprovalRequest directly; any
// other callback is translated into an ordinary text reply and enqueued as
// a user turn so the engine can act on it.
func (o *Orchestrator) HandleCallback(ctx context.Context, agentID string, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("orchestrator: nil message")
	}
	data, ok := channels.CallbackData(msg)
	if !ok {
		return o.HandleChannelMessage(ctx, agentID, msg)
	}

	if decision, requestID, ok := agent.ParseApprovalCallback(data); ok {
		if o.approvals == nil {
			return fmt.Errorf("orchestrator: no approval checker configured")
		}
		switch decision {
		case agent.ApprovalAllowed:
			return o.approvals.Approve(ctx, requestID, msg.ChannelID)
		default:
			return o.approvals.Deny(ctx, requestID, msg.ChannelID)
		}
	}

	msg.Content = data
	return o.HandleChannelMessage(ctx, agentID, msg)
}

// handleScheduledTask implements cron.TriggerHandler (case 3, §4.7): a
// reminder payload is delivered straight through the output channel
// without invoking the engine; any other task is enqueued as a
// scheduler-sourced turn with the fired task attached.
func (o *Orchestrator) handleScheduledTask(ctx context.Context, task *cron.ScheduledTask) error {
	rt, ok := o.agentRuntime(task.AgentID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown agent %q", task.AgentID)
	}

	if payload, ok := task.Payload.(reminders.ReminderPayload); ok {
		return o.deliverReminder(ctx, rt, task, payload)
	}
	if payload, ok := task.Payload.(*reminders.ReminderPayload); ok && payload != nil {
		return o.deliverReminder(ctx, rt, task, *payload)
	}

	session, err := o.sessionFor(ctx, rt, models.ChannelType(rt.cfg.Channel.Type), task.UserID)
	if err != nil {
		return err
	}

	rt.queue.Enqueue(&QueueEntry{
		Source:      SourceScheduler,
		Session:     session,
		Task:        task,
		Instruction: fmt.Sprintf("A scheduled task fired: %v", task.Payload),
		EnqueuedAt:  time.Now(),
	})
	return nil
}

func (o *Orchestrator) deliverReminder(ctx context.Context, rt *agentRuntime, task *cron.ScheduledTask, payload reminders.ReminderPayload) error {
	channelType := models.ChannelType(payload.ChannelType)
	if channelType == "" {
		channelType = models.ChannelType(rt.cfg.Channel.Type)
	}
	channelID := payload.ChannelID
	if channelID == "" {
		channelID = task.UserID
	}

	adapter, ok := o.channels.GetOutbound(channelType)
	if !ok {
		return fmt.Errorf("orchestrator: no outbound adapter for channel %q", channelType)
	}

	content := payload.Message
	if payload.Title != "" {
		content = payload.Title + "\n" + content
	}
	return adapter.Send(ctx, &models.Message{
		Channel:   channelType,
		ChannelID: channelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	})
}

// deliverRoutedEvent implements events.DeliveryFunc (case 4, §4.7): an
// event the router matched against agentID is enqueued as a
// webhook-sourced turn carrying the router's composed instruction.
func (o *Orchestrator) deliverRoutedEvent(ctx context.Context, agentID, instruction string, event *events.Event) error {
	rt, ok := o.agentRuntime(agentID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown agent %q", agentID)
	}

	session, err := o.sessionFor(ctx, rt, models.ChannelType(rt.cfg.Channel.Type), rt.cfg.Channel.ChatID)
	if err != nil {
		return err
	}

	rt.queue.Enqueue(&QueueEntry{
		Source:      SourceWebhook,
		Session:     session,
		Instruction: instruction,
		EnqueuedAt:  time.Now(),
	})
	return nil
}

func (o *Orchestrator) sessionFor(ctx context.Context, rt *agentRuntime, channel models.ChannelType, channelID string) (*models.Session, error) {
	key := sessions.SessionKey(rt.cfg.ID, channel, channelID)
	return o.sessionStore.GetOrCreate(ctx, key, rt.cfg.ID, channel, channelID)
}
