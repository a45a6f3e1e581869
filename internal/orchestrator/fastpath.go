package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/pkg/models"
)

// affirmativeLexicon is the set of user replies the confirmation fast-path
// treats as a "yes" to a pending confirmation question.
var affirmativeLexicon = map[string]bool{
	"yes": true, "yep": true, "yeah": true, "yup": true, "sure": true,
	"ok": true, "okay": true, "confirm": true, "confirmed": true,
	"correct": true, "do it": true, "go ahead": true, "please do": true,
	"proceed": true, "affirmative": true, "sounds good": true,
}

// confirmationAskPattern flags an assistant message that asked the user to
// confirm or authorize something, for the confirmation fast-path's
// last-three-messages check.
var confirmationAskPattern = regexp.MustCompile(`(?i)(shall i|should i|do you want me to|want me to proceed|confirm|are you sure|ok to proceed|okay to proceed)`)

// imperativeVerbPattern flags a message opening with a command-style verb,
// for the action fast-path.
var imperativeVerbPattern = regexp.MustCompile(`(?i)^\s*(add|create|delete|remove|set|schedule|cancel|update|send|remind|turn on|turn off|enable|disable|start|stop|list|show)\b`)

// confirmationDirective is injected into the confirmation fast-path's system
// prompt so the model commits to the action rather than re-asking.
const confirmationDirective = "The user just confirmed a pending action. Proceed with it now; do not ask for confirmation again."

// actionDirective is injected into the action fast-path's system prompt so
// the model prefers immediate tool execution over a clarifying question.
const actionDirective = "The user gave a direct instruction. Prefer calling the appropriate tool immediately over asking a clarifying question, unless the action would otherwise be unsafe or clearly ambiguous."

// classifyTurn selects which of rt's two engines should run entry and any
// system-prompt directive to layer on top, per the confirmation and action
// fast-path heuristics (§4.7 Fast-paths).
func (o *Orchestrator) classifyTurn(ctx context.Context, rt *agentRuntime, session *models.Session, entry *QueueEntry) (engine *agent.AgenticRuntime, directive string) {
	if entry.Source != SourceUser || entry.Message == nil {
		return rt.normal, ""
	}

	text := strings.ToLower(strings.TrimSpace(entry.Message.Content))
	if text == "" {
		return rt.normal, ""
	}

	if affirmativeLexicon[text] && o.lastAssistantAskedConfirmation(ctx, session) {
		return rt.confirm, confirmationDirective
	}

	if imperativeVerbPattern.MatchString(text) {
		return rt.normal, actionDirective
	}

	return rt.normal, ""
}

// lastAssistantAskedConfirmation reports whether any of the session's last
// three assistant messages read as a confirmation request.
func (o *Orchestrator) lastAssistantAskedConfirmation(ctx context.Context, session *models.Session) bool {
	history, err := o.sessionStore.GetHistory(ctx, session.ID, 12)
	if err != nil {
		return false
	}

	checked := 0
	for i := len(history) - 1; i >= 0 && checked < 3; i-- {
		msg := history[i]
		if msg.Role != models.RoleAssistant {
			continue
		}
		checked++
		if confirmationAskPattern.MatchString(msg.Content) {
			return true
		}
	}
	return false
}
