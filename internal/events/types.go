// Package events implements the Router: a singleton that fans external
// events (webhooks, polled state changes, custom integrations) out to the
// agents subscribed to them and, failing a subscription match, to skills
// whose trigger pattern fits or to a generic delivery for targeted/urgent
// events.
package events

import (
	"context"
	"time"
)

// Priority orders an Event's urgency. It affects only the generic-delivery
// fallback in Dispatch, never subscription matching itself.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// urgent reports whether the priority alone justifies a generic delivery
// when no subscription or skill trigger matched.
func (p Priority) urgent() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// SystemSource is a pseudo-source every agent is implicitly opted into,
// regardless of its registered source set.
const SystemSource = "system"

// Event is a single occurrence delivered to the Router for dispatch.
type Event struct {
	ID             string
	Source         string
	EventType      string
	TargetAgentIDs []string
	Data           map[string]any
	Timestamp      time.Time
	Priority       Priority
}

// explicitlyTargeted reports whether the event named specific agents rather
// than broadcasting to every registered one.
func (e *Event) explicitlyTargeted() bool {
	return len(e.TargetAgentIDs) > 0
}

// SubscriptionType selects which matching rule in matcher.go a Subscription
// is evaluated under.
type SubscriptionType string

const (
	SubscriptionWebhook     SubscriptionType = "webhook"
	SubscriptionKeyword     SubscriptionType = "keyword"
	SubscriptionEntityState SubscriptionType = "entity_state"
	SubscriptionPoll        SubscriptionType = "poll"
	SubscriptionCustom      SubscriptionType = "custom"
)

// Subscription binds an agent to events matching one rule. Which fields
// are consulted depends on Type; see matcher.go for the per-type contract.
type Subscription struct {
	ID      string
	AgentID string
	Type    SubscriptionType

	// Pattern is the webhook "source:eventType" prefix (Type == webhook) or
	// the custom event-type match, with an optional trailing "*" wildcard
	// (Type == custom).
	Pattern string

	// Keyword is the case-insensitive substring to search for (Type == keyword).
	Keyword string

	// EntityID is the target entity id an entity_state event's data must
	// carry (Type == entity_state).
	EntityID string

	// EntityState, if non-empty, requires the event's new-state field to
	// equal this value; empty matches any change to EntityID.
	EntityState string

	// PollInterval is how often an orchestrator should evaluate this
	// subscription's poll source (Type == poll). Unused by Dispatch itself.
	PollInterval time.Duration

	// Cooldown is the minimum gap between two firings of this subscription.
	// Zero disables cooldown enforcement.
	Cooldown time.Duration

	lastFired time.Time
}

// DeliveryFunc is the per-agent callback the Router invokes with a built
// instruction. Implementations typically enqueue it onto the agent's
// message queue via the orchestrator.
type DeliveryFunc func(ctx context.Context, agentID, instruction string, event *Event) error

// SkillTrigger matches a skill whose trigger pattern "<source>:<eventType>"
// fits an incoming event. Registered by whatever owns skill metadata,
// decoupling the Router from the skills package.
type SkillTrigger struct {
	SkillName string
	Source    string
	EventType string
}

// matches reports whether this trigger's source:eventType pattern fits the
// event, with "*" allowed in either half as a wildcard.
func (t SkillTrigger) matches(e *Event) bool {
	return matchPart(t.Source, e.Source) && matchPart(t.EventType, e.EventType)
}

func matchPart(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

// LogEntry is a bounded record of a past dispatch, kept for introspection
// (status endpoints, debugging) rather than durable audit.
type LogEntry struct {
	Event            Event
	MatchedSubs      []string
	MatchedSkills    []string
	GenericDelivered bool
	Delivered        []string
	Errors           []string
	DispatchedAt     time.Time
}
