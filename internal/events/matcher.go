package events

import (
	"encoding/json"
	"strings"
)

// matches evaluates a single Subscription against an event per the rule
// for its Type. Poll subscriptions never match here; they are driven by a
// periodic ticker external to Dispatch.
func (s *Subscription) matches(e *Event) bool {
	switch s.Type {
	case SubscriptionWebhook:
		return s.matchesWebhook(e)
	case SubscriptionKeyword:
		return s.matchesKeyword(e)
	case SubscriptionEntityState:
		return s.matchesEntityState(e)
	case SubscriptionCustom:
		return s.matchesCustom(e)
	case SubscriptionPoll:
		return false
	default:
		return false
	}
}

// matchesWebhook implements "webhook:*" matching any webhook event, and
// "webhook:<prefix>" matching an event whose "source:eventType" equals
// <prefix> or starts with "<prefix>:".
func (s *Subscription) matchesWebhook(e *Event) bool {
	prefix := strings.TrimPrefix(s.Pattern, "webhook:")
	if prefix == "*" || prefix == "" {
		return true
	}
	key := e.Source + ":" + e.EventType
	return key == prefix || strings.HasPrefix(key, prefix+":")
}

// matchesKeyword does a case-insensitive substring search across the
// event's source and its serialized data.
func (s *Subscription) matchesKeyword(e *Event) bool {
	keyword := strings.ToLower(strings.TrimSpace(s.Keyword))
	if keyword == "" {
		return false
	}
	if strings.Contains(strings.ToLower(e.Source), keyword) {
		return true
	}
	serialized, err := json.Marshal(e.Data)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(serialized)), keyword)
}

// matchesEntityState requires the event's data to carry the subscribed
// entity id; if an explicit state value was subscribed to, the event's
// "state" field must equal it, else any change to that entity matches.
func (s *Subscription) matchesEntityState(e *Event) bool {
	if s.EntityID == "" || e.Data == nil {
		return false
	}
	entityID, _ := e.Data["entity_id"].(string)
	if entityID != s.EntityID {
		return false
	}
	if s.EntityState == "" {
		return true
	}
	newState, _ := e.Data["state"].(string)
	return newState == s.EntityState
}

// matchesCustom does an exact match on event type, or a trailing-wildcard
// prefix match when Pattern ends in "*".
func (s *Subscription) matchesCustom(e *Event) bool {
	if s.Pattern == "" {
		return false
	}
	if strings.HasSuffix(s.Pattern, "*") {
		return strings.HasPrefix(e.EventType, strings.TrimSuffix(s.Pattern, "*"))
	}
	return s.Pattern == e.EventType
}
