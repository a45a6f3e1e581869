package events

import (
	"context"
	"fmt"
	"time"
)

// Dispatch runs the full routing algorithm for a single event: resolve
// targets, filter by source acceptance, fire matching subscriptions (with
// cooldown) and skill triggers, and fall back to a generic delivery for
// targeted or urgent events that matched neither. Every dispatch is
// recorded in the bounded log regardless of outcome.
func (r *Router) Dispatch(ctx context.Context, e *Event) error {
	if e == nil {
		return fmt.Errorf("events: nil event")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	entry := LogEntry{Event: *e, DispatchedAt: time.Now()}

	targets := r.targetAgentIDs(e)

	for _, agentID := range targets {
		r.mu.RLock()
		reg, ok := r.agents[agentID]
		r.mu.RUnlock()
		if !ok || !reg.acceptsSource(e.Source) {
			continue
		}

		matchedSub := false
		for _, sub := range r.matchingSubscriptions(agentID, e) {
			matchedSub = true
			if !r.fireSubscription(ctx, sub, e, &entry) {
				continue
			}
		}

		matchedSkill := false
		for _, trigger := range r.matchingSkillTriggers(agentID, e) {
			matchedSkill = true
			instruction := genericInstruction(e, fmt.Sprintf("skill %q", trigger.SkillName))
			r.deliverTo(ctx, agentID, instruction, e, &entry)
			entry.MatchedSkills = append(entry.MatchedSkills, trigger.SkillName)
		}

		if !matchedSub && !matchedSkill && (e.explicitlyTargeted() || e.Priority.urgent()) {
			instruction := genericInstruction(e, "no matching subscription")
			r.deliverTo(ctx, agentID, instruction, e, &entry)
			entry.GenericDelivered = true
		}
	}

	r.appendLog(entry)
	return nil
}

// matchingSubscriptions returns agentID's subscriptions that match e,
// ignoring Poll subscriptions (driven externally by a ticker, never by
// Dispatch) and subscriptions still inside their cooldown window.
func (r *Router) matchingSubscriptions(agentID string, e *Event) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if sub.AgentID != agentID || sub.Type == SubscriptionPoll {
			continue
		}
		if !sub.matches(e) {
			continue
		}
		if sub.Cooldown > 0 && !sub.lastFired.IsZero() && time.Since(sub.lastFired) < sub.Cooldown {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func (r *Router) matchingSkillTriggers(agentID string, e *Event) []SkillTrigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []SkillTrigger
	for _, trigger := range r.triggers {
		if trigger.matches(e) {
			out = append(out, trigger)
		}
	}
	return out
}

// fireSubscription records the firing (for cooldown purposes) and delivers
// the built instruction. Returns true if delivery was attempted.
func (r *Router) fireSubscription(ctx context.Context, sub *Subscription, e *Event, entry *LogEntry) bool {
	r.mu.Lock()
	sub.lastFired = time.Now()
	r.mu.Unlock()

	instruction := genericInstruction(e, fmt.Sprintf("subscription %s (%s)", sub.ID, sub.Type))
	r.deliverTo(ctx, sub.AgentID, instruction, e, entry)
	entry.MatchedSubs = append(entry.MatchedSubs, sub.ID)
	return true
}

func (r *Router) deliverTo(ctx context.Context, agentID, instruction string, e *Event, entry *LogEntry) {
	r.mu.RLock()
	deliver := r.deliver
	r.mu.RUnlock()

	if deliver == nil {
		entry.Errors = append(entry.Errors, fmt.Sprintf("%s: no delivery func registered", agentID))
		return
	}
	if err := deliver(ctx, agentID, instruction, e); err != nil {
		entry.Errors = append(entry.Errors, fmt.Sprintf("%s: %v", agentID, err))
		r.logger.Warn("event delivery failed", "agent", agentID, "event_id", e.ID, "error", err)
		return
	}
	entry.Delivered = append(entry.Delivered, agentID)
}

// genericInstruction builds the text handed to an agent's message queue
// for an event, noting why it was delivered (matched rule, or fallback).
func genericInstruction(e *Event, reason string) string {
	return fmt.Sprintf("Event received from %s (%s), matched via %s: %v", e.Source, e.EventType, reason, e.Data)
}
