package events

import (
	"log/slog"
	"sync"
	"time"
)

const maxLogEntries = 200

// agentRegistration is what the Router knows about a registered agent: the
// user it belongs to (for instruction attribution) and the set of event
// sources it accepts.
type agentRegistration struct {
	userID  string
	sources map[string]struct{}
}

// Router is the process-wide singleton fanning events out to agents. It
// holds no knowledge of how an agent actually receives its instruction;
// that's the registered DeliveryFunc's job.
type Router struct {
	logger *slog.Logger

	mu       sync.RWMutex
	agents   map[string]*agentRegistration
	subs     map[string]*Subscription // by Subscription.ID
	triggers []SkillTrigger
	deliver  DeliveryFunc

	logMu sync.Mutex
	log   []LogEntry
}

// NewRouter creates a Router with no agents or subscriptions registered.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger: logger.With("component", "events"),
		agents: make(map[string]*agentRegistration),
		subs:   make(map[string]*Subscription),
	}
}

// SetDeliveryFunc registers the callback used to hand a matched instruction
// to an agent. Must be set before Dispatch is called.
func (r *Router) SetDeliveryFunc(fn DeliveryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliver = fn
}

// RegisterAgent opts an agent into the router, replacing any existing
// registration for the same id. sources is copied; an empty set means the
// agent accepts no event source except the system pseudo-source.
func (r *Router) RegisterAgent(agentID, userID string, sources []string) {
	set := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		set[s] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agentID] = &agentRegistration{userID: userID, sources: set}
}

// UnregisterAgent removes an agent and any subscriptions it owns.
func (r *Router) UnregisterAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
	for id, sub := range r.subs {
		if sub.AgentID == agentID {
			delete(r.subs, id)
		}
	}
}

// acceptsSource reports whether an agent's registered source set contains
// source, or the pseudo-source "system" which opts into everything.
func (reg *agentRegistration) acceptsSource(source string) bool {
	if _, ok := reg.sources[SystemSource]; ok {
		return true
	}
	_, ok := reg.sources[source]
	return ok
}

// Subscribe registers a Subscription, replacing any existing one with the
// same ID.
func (r *Router) Subscribe(sub *Subscription) {
	if sub == nil || sub.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub
}

// Unsubscribe removes a subscription by id. Returns false if it didn't exist.
func (r *Router) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// Subscriptions returns a snapshot of an agent's subscriptions, in no
// particular order.
func (r *Router) Subscriptions(agentID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscription
	for _, sub := range r.subs {
		if sub.AgentID == agentID {
			copySub := *sub
			out = append(out, &copySub)
		}
	}
	return out
}

// RegisterSkillTrigger adds a skill's event-trigger pattern to the fallback
// matching step. Multiple triggers may share a skill name.
func (r *Router) RegisterSkillTrigger(trigger SkillTrigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, trigger)
}

// Log returns a snapshot of the bounded dispatch log, oldest first.
func (r *Router) Log() []LogEntry {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	out := make([]LogEntry, len(r.log))
	copy(out, r.log)
	return out
}

func (r *Router) appendLog(entry LogEntry) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	r.log = append(r.log, entry)
	if len(r.log) > maxLogEntries {
		r.log = r.log[len(r.log)-maxLogEntries:]
	}
}

// targetAgentIDs resolves step 1 of Dispatch: the explicit target list, or
// every currently registered agent id if none was given.
func (r *Router) targetAgentIDs(e *Event) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e.explicitlyTargeted() {
		out := make([]string, len(e.TargetAgentIDs))
		copy(out, e.TargetAgentIDs)
		return out
	}
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	return out
}
