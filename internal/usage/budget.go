package usage

import (
	"context"
	"sync"
	"time"
)

// BudgetGate tracks each agent's spend for the current calendar day against
// its configured daily cap, and tracks one-off override grants that lift the
// cap through the end of the day they were granted on.
//
// CheckBudget satisfies the agent package's BudgetChecker interface without
// either package importing the other.
type BudgetGate struct {
	mu        sync.Mutex
	dailyCaps map[string]float64 // agentID -> cap in USD, 0 = no cap
	spent     map[string]daySpend
	overrides map[string]time.Time // agentID -> granted-on day (local date)
	now       func() time.Time
}

type daySpend struct {
	day   string // YYYY-MM-DD, in the gate's clock
	total float64
}

// NewBudgetGate creates a gate with the given per-agent daily caps (USD).
// An agent absent from caps, or present with a zero cap, is uncapped.
func NewBudgetGate(dailyCaps map[string]float64) *BudgetGate {
	caps := make(map[string]float64, len(dailyCaps))
	for k, v := range dailyCaps {
		caps[k] = v
	}
	return &BudgetGate{
		dailyCaps: caps,
		spent:     make(map[string]daySpend),
		overrides: make(map[string]time.Time),
		now:       time.Now,
	}
}

func (g *BudgetGate) today() string {
	return g.now().Format("2006-01-02")
}

// RecordSpend adds a completed LLM call's cost to the agent's running total
// for the current day, resetting the running total if the day has rolled
// over since the last record.
func (g *BudgetGate) RecordSpend(agentID string, costUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	today := g.today()
	s := g.spent[agentID]
	if s.day != today {
		s = daySpend{day: today}
	}
	s.total += costUSD
	g.spent[agentID] = s
}

// CheckBudget reports whether agentID may place another LLM call: either it
// has no configured cap, it has an active override for today, or its spend
// so far today is still under the cap. ok=false carries a human-readable
// reason for the BudgetExhausted error surfaced to the caller.
func (g *BudgetGate) CheckBudget(ctx context.Context, agentID string) (ok bool, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dailyCap := g.dailyCaps[agentID]
	if dailyCap <= 0 {
		return true, ""
	}

	today := g.today()
	if grantedDay, has := g.overrides[agentID]; has && grantedDay.Format("2006-01-02") == today {
		return true, ""
	}

	s := g.spent[agentID]
	if s.day != today {
		return true, ""
	}
	if s.total >= dailyCap {
		return false, "daily budget exhausted"
	}
	return true, ""
}

// GrantOverride lifts agentID's daily cap for the remainder of the current
// calendar day. The grant does not carry over to the following day.
func (g *BudgetGate) GrantOverride(agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrides[agentID] = g.now()
}

// SpentToday returns the agent's running total for the current day.
func (g *BudgetGate) SpentToday(agentID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.spent[agentID]
	if s.day != g.today() {
		return 0
	}
	return s.total
}
