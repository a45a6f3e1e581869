package orchestrator

import (
	"context"
	"sync"
)

// AgentQueue is one agent's FIFO turn queue: at most one entry in flight at
// a time, with newly-enqueued user turns inserted ahead of any
// already-queued background (scheduler/webhook) turns but never ahead of
// another user turn (the "user-before-background" ordering rule).
type AgentQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries []*QueueEntry
	running bool
	stopped bool

	handle func(context.Context, *QueueEntry)
}

// NewAgentQueue creates a queue that calls handle for each popped entry,
// strictly one at a time, in the goroutine the queue spawns on first Enqueue.
func NewAgentQueue(handle func(context.Context, *QueueEntry)) *AgentQueue {
	q := &AgentQueue{handle: handle}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts entry, starting the drain loop if it is not already
// running. Safe for concurrent callers.
func (q *AgentQueue) Enqueue(entry *QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}

	insertAt := len(q.entries)
	if entry.priority() == 0 {
		for i, existing := range q.entries {
			if existing.priority() > 0 {
				insertAt = i
				break
			}
		}
	}
	q.entries = append(q.entries, nil)
	copy(q.entries[insertAt+1:], q.entries[insertAt:])
	q.entries[insertAt] = entry

	if !q.running {
		q.running = true
		go q.drain()
	}
	q.cond.Broadcast()
}

// Len reports the number of entries waiting (including one possibly in
// flight).
func (q *AgentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stop prevents further entries from being accepted and lets the drain
// loop exit once its current queue empties. It does not cancel an in-flight
// handle call.
func (q *AgentQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *AgentQueue) drain() {
	for {
		q.mu.Lock()
		for len(q.entries) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.entries) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		entry := q.entries[0]
		q.entries = q.entries[1:]
		q.mu.Unlock()

		q.handle(context.Background(), entry)
	}
}
