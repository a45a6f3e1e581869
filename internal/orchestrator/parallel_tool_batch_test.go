package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/sessions"
	"github.com/outpostlabs/conduit/pkg/models"
)

// TestParallelToolBatch covers S6: a single iteration emits three
// parallel-safe reads (web_search, list_calendar_events, get_notes) plus one
// serial write (create_note). The executor must run the three reads
// concurrently and only start create_note once all three have finished, and
// the persisted tool-result history must preserve the original emission
// order regardless of which group actually ran each call.
func TestParallelToolBatch(t *testing.T) {
	const readDelay = 40 * time.Millisecond

	webSearch := newRecordingTool("web_search")
	webSearch.delay = readDelay
	listEvents := newRecordingTool("list_calendar_events")
	listEvents.delay = readDelay
	getNotes := newRecordingTool("get_notes")
	getNotes.delay = readDelay
	createNote := newRecordingTool("create_note")

	provider := &scriptedProvider{
		responses: [][]agent.CompletionChunk{
			// A single iteration emitting all four calls together, in this
			// order: three reads then one write.
			{
				{ToolCall: &models.ToolCall{ID: "tc1", Name: "web_search", Input: []byte(`{"query":"weather"}`)}},
				{ToolCall: &models.ToolCall{ID: "tc2", Name: "list_calendar_events", Input: []byte(`{}`)}},
				{ToolCall: &models.ToolCall{ID: "tc3", Name: "get_notes", Input: []byte(`{}`)}},
				{ToolCall: &models.ToolCall{ID: "tc4", Name: "create_note", Input: []byte(`{"title":"summary"}`)}},
			},
			{{Text: "Done -- here's what I found."}},
		},
	}

	cfg := testAgentConfig("batch-agent")
	o, outbound := newTestOrchestrator(t, cfg, provider, nil)
	o.RegisterTool("batch-agent", webSearch)
	o.RegisterTool("batch-agent", listEvents)
	o.RegisterTool("batch-agent", getNotes)
	o.RegisterTool("batch-agent", createNote)
	// create_note isn't one of the real built-ins RegisterBuiltinTools marks
	// Serial, so the test marks it itself the same way production code marks
	// add_note et al.
	o.ConfigureTool("batch-agent", "create_note", &agent.ToolConfig{Serial: true})

	if err := o.HandleChannelMessage(context.Background(), "batch-agent", &models.Message{
		Channel:   testChannel,
		ChannelID: "chat-1",
		Role:      models.RoleUser,
		Content:   "Look up the weather, my calendar and my notes, then save a summary note.",
	}); err != nil {
		t.Fatalf("HandleChannelMessage: %v", err)
	}
	if !waitForIdle(o, "batch-agent", 2*time.Second) {
		t.Fatalf("turn never drained")
	}

	for _, tool := range []*recordingTool{webSearch, listEvents, getNotes, createNote} {
		if got := tool.callCount(); got != 1 {
			t.Fatalf("expected %s to be called exactly once, got %d", tool.name, got)
		}
	}

	// The three reads' execution windows must overlap: each one must have
	// started before every other one finished.
	reads := []*recordingTool{webSearch, listEvents, getNotes}
	for _, a := range reads {
		for _, b := range reads {
			if a == b {
				continue
			}
			if a.started[0].After(b.ended[0]) {
				t.Errorf("expected %s and %s to run concurrently, but %s started after %s finished", a.name, b.name, a.name, b.name)
			}
		}
	}

	// create_note must start only once all three reads have finished.
	for _, r := range reads {
		if createNote.started[0].Before(r.ended[0]) {
			t.Errorf("expected create_note to start after %s finished, but it started at %s (vs %s ended at %s)",
				r.name, createNote.started[0], r.name, r.ended[0])
		}
	}

	if provider.callCount() != 2 {
		t.Errorf("expected 2 LLM calls (tool batch, final reply), got %d", provider.callCount())
	}
	if len(outbound.messages()) == 0 {
		t.Errorf("expected the final reply to be delivered")
	}

	key := sessions.SessionKey("batch-agent", testChannel, "chat-1")
	session, err := o.sessionStore.GetOrCreate(context.Background(), key, "batch-agent", testChannel, "chat-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	history, err := o.sessionStore.GetHistory(context.Background(), session.ID, 50)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}

	var toolResultOrder []string
	for _, msg := range history {
		for _, res := range msg.ToolResults {
			toolResultOrder = append(toolResultOrder, res.ToolCallID)
		}
	}
	want := []string{"tc1", "tc2", "tc3", "tc4"}
	if len(toolResultOrder) != len(want) {
		t.Fatalf("expected %d persisted tool results, got %d: %v", len(want), len(toolResultOrder), toolResultOrder)
	}
	for i, id := range want {
		if toolResultOrder[i] != id {
			t.Errorf("expected tool result order %v, got %v", want, toolResultOrder)
			break
		}
	}
}
