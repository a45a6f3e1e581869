package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/channels"
	"github.com/outpostlabs/conduit/internal/config"
	"github.com/outpostlabs/conduit/internal/sessions"
	"github.com/outpostlabs/conduit/internal/usage"
	"github.com/outpostlabs/conduit/pkg/models"
)

// fakeOutbound is a minimal channels.OutboundAdapter that records every
// message handed to it instead of talking to a real chat platform.
type fakeOutbound struct {
	channelType models.ChannelType

	mu   sync.Mutex
	sent []*models.Message
}

func newFakeOutbound(channelType models.ChannelType) *fakeOutbound {
	return &fakeOutbound{channelType: channelType}
}

func (f *fakeOutbound) Type() models.ChannelType { return f.channelType }

func (f *fakeOutbound) Send(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeOutbound) messages() []*models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// scriptedProvider replays one canned slice of CompletionChunk per call to
// Complete, in order, mirroring internal/agent's own loopTestProvider test
// fixture. A callFunc, when set, runs synchronously before a call's chunks
// are streamed so a test can simulate a side effect (e.g. recording spend)
// that would normally ride along with a real provider's usage accounting.
type scriptedProvider struct {
	responses [][]agent.CompletionChunk
	callFunc  func(call int, req *agent.CompletionRequest)

	calls int32
}

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	call := int(atomic.AddInt32(&p.calls, 1)) - 1
	if p.callFunc != nil {
		p.callFunc(call, req)
	}
	ch := make(chan *agent.CompletionChunk, 16)
	go func() {
		defer close(ch)
		if call >= len(p.responses) {
			return
		}
		for _, chunk := range p.responses[call] {
			c := chunk
			select {
			case ch <- &c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) Name() string          { return "scripted-test-provider" }
func (p *scriptedProvider) Models() []agent.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool   { return true }

func (p *scriptedProvider) callCount() int { return int(atomic.LoadInt32(&p.calls)) }

// recordingTool is a hand-written agent.Tool fake: it records every
// invocation's input and timing so a test can assert call count, arguments,
// and (for S6) relative ordering without needing the real internal/tools/*
// packages and their store.Store dependencies.
type recordingTool struct {
	name   string
	result *agent.ToolResult

	mu      sync.Mutex
	calls   []json.RawMessage
	started []time.Time
	ended   []time.Time
	delay   time.Duration
}

func newRecordingTool(name string) *recordingTool {
	return &recordingTool{name: name, result: &agent.ToolResult{Content: "ok"}}
}

func (t *recordingTool) Name() string            { return t.name }
func (t *recordingTool) Description() string     { return "test tool " + t.name }
func (t *recordingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *recordingTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	start := time.Now()
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	t.mu.Lock()
	t.calls = append(t.calls, params)
	t.started = append(t.started, start)
	t.ended = append(t.ended, time.Now())
	t.mu.Unlock()
	return t.result, nil
}

func (t *recordingTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *recordingTool) lastInput() json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) == 0 {
		return nil
	}
	return t.calls[len(t.calls)-1]
}

// testChannel is the channel type every fixture agent in this package's
// tests is bound to; it need not be one of the real adapters' types.
const testChannel = models.ChannelType("test")

func testAgentConfig(id string) config.AgentConfig {
	return config.AgentConfig{
		ID:           id,
		Name:         id,
		Provider:     "test",
		Model:        "test-model",
		SystemPrompt: "You are a test agent.",
		Channel: config.AgentChannelBinding{
			Type:   string(testChannel),
			ChatID: "chat-1",
		},
		Options: config.AgentRuntimeOptions{
			MaxToolIterations:                 10,
			FastConfirmationMaxToolIterations: 2,
			ToolResultMaxChars:                4000,
			ToolResultsTotalMaxChars:          16000,
		},
	}
}

// newTestOrchestrator wires an Orchestrator with a scriptedProvider, an
// in-memory session store, and a single fakeOutbound adapter bound to
// testChannel, grounded on the same New() wiring cmd/conduit/handlers_serve.go
// performs, minus the real channel/provider/store constructors this package
// has no business exercising.
func newTestOrchestrator(t *testing.T, cfg config.AgentConfig, provider agent.LLMProvider, budget *usage.BudgetGate) (*Orchestrator, *fakeOutbound) {
	t.Helper()
	adapter := newFakeOutbound(testChannel)
	registry := channels.NewRegistry()
	registry.Register(adapter)

	o, err := New(
		&config.Config{Agents: []config.AgentConfig{cfg}},
		provider,
		sessions.NewMemoryStore(),
		nil,
		registry,
		nil,
		nil,
		nil,
		budget,
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, adapter
}

// waitForIdle polls until agentID's queue drains or the timeout elapses,
// since AgentQueue.drain runs on its own goroutine.
func waitForIdle(o *Orchestrator, agentID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if o.QueueDepth(agentID) == 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return o.QueueDepth(agentID) == 0
}
