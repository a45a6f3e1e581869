package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/audit"
	"github.com/outpostlabs/conduit/internal/channels"
	"github.com/outpostlabs/conduit/internal/config"
	"github.com/outpostlabs/conduit/internal/cron"
	"github.com/outpostlabs/conduit/internal/events"
	"github.com/outpostlabs/conduit/internal/mcp"
	"github.com/outpostlabs/conduit/internal/sessions"
	"github.com/outpostlabs/conduit/internal/store"
	"github.com/outpostlabs/conduit/internal/usage"
)

// confirmHistoryWindow is the shallow MaxHistory the confirmation fast-path
// runtime loads, keeping a yes/no turn cheap regardless of how deep the
// agent's normal conversation has grown.
const confirmHistoryWindow = 6

// agentRuntime bundles one configured agent's two engines and its turn queue.
type agentRuntime struct {
	cfg config.AgentConfig

	// normal handles ordinary turns at the agent's full iteration budget.
	normal *agent.AgenticRuntime
	// confirm handles the confirmation fast-path with a lower iteration cap
	// and a shallower history window, selected by classifyTurn.
	confirm *agent.AgenticRuntime

	queue *AgentQueue
}

// Orchestrator owns every configured agent's queue, its pair of engines, and
// the bindings into the scheduler, the event router and the approval/budget
// gates. It is the seam between the channel adapters, the scheduler, the
// event router and the Engine (internal/agent).
type Orchestrator struct {
	logger *slog.Logger

	provider     agent.LLMProvider
	sessionStore sessions.Store
	dataStore    *store.Store
	channels     *channels.Registry
	scheduler    *cron.Scheduler
	router       *events.Router
	approvals    *agent.ApprovalChecker
	budget       *usage.BudgetGate
	extensions   *mcp.Manager

	mu          sync.RWMutex
	agents      map[string]*agentRuntime
	transcriber Transcriber
	audit       *audit.Logger
}

// SetAuditLogger installs the audit trail sink used by RecordUsageEvent and
// RecordResourceEvent. Optional; both are no-ops without one.
func (o *Orchestrator) SetAuditLogger(logger *audit.Logger) {
	o.mu.Lock()
	o.audit = logger
	o.mu.Unlock()
}

// New wires an Orchestrator from its already-constructed dependencies and
// builds one AgenticRuntime pair per configured agent. Tool registration is
// the caller's responsibility via RegisterTool: the available tool set
// depends on each agent's permissions and the extension servers it has
// connected, neither of which New resolves on its own.
func New(
	cfg *config.Config,
	provider agent.LLMProvider,
	sessionStore sessions.Store,
	dataStore *store.Store,
	registry *channels.Registry,
	scheduler *cron.Scheduler,
	router *events.Router,
	approvals *agent.ApprovalChecker,
	budget *usage.BudgetGate,
	extensions *mcp.Manager,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		logger:       logger.With("component", "orchestrator"),
		provider:     provider,
		sessionStore: sessionStore,
		dataStore:    dataStore,
		channels:     registry,
		scheduler:    scheduler,
		router:       router,
		approvals:    approvals,
		budget:       budget,
		extensions:   extensions,
		agents:       make(map[string]*agentRuntime),
	}

	for _, agentCfg := range cfg.Agents {
		if err := o.addAgent(agentCfg); err != nil {
			return nil, fmt.Errorf("orchestrator: agent %q: %w", agentCfg.ID, err)
		}
	}

	if scheduler != nil {
		scheduler.RegisterHandler(cron.TriggerHandlerFunc(o.handleScheduledTask))
	}
	if router != nil {
		router.SetDeliveryFunc(o.deliverRoutedEvent)
	}

	return o, nil
}

func (o *Orchestrator) addAgent(cfg config.AgentConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("missing id")
	}

	opts := cfg.Options

	normalCfg := &agent.LoopConfig{
		MaxIterations:            opts.MaxToolIterations,
		ToolResultMaxChars:       opts.ToolResultMaxChars,
		ToolResultsTotalMaxChars: opts.ToolResultsTotalMaxChars,
		ApprovalChecker:          o.approvals,
		BudgetChecker:            o.budget,
	}
	confirmCfg := &agent.LoopConfig{
		MaxIterations:            opts.FastConfirmationMaxToolIterations,
		MaxHistory:               confirmHistoryWindow,
		ToolResultMaxChars:       opts.ToolResultMaxChars,
		ToolResultsTotalMaxChars: opts.ToolResultsTotalMaxChars,
		ApprovalChecker:          o.approvals,
		BudgetChecker:            o.budget,
	}

	normal := agent.NewAgenticRuntime(o.provider, o.sessionStore, normalCfg)
	normal.SetDefaultModel(cfg.Model)
	normal.SetSystemPrompt(cfg.SystemPrompt)

	confirm := agent.NewAgenticRuntime(o.provider, o.sessionStore, confirmCfg)
	confirm.SetDefaultModel(cfg.Model)
	confirm.SetSystemPrompt(cfg.SystemPrompt)

	if o.approvals != nil {
		policy := cfg.Approval
		o.approvals.SetAgentPolicy(cfg.ID, &policy)
	}
	if o.router != nil {
		// No static event-source list is configured per agent; subscriptions
		// are installed at runtime (keyword/webhook/entity-state tools), so
		// every agent opts in to router dispatch and relies on Subscribe for
		// the actual matching rules.
		o.router.RegisterAgent(cfg.ID, "", nil)
	}

	rt := &agentRuntime{cfg: cfg, normal: normal, confirm: confirm}
	rt.queue = NewAgentQueue(func(ctx context.Context, entry *QueueEntry) {
		o.process(ctx, rt, entry)
	})

	o.mu.Lock()
	o.agents[cfg.ID] = rt
	o.mu.Unlock()

	o.RegisterBuiltinTools(cfg)
	return nil
}

// RegisterTool adds tool to both of agentID's engines (the normal runtime
// and the confirmation fast-path runtime) so it is available regardless of
// which one a turn is routed to.
func (o *Orchestrator) RegisterTool(agentID string, tool agent.Tool) {
	rt, ok := o.agentRuntime(agentID)
	if !ok {
		return
	}
	rt.normal.RegisterTool(tool)
	rt.confirm.RegisterTool(tool)
}

// ConfigureTool applies a per-tool execution override (timeout, retries,
// or the Serial flag) to both of agentID's engines.
func (o *Orchestrator) ConfigureTool(agentID, name string, config *agent.ToolConfig) {
	rt, ok := o.agentRuntime(agentID)
	if !ok {
		return
	}
	rt.normal.ConfigureTool(name, config)
	rt.confirm.ConfigureTool(name, config)
}

// RegisterExtensionTools bridges every MCP server's tools, resources and
// prompts into each configured agent's two engines. Called once by the
// owning process after extensions.Start has connected its servers, since
// tool discovery only happens once a server's session is live.
func (o *Orchestrator) RegisterExtensionTools() {
	if o.extensions == nil {
		return
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, rt := range o.agents {
		mcp.RegisterTools(rt.normal, o.extensions)
		mcp.RegisterTools(rt.confirm, o.extensions)
	}
}

func (o *Orchestrator) agentRuntime(agentID string) (*agentRuntime, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rt, ok := o.agents[agentID]
	return rt, ok
}

// AgentIDs returns the configured agent ids, in no particular order.
func (o *Orchestrator) AgentIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.agents))
	for id := range o.agents {
		ids = append(ids, id)
	}
	return ids
}

// QueueDepth reports how many turns are waiting (including one possibly in
// flight) for agentID. Used by the doctor/health surface.
func (o *Orchestrator) QueueDepth(agentID string) int {
	rt, ok := o.agentRuntime(agentID)
	if !ok {
		return 0
	}
	return rt.queue.Len()
}

// Stop drains every agent's queue, refusing new entries. In-flight turns are
// allowed to finish.
func (o *Orchestrator) Stop() {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, rt := range o.agents {
		rt.queue.Stop()
	}
}
