package orchestrator

import (
	"os"
	"strconv"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/config"
	"github.com/outpostlabs/conduit/internal/store"
	"github.com/outpostlabs/conduit/internal/tools/exec"
	"github.com/outpostlabs/conduit/internal/tools/facts"
	"github.com/outpostlabs/conduit/internal/tools/files"
	"github.com/outpostlabs/conduit/internal/tools/lists"
	"github.com/outpostlabs/conduit/internal/tools/memorysearch"
	"github.com/outpostlabs/conduit/internal/tools/notes"
	"github.com/outpostlabs/conduit/internal/tools/reminders"
	"github.com/outpostlabs/conduit/internal/tools/websearch"
)

// serialTools are the built-ins that mutate shared state (a note, a list, a
// file, a reminder schedule) and so must not run concurrently with another
// tool call in the same model turn (§4.3 parallel tool batch). Read-only
// tools (get/search/list) are left to run in parallel.
var serialTools = []string{
	"add_note", "update_note", "delete_note",
	"add_to_list", "remove_from_list",
	"write", "edit", "apply_patch",
	"exec", "process",
	"set_reminder", "cancel_reminder",
}

// maxExtractedFacts bounds facts_extract's default result size.
const maxExtractedFacts = 10

// defaultWorkspace is the root the filesystem and exec tools are scoped to
// when CONDUIT_WORKSPACE is unset, mirroring the CONDUIT_* env convention
// config.Load uses for channel tokens and the HTTP port.
const defaultWorkspace = "."

// RegisterBuiltinTools installs the tool set cfg's permissions allow onto
// agentID's two engines. Reminders are always available since they are how
// the scheduler fast-path (§4.4/§4.7) gets populated in the first place;
// everything else is gated by AgentPermissions the same way the engine's
// system-prompt composer gates capability blocks.
func (o *Orchestrator) RegisterBuiltinTools(cfg config.AgentConfig) {
	o.RegisterTool(cfg.ID, reminders.NewSetTool(o.scheduler))
	o.RegisterTool(cfg.ID, reminders.NewListTool(o.scheduler))
	o.RegisterTool(cfg.ID, reminders.NewCancelTool(o.scheduler))
	o.RegisterTool(cfg.ID, facts.NewExtractTool(maxExtractedFacts))

	memoryCfg := &memorysearch.Config{
		WorkspacePath: workspaceDir(),
		MemoryFile:    "MEMORY.md",
		Directory:     "memory",
	}
	o.RegisterTool(cfg.ID, memorysearch.NewMemorySearchTool(memoryCfg))
	o.RegisterTool(cfg.ID, memorysearch.NewMemoryGetTool(memoryCfg))

	if o.dataStore != nil {
		noteStore := store.NewNoteStore(o.dataStore)
		o.RegisterTool(cfg.ID, notes.NewAddTool(noteStore))
		o.RegisterTool(cfg.ID, notes.NewGetTool(noteStore))
		o.RegisterTool(cfg.ID, notes.NewSearchTool(noteStore))
		o.RegisterTool(cfg.ID, notes.NewUpdateTool(noteStore))
		o.RegisterTool(cfg.ID, notes.NewDeleteTool(noteStore))

		listStore := store.NewListStore(o.dataStore)
		o.RegisterTool(cfg.ID, lists.NewAddTool(listStore))
		o.RegisterTool(cfg.ID, lists.NewRemoveTool(listStore))
		o.RegisterTool(cfg.ID, lists.NewGetTool(listStore))
	}

	if cfg.Permissions.Internet {
		o.RegisterTool(cfg.ID, websearch.NewWebSearchTool(webSearchConfigFromEnv()))
		o.RegisterTool(cfg.ID, websearch.NewWebFetchTool(nil))
	}

	if cfg.Permissions.Code {
		workspace := workspaceDir()
		fileCfg := files.Config{Workspace: workspace}
		o.RegisterTool(cfg.ID, files.NewReadTool(fileCfg))
		o.RegisterTool(cfg.ID, files.NewWriteTool(fileCfg))
		o.RegisterTool(cfg.ID, files.NewEditTool(fileCfg))
		o.RegisterTool(cfg.ID, files.NewApplyPatchTool(fileCfg))
	}

	if cfg.Permissions.Terminal {
		manager := exec.NewManager(workspaceDir())
		o.RegisterTool(cfg.ID, exec.NewExecTool("exec", manager))
		o.RegisterTool(cfg.ID, exec.NewProcessTool(manager))
	}

	for _, name := range serialTools {
		o.ConfigureTool(cfg.ID, name, &agent.ToolConfig{Serial: true})
	}
}

// workspaceDir resolves the filesystem/exec tools' workspace root.
func workspaceDir() string {
	if dir := os.Getenv("CONDUIT_WORKSPACE"); dir != "" {
		return dir
	}
	return defaultWorkspace
}

// webSearchConfigFromEnv builds a websearch.Config from the CONDUIT_*
// environment variables, the same convention config.Load uses for channel
// bot tokens.
func webSearchConfigFromEnv() *websearch.Config {
	cfg := &websearch.Config{
		SearXNGURL:         os.Getenv("CONDUIT_SEARXNG_URL"),
		BraveAPIKey:        os.Getenv("CONDUIT_BRAVE_API_KEY"),
		ExtractContent:     true,
		DefaultResultCount: 5,
		CacheTTL:           300,
	}
	if cfg.BraveAPIKey != "" {
		cfg.DefaultBackend = websearch.BackendBraveSearch
	}
	if v := os.Getenv("CONDUIT_WEBSEARCH_RESULT_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultResultCount = n
		}
	}
	return cfg
}
