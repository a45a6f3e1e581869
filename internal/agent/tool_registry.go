package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Tools are registered by name and can be retrieved for execution during agent conversations.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Execute runs a tool by name with the given JSON parameters.
// Returns an error result if the tool is not found or parameters are invalid.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	// Validate tool name
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}

	// Validate params size
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}
	return tool.Execute(ctx, params)
}

// extensionToolPrefix qualifies a tool name routed through an extension
// server so it cannot collide with a built-in tool of the same name.
const extensionToolPrefix = "ext_"

// QualifiedExtensionToolName returns the name under which an extension
// server's tool is registered in the registry: ext_<serverID>__<toolName>.
func QualifiedExtensionToolName(serverID, toolName string) string {
	return fmt.Sprintf("%s%s__%s", extensionToolPrefix, serverID, toolName)
}

// SplitExtensionToolName reverses QualifiedExtensionToolName, returning the
// owning server id and the tool's local name. ok is false for a name that
// does not carry the extension-tool prefix (a built-in tool).
func SplitExtensionToolName(qualified string) (serverID, toolName string, ok bool) {
	if !strings.HasPrefix(qualified, extensionToolPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(qualified, extensionToolPrefix)
	idx := strings.Index(rest, "__")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+2:], true
}

// parallelSafeBuiltins names the built-in, read-only tools the Engine may
// batch-execute concurrently within one iteration without risking a write/
// write or read/write race against another call in the same batch.
var parallelSafeBuiltins = map[string]bool{
	"search_notes":         true,
	"get_notes":            true,
	"get_list":             true,
	"web_search":           true,
	"list_calendar_events": true,
	"facts_extract":        true,
	"memory_search":        true,
	"memory_get":           true,
}

// IsParallelSafe reports whether a tool (built-in or qualified extension
// name) is safe to execute concurrently with other calls in the same batch.
// Extension tools are never assumed parallel-safe since their side effects
// are opaque to the registry; only the named read-only builtins qualify.
func (r *ToolRegistry) IsParallelSafe(name string) bool {
	if _, _, ok := SplitExtensionToolName(name); ok {
		return false
	}
	return parallelSafeBuiltins[name]
}

// PromptVariant selects which flavor of tool-prompt text describeAll emits.
type PromptVariant int

const (
	// PromptFull lists every registered tool with its full description.
	PromptFull PromptVariant = iota
	// PromptCompact lists tool names and one-line descriptions only, used
	// once the registered tool count would otherwise blow the prompt
	// budget (MaxMcpToolsInPrompt).
	PromptCompact
	// PromptFast is the minimal variant used during a fast-confirmation
	// turn (FastConfirmationMaxToolIterations), naming only tools relevant
	// to confirming or cancelling a pending action.
	PromptFast
)

// DescribeOptions configures describeAll's prompt composition.
type DescribeOptions struct {
	Variant             PromptVariant
	MaxMcpToolsInPrompt  int
	FastConfirmToolNames []string
}

// describeAll renders the registered tool set into the block of text
// inserted into the system prompt so the model knows what it can call.
// languageTag selects the heading text (English/Spanish); the tool
// descriptions themselves are author-supplied and not translated.
func (r *ToolRegistry) describeAll(languageTag string, opts DescribeOptions) string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	heading := "Available tools:"
	if languageTag == "es" {
		heading = "Herramientas disponibles:"
	}

	if opts.Variant == PromptFast {
		allow := make(map[string]bool, len(opts.FastConfirmToolNames))
		for _, n := range opts.FastConfirmToolNames {
			allow[n] = true
		}
		var b strings.Builder
		b.WriteString(heading)
		b.WriteByte('\n')
		for _, name := range names {
			if !allow[name] {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", name)
		}
		return b.String()
	}

	compact := opts.Variant == PromptCompact
	if !compact && opts.MaxMcpToolsInPrompt > 0 && len(names) > opts.MaxMcpToolsInPrompt {
		compact = true
	}

	var b strings.Builder
	b.WriteString(heading)
	b.WriteByte('\n')
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		tool := r.tools[name]
		if tool == nil {
			continue
		}
		if compact {
			fmt.Fprintf(&b, "- %s: %s\n", name, firstLine(tool.Description()))
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", name, tool.Description())
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// NativeDefinitions returns the registered tools' JSON-schema tool
// definitions for providers whose API accepts native tool-use definitions,
// as opposed to the text-prompt-embedded variant describeAll renders for
// providers without native tool-call support.
func (r *ToolRegistry) NativeDefinitions() []Tool {
	return r.AsLLMTools()
}

// AsLLMTools returns all registered tools as a slice for passing to LLM providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

