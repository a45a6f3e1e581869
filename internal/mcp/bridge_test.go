package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/outpostlabs/conduit/internal/agent"
)

type fakeToolCaller struct {
	serverID string
	toolName string
	args     map[string]any
	result   *ToolCallResult
	err      error
}

func (f *fakeToolCaller) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*ToolCallResult, error) {
	f.serverID = serverID
	f.toolName = toolName
	f.args = arguments
	return f.result, f.err
}

func TestQualifiedExtensionToolNameRoundTrips(t *testing.T) {
	name := agent.QualifiedExtensionToolName("git-hub", "search_repo")
	if name != "ext_git-hub__search_repo" {
		t.Fatalf("expected qualified name, got %q", name)
	}
	serverID, toolName, ok := agent.SplitExtensionToolName(name)
	if !ok || serverID != "git-hub" || toolName != "search_repo" {
		t.Fatalf("expected round trip to git-hub/search_repo, got %q/%q/%v", serverID, toolName, ok)
	}
}

func TestMCPToolBridgeExecute(t *testing.T) {
	caller := &fakeToolCaller{
		result: &ToolCallResult{
			Content: []ToolResultContent{{Type: "text", Text: "ok"}},
		},
	}
	tool := &MCPTool{
		Name:        "do_thing",
		Description: "Does the thing",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"value":{"type":"string"}}}`),
	}
	bridge := NewToolBridge(caller, "server", tool, agent.QualifiedExtensionToolName("server", "do_thing"))

	result, err := bridge.Execute(context.Background(), json.RawMessage(`{"value":"hi"}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Content != "ok" {
		t.Fatalf("expected content %q, got %q", "ok", result.Content)
	}
	if caller.serverID != "server" || caller.toolName != "do_thing" {
		t.Fatalf("expected call server/tool %q/%q, got %q/%q", "server", "do_thing", caller.serverID, caller.toolName)
	}
	if caller.args["value"] != "hi" {
		t.Fatalf("expected arg value %q, got %v", "hi", caller.args["value"])
	}
}
