// Package lists provides the add_to_list / remove_from_list / get_list
// built-in tools backed by store.ListStore.
package lists

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/store"
	"github.com/outpostlabs/conduit/pkg/models"
)

func sessionFields(session *models.Session) (agentID, userID string) {
	agentID = "default"
	if session == nil {
		return
	}
	if session.AgentID != "" {
		agentID = session.AgentID
	}
	userID = session.ID
	return
}

// slugify turns a list title into a stable id, so "shopping list" and
// "Shopping List" address the same ListEntity.
func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), "_")
	if name == "" {
		return "default"
	}
	return name
}

// AddTool appends an item to a named list, creating the list if absent.
type AddTool struct {
	lists *store.ListStore
}

func NewAddTool(lists *store.ListStore) *AddTool { return &AddTool{lists: lists} }

func (t *AddTool) Name() string { return "add_to_list" }

func (t *AddTool) Description() string {
	return "Add an item to a named list (e.g. a shopping list), creating the list if it doesn't exist yet."
}

func (t *AddTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "The list's name, e.g. 'shopping list'"},
			"item": {"type": "string", "description": "The item to add"}
		},
		"required": ["title", "item"]
	}`)
}

type AddInput struct {
	Title string `json:"title"`
	Item  string `json:"item"`
}

func (t *AddTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.lists == nil {
		return &agent.ToolResult{Content: "lists unavailable", IsError: true}, nil
	}
	var input AddInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Item) == "" {
		return &agent.ToolResult{Content: "title and item are required", IsError: true}, nil
	}

	agentID, userID := sessionFields(agent.SessionFromContext(ctx))
	id := slugify(input.Title)
	list, err := t.lists.AddItem(ctx, userID, agentID, id, input.Item)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to update list: %v", err), IsError: true}, nil
	}
	if list.Name == "" {
		list.Name = input.Title
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Added %q to %q (%d items).", input.Item, input.Title, len(list.Items))}, nil
}

// RemoveTool removes the first matching item from a named list.
type RemoveTool struct {
	lists *store.ListStore
}

func NewRemoveTool(lists *store.ListStore) *RemoveTool { return &RemoveTool{lists: lists} }

func (t *RemoveTool) Name() string { return "remove_from_list" }

func (t *RemoveTool) Description() string {
	return "Remove an item from a named list."
}

func (t *RemoveTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "The list's name"},
			"item": {"type": "string", "description": "The item to remove"}
		},
		"required": ["title", "item"]
	}`)
}

type RemoveInput struct {
	Title string `json:"title"`
	Item  string `json:"item"`
}

func (t *RemoveTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.lists == nil {
		return &agent.ToolResult{Content: "lists unavailable", IsError: true}, nil
	}
	var input RemoveInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Item) == "" {
		return &agent.ToolResult{Content: "title and item are required", IsError: true}, nil
	}

	agentID, userID := sessionFields(agent.SessionFromContext(ctx))
	id := slugify(input.Title)
	list, err := t.lists.RemoveItem(ctx, userID, agentID, id, input.Item)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to update list: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Removed %q from %q (%d items left).", input.Item, input.Title, len(list.Items))}, nil
}

// GetTool reads a named list's items, parallel-safe since it only reads.
type GetTool struct {
	lists *store.ListStore
}

func NewGetTool(lists *store.ListStore) *GetTool { return &GetTool{lists: lists} }

func (t *GetTool) Name() string { return "get_list" }

func (t *GetTool) Description() string {
	return "Get the items currently on a named list."
}

func (t *GetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "The list's name"}
		},
		"required": ["title"]
	}`)
}

type GetInput struct {
	Title string `json:"title"`
}

func (t *GetTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.lists == nil {
		return &agent.ToolResult{Content: "lists unavailable", IsError: true}, nil
	}
	var input GetInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if strings.TrimSpace(input.Title) == "" {
		return &agent.ToolResult{Content: "title is required", IsError: true}, nil
	}

	agentID, userID := sessionFields(agent.SessionFromContext(ctx))
	id := slugify(input.Title)
	list, err := t.lists.Get(ctx, userID, agentID, id)
	if err != nil {
		if err == store.ErrNotFound {
			return &agent.ToolResult{Content: fmt.Sprintf("List %q is empty or doesn't exist yet.", input.Title)}, nil
		}
		return &agent.ToolResult{Content: fmt.Sprintf("failed to read list: %v", err), IsError: true}, nil
	}
	if len(list.Items) == 0 {
		return &agent.ToolResult{Content: fmt.Sprintf("List %q is empty.", input.Title)}, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", input.Title)
	for _, item := range list.Items {
		fmt.Fprintf(&sb, "- %s\n", item)
	}
	return &agent.ToolResult{Content: sb.String()}, nil
}
