// Package notes provides the add_note / search_notes / update_note /
// delete_note built-in tools backed by store.NoteStore.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
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

// AddTool creates a note.
type AddTool struct {
	notes *store.NoteStore
}

func NewAddTool(notes *store.NoteStore) *AddTool { return &AddTool{notes: notes} }

func (t *AddTool) Name() string { return "add_note" }

func (t *AddTool) Description() string {
	return "Save a note with a title and content, optionally tagged, for later recall."
}

func (t *AddTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "Short title for the note"},
			"content": {"type": "string", "description": "The note's content"},
			"tags": {"type": "array", "items": {"type": "string"}, "description": "Optional tags"}
		},
		"required": ["title", "content"]
	}`)
}

type AddInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (t *AddTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.notes == nil {
		return &agent.ToolResult{Content: "notes unavailable", IsError: true}, nil
	}
	var input AddInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if strings.TrimSpace(input.Title) == "" {
		return &agent.ToolResult{Content: "title is required", IsError: true}, nil
	}

	agentID, userID := sessionFields(agent.SessionFromContext(ctx))
	note := &store.Note{
		Entity:  store.Entity{ID: uuid.NewString()},
		Title:   input.Title,
		Content: input.Content,
		Tags:    input.Tags,
	}
	if err := t.notes.Create(ctx, userID, agentID, note); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to save note: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Saved note %q (id=%s).", note.Title, note.ID)}, nil
}

// GetTool lists every note for the current agent, parallel-safe since it
// only reads.
type GetTool struct {
	notes *store.NoteStore
}

func NewGetTool(notes *store.NoteStore) *GetTool { return &GetTool{notes: notes} }

func (t *GetTool) Name() string { return "get_notes" }

func (t *GetTool) Description() string {
	return "List all saved notes for the current agent."
}

func (t *GetTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *GetTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.notes == nil {
		return &agent.ToolResult{Content: "notes unavailable", IsError: true}, nil
	}
	agentID, userID := sessionFields(agent.SessionFromContext(ctx))
	all, err := t.notes.List(ctx, userID, agentID)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to list notes: %v", err), IsError: true}, nil
	}
	if len(all) == 0 {
		return &agent.ToolResult{Content: "No notes saved yet."}, nil
	}
	var sb strings.Builder
	for _, note := range all {
		fmt.Fprintf(&sb, "- [%s] %s\n", note.ID, note.Title)
	}
	return &agent.ToolResult{Content: sb.String()}, nil
}

// SearchTool scores and returns notes matching a query.
type SearchTool struct {
	notes *store.NoteStore
}

func NewSearchTool(notes *store.NoteStore) *SearchTool { return &SearchTool{notes: notes} }

func (t *SearchTool) Name() string { return "search_notes" }

func (t *SearchTool) Description() string {
	return "Search saved notes by title, tag, or content and return the best matches."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search text"},
			"limit": {"type": "integer", "description": "Maximum number of results (default 5)"}
		},
		"required": ["query"]
	}`)
}

type SearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.notes == nil {
		return &agent.ToolResult{Content: "notes unavailable", IsError: true}, nil
	}
	var input SearchInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if input.Limit <= 0 {
		input.Limit = 5
	}

	agentID, userID := sessionFields(agent.SessionFromContext(ctx))
	scored, err := t.notes.Search(ctx, userID, agentID, input.Query)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("search failed: %v", err), IsError: true}, nil
	}
	if len(scored) == 0 {
		return &agent.ToolResult{Content: "No matching notes found."}, nil
	}
	if len(scored) > input.Limit {
		scored = scored[:input.Limit]
	}

	var sb strings.Builder
	for _, s := range scored {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", s.Note.ID, s.Note.Title, preview(s.Note.Content, 160))
	}
	return &agent.ToolResult{Content: sb.String()}, nil
}

// UpdateTool mutates an existing note's title, content, or tags.
type UpdateTool struct {
	notes *store.NoteStore
}

func NewUpdateTool(notes *store.NoteStore) *UpdateTool { return &UpdateTool{notes: notes} }

func (t *UpdateTool) Name() string { return "update_note" }

func (t *UpdateTool) Description() string {
	return "Update an existing note's title, content, or tags by id."
}

func (t *UpdateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "The note's id"},
			"title": {"type": "string", "description": "New title (optional)"},
			"content": {"type": "string", "description": "New content (optional)"},
			"tags": {"type": "array", "items": {"type": "string"}, "description": "New tags (optional)"}
		},
		"required": ["id"]
	}`)
}

type UpdateInput struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (t *UpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.notes == nil {
		return &agent.ToolResult{Content: "notes unavailable", IsError: true}, nil
	}
	var input UpdateInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if strings.TrimSpace(input.ID) == "" {
		return &agent.ToolResult{Content: "id is required", IsError: true}, nil
	}

	agentID, userID := sessionFields(agent.SessionFromContext(ctx))
	note, err := t.notes.Get(ctx, userID, agentID, input.ID)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("note not found: %v", err), IsError: true}, nil
	}
	if input.Title != "" {
		note.Title = input.Title
	}
	if input.Content != "" {
		note.Content = input.Content
	}
	if input.Tags != nil {
		note.Tags = input.Tags
	}
	if err := t.notes.Update(ctx, userID, agentID, note); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to update note: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Updated note %q.", note.Title)}, nil
}

// DeleteTool removes a note by id.
type DeleteTool struct {
	notes *store.NoteStore
}

func NewDeleteTool(notes *store.NoteStore) *DeleteTool { return &DeleteTool{notes: notes} }

func (t *DeleteTool) Name() string { return "delete_note" }

func (t *DeleteTool) Description() string {
	return "Delete a saved note by id."
}

func (t *DeleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "The note's id"}
		},
		"required": ["id"]
	}`)
}

type DeleteInput struct {
	ID string `json:"id"`
}

func (t *DeleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.notes == nil {
		return &agent.ToolResult{Content: "notes unavailable", IsError: true}, nil
	}
	var input DeleteInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if strings.TrimSpace(input.ID) == "" {
		return &agent.ToolResult{Content: "id is required", IsError: true}, nil
	}

	agentID, userID := sessionFields(agent.SessionFromContext(ctx))
	if err := t.notes.Delete(ctx, userID, agentID, input.ID); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to delete note: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: "Note deleted."}, nil
}

func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
