package store

import (
	"context"
	"strings"
	"time"
)

// Note is a structured fact persisted under the "notes" entity kind.
type Note struct {
	Entity
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// NoteStore wraps a Store with note-specific CRUD and the search-score
// formula used by the search_notes built-in tool.
type NoteStore struct {
	store *Store
}

func NewNoteStore(s *Store) *NoteStore { return &NoteStore{store: s} }

func (n *NoteStore) Create(ctx context.Context, userID, agentID string, note *Note) error {
	note.Stamp()
	return n.store.Create(ctx, userID, agentID, KindNote, note.ID, note)
}

func (n *NoteStore) Update(ctx context.Context, userID, agentID string, note *Note) error {
	note.UpdatedAt = time.Now()
	return n.store.Update(ctx, userID, agentID, KindNote, note.ID, note)
}

func (n *NoteStore) Get(ctx context.Context, userID, agentID, id string) (*Note, error) {
	var note Note
	if err := n.store.Get(ctx, userID, agentID, KindNote, id, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (n *NoteStore) Delete(ctx context.Context, userID, agentID, id string) error {
	return n.store.Delete(ctx, userID, agentID, KindNote, id)
}

func (n *NoteStore) List(ctx context.Context, userID, agentID string) ([]*Note, error) {
	raw, err := n.store.List(ctx, userID, agentID, KindNote, func() any { return &Note{} })
	if err != nil {
		return nil, err
	}
	notes := make([]*Note, 0, len(raw))
	for _, v := range raw {
		if note, ok := v.(*Note); ok {
			notes = append(notes, note)
		}
	}
	return notes, nil
}

// ScoredNote pairs a note with its search relevance score.
type ScoredNote struct {
	Note  *Note
	Score float64
}

// Search scores every note against query and returns the matches sorted by
// score descending, dropping anything that scores zero. The formula:
//
//	200  exact title match
//	140  exact tag match
//	120  title contains query
//	 90  tag contains query
//	 70  content contains query
//	 +per-query-token partial credit across title/tags/content
//	 recency boost: up to +20, linearly decayed over 30 days since UpdatedAt
func (n *NoteStore) Search(ctx context.Context, userID, agentID, query string) ([]ScoredNote, error) {
	notes, err := n.List(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	tokens := strings.Fields(q)

	scored := make([]ScoredNote, 0, len(notes))
	for _, note := range notes {
		score := scoreNote(note, q, tokens)
		if score > 0 {
			scored = append(scored, ScoredNote{Note: note, Score: score})
		}
	}
	sortScoredNotes(scored)
	return scored, nil
}

func scoreNote(note *Note, q string, tokens []string) float64 {
	title := strings.ToLower(note.Title)
	content := strings.ToLower(note.Content)
	tags := make([]string, len(note.Tags))
	for i, t := range note.Tags {
		tags[i] = strings.ToLower(t)
	}

	var score float64
	if title == q {
		score += 200
	}
	for _, tag := range tags {
		if tag == q {
			score += 140
			break
		}
	}
	if score == 0 && strings.Contains(title, q) {
		score += 120
	}
	for _, tag := range tags {
		if strings.Contains(tag, q) {
			score += 90
			break
		}
	}
	if strings.Contains(content, q) {
		score += 70
	}

	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if strings.Contains(title, tok) {
			score += 10
		}
		for _, tag := range tags {
			if strings.Contains(tag, tok) {
				score += 6
				break
			}
		}
		if strings.Contains(content, tok) {
			score += 3
		}
	}

	if score > 0 {
		score += recencyBoost(note.UpdatedAt)
	}
	return score
}

func recencyBoost(updatedAt time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	age := time.Since(updatedAt)
	const window = 30 * 24 * time.Hour
	if age >= window {
		return 0
	}
	return 20 * (1 - float64(age)/float64(window))
}

func sortScoredNotes(scored []ScoredNote) {
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
}
