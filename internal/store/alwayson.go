package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// alwaysOnKey is the literal key format the spec names:
// "agent_always_on:<userId>:<agentId>".
func alwaysOnKey(userID, agentID string) string {
	return fmt.Sprintf("agent_always_on:%s:%s", userID, agentID)
}

// alwaysOnTable is the on-disk shape of _always_on.json: a flat map from
// key to raw JSON value, so heterogeneous value types can share one file.
type alwaysOnTable map[string]json.RawMessage

func (s *Store) readAlwaysOnTable() (alwaysOnTable, error) {
	data, err := os.ReadFile(s.alwaysOnPath)
	if err != nil {
		if os.IsNotExist(err) {
			return alwaysOnTable{}, nil
		}
		return nil, err
	}
	var table alwaysOnTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, err
	}
	if table == nil {
		table = alwaysOnTable{}
	}
	return table, nil
}

// SetAlwaysOn persists v under the agent_always_on:<userID>:<agentID> key,
// surviving process restarts regardless of conversation/session lifecycle.
func (s *Store) SetAlwaysOn(ctx context.Context, userID, agentID string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.readAlwaysOnTable()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	table[alwaysOnKey(userID, agentID)] = raw
	return writeAtomic(s.alwaysOnPath, table)
}

// GetAlwaysOn reads the agent_always_on:<userID>:<agentID> value into dst.
// Returns ErrNotFound if the key was never set.
func (s *Store) GetAlwaysOn(ctx context.Context, userID, agentID string, dst any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.readAlwaysOnTable()
	if err != nil {
		return err
	}
	raw, ok := table[alwaysOnKey(userID, agentID)]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dst)
}

// DeleteAlwaysOn removes the agent_always_on:<userID>:<agentID> key.
func (s *Store) DeleteAlwaysOn(ctx context.Context, userID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.readAlwaysOnTable()
	if err != nil {
		return err
	}
	delete(table, alwaysOnKey(userID, agentID))
	return writeAtomic(s.alwaysOnPath, table)
}
