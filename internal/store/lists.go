package store

import "context"

// ListEntity is a named list of string items, persisted under the "lists"
// entity kind (one file per list, keyed by id).
type ListEntity struct {
	Entity
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

// ListStore wraps a Store with CRUD for ListEntity plus item-level mutation.
type ListStore struct {
	store *Store
}

func NewListStore(s *Store) *ListStore { return &ListStore{store: s} }

func (l *ListStore) Get(ctx context.Context, userID, agentID, id string) (*ListEntity, error) {
	var list ListEntity
	if err := l.store.Get(ctx, userID, agentID, KindList, id, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (l *ListStore) save(ctx context.Context, userID, agentID string, list *ListEntity) error {
	list.Stamp()
	return l.store.Update(ctx, userID, agentID, KindList, list.ID, list)
}

// AddItem appends item to the named list, creating it if absent.
func (l *ListStore) AddItem(ctx context.Context, userID, agentID, id, item string) (*ListEntity, error) {
	list, err := l.Get(ctx, userID, agentID, id)
	if err != nil {
		if err != ErrNotFound {
			return nil, err
		}
		list = &ListEntity{Entity: Entity{ID: id}}
	}
	list.Items = append(list.Items, item)
	if err := l.save(ctx, userID, agentID, list); err != nil {
		return nil, err
	}
	return list, nil
}

// RemoveItem removes the first occurrence of item from the named list.
func (l *ListStore) RemoveItem(ctx context.Context, userID, agentID, id, item string) (*ListEntity, error) {
	list, err := l.Get(ctx, userID, agentID, id)
	if err != nil {
		return nil, err
	}
	for i, v := range list.Items {
		if v == item {
			list.Items = append(list.Items[:i], list.Items[i+1:]...)
			break
		}
	}
	if err := l.save(ctx, userID, agentID, list); err != nil {
		return nil, err
	}
	return list, nil
}
