package actions

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the storage.driver=memory implementation, also used as the
// store fake in tests. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ProposedAction
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*ProposedAction{}}
}

func (s *MemoryStore) FindAction(_ context.Context, chatID string, messageTimestamp int64) (*ProposedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if record.ChatID == chatID && record.MessageTimestamp == messageTimestamp {
			return record.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetAction(_ context.Context, actionID string) (*ProposedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[actionID]
	if !ok {
		return nil, ErrNotFound
	}
	return record.clone(), nil
}

func (s *MemoryStore) UpsertAction(_ context.Context, record *ProposedAction) error {
	if record == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ActionID] = record.clone()
	return nil
}

func (s *MemoryStore) ListActions(_ context.Context, chatID string) ([]*ProposedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var listed []*ProposedAction
	for _, record := range s.records {
		if record.ChatID == chatID {
			listed = append(listed, record.clone())
		}
	}
	sort.Slice(listed, func(i, j int) bool {
		if listed[i].CreatedAt.Equal(listed[j].CreatedAt) {
			return listed[i].ActionID < listed[j].ActionID
		}
		return listed[i].CreatedAt.Before(listed[j].CreatedAt)
	})
	return listed, nil
}

func (s *MemoryStore) Close() error { return nil }
