package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process turn store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	byLearner map[string][]TurnRecord
	bySession map[string][]TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byLearner: make(map[string][]TurnRecord),
		bySession: make(map[string][]TurnRecord),
	}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.byLearner[record.LearnerID] = append(s.byLearner[record.LearnerID], record)
	s.bySession[record.SessionID] = append(s.bySession[record.SessionID], record)
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, learnerID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.byLearner[learnerID], limit), nil
}

func (s *InMemoryStore) SessionTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.bySession[sessionID], limit), nil
}

func tail(arr []TurnRecord, limit int) []TurnRecord {
	if len(arr) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out
}

func (s *InMemoryStore) Close() error { return nil }
