package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process memory store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[scopeKey][]TurnRecord
}

type scopeKey struct {
	userID    string
	sessionID string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[scopeKey][]TurnRecord)}
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
	key := scopeKey{userID: record.UserID, sessionID: record.SessionID}
	s.records[key] = append(s.records[key], record)
	return nil
}

func (s *InMemoryStore) RecentContext(_ context.Context, userID, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[scopeKey{userID: userID, sessionID: sessionID}]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
