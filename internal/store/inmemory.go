package store

import (
	"context"
	"sync"
)

// InMemoryStore keeps messages in process memory. It is the default when
// no DATABASE_URL is configured and the backend used by tests.
type InMemoryStore struct {
	mu       sync.Mutex
	messages []Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *InMemoryStore) RecentMessages(_ context.Context, companionID, userID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	var out []Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if m.CompanionID == companionID && m.UserID == userID {
			out = append(out, m)
		}
	}
	// newest-first from the scan above; callers want oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
