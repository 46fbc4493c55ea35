package memory

import (
	"context"
	"sync"

	"github.com/edmondsbay/consult/dialog"
)

// InMemoryStore keeps history in process memory. The default for tests and
// single-node deployments.
type InMemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]dialog.Context
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{contexts: make(map[string]dialog.Context)}
}

// Load returns a deep copy; missing conversations yield an empty context.
func (s *InMemoryStore) Load(_ context.Context, conversationID string) (dialog.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history, ok := s.contexts[conversationID]
	if !ok {
		return dialog.Context{ConversationID: conversationID}, nil
	}
	return history.Clone(), nil
}

// Save replaces the stored history.
func (s *InMemoryStore) Save(_ context.Context, history dialog.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[history.ConversationID] = history.Clone()
	return nil
}

// Delete removes a conversation.
func (s *InMemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, conversationID)
	return nil
}

var _ Store = (*InMemoryStore)(nil)
