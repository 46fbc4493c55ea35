// Package memory owns conversation history. The Manager is the only writer:
// it serializes appends per conversation so concurrent turns can never
// interleave into a torn history, and it bounds each conversation to a
// configurable window of recent turns.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/pkg/logging"
)

// Store persists conversation history. Implementations need no internal
// per-conversation ordering: the Manager serializes writers.
type Store interface {
	// Load returns the stored history. A missing conversation returns an
	// empty context, not an error.
	Load(ctx context.Context, conversationID string) (dialog.Context, error)

	// Save replaces the stored history for one conversation.
	Save(ctx context.Context, history dialog.Context) error

	// Delete removes a conversation's history.
	Delete(ctx context.Context, conversationID string) error
}

// Config tunes the manager.
type Config struct {
	// WindowSize bounds the turns kept per conversation; older turns are
	// evicted on append.
	WindowSize int
	Logger     *slog.Logger
}

// DefaultConfig returns the standard window policy.
func DefaultConfig() *Config {
	return &Config{WindowSize: 10}
}

// Option customizes the manager.
type Option func(*Config)

// WithWindowSize overrides the per-conversation turn bound.
func WithWindowSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.WindowSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// lockStripes fixes the mutex pool size. Conversations hash onto stripes so
// unrelated conversations rarely contend while the same conversation always
// serializes.
const lockStripes = 64

// Manager mediates all history access.
type Manager struct {
	store  Store
	cfg    *Config
	logger *slog.Logger
	locks  [lockStripes]sync.Mutex
}

// NewManager wraps a store with windowing and per-conversation ordering.
func NewManager(store Store, opts ...Option) *Manager {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("memory")
	}
	return &Manager{store: store, cfg: cfg, logger: logger}
}

func (m *Manager) stripe(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &m.locks[h.Sum32()%lockStripes]
}

// Fetch returns the conversation history. Unknown ids yield an empty context.
// The returned context is a snapshot the caller may keep without observing
// later appends.
func (m *Manager) Fetch(ctx context.Context, conversationID string) (dialog.Context, error) {
	history, err := m.store.Load(ctx, conversationID)
	if err != nil {
		return dialog.Context{}, fmt.Errorf("load history %s: %w", conversationID, err)
	}
	if history.ConversationID == "" {
		history.ConversationID = conversationID
	}
	return history.Clone(), nil
}

// Append durably records one turn. Appends for the same conversation are
// serialized; ordering follows arrival at the manager.
func (m *Manager) Append(ctx context.Context, query dialog.Query, response dialog.FinalResponse) error {
	conversationID := query.ConversationID
	if conversationID == "" {
		return fmt.Errorf("append: empty conversation id")
	}

	mu := m.stripe(conversationID)
	mu.Lock()
	defer mu.Unlock()

	history, err := m.store.Load(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load history %s: %w", conversationID, err)
	}
	history.ConversationID = conversationID
	history.Turns = append(history.Turns, dialog.Turn{
		Query:      query,
		Response:   response,
		AppendedAt: time.Now(),
	})
	if excess := len(history.Turns) - m.cfg.WindowSize; excess > 0 {
		history.Turns = history.Turns[excess:]
	}
	if err := m.store.Save(ctx, history); err != nil {
		return fmt.Errorf("save history %s: %w", conversationID, err)
	}
	m.logger.Debug("turn appended", "conversation_id", conversationID, "turns", len(history.Turns))
	return nil
}

// Forget removes a conversation entirely.
func (m *Manager) Forget(ctx context.Context, conversationID string) error {
	mu := m.stripe(conversationID)
	mu.Lock()
	defer mu.Unlock()
	return m.store.Delete(ctx, conversationID)
}
