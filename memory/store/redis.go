// Package store provides durable backends for conversation history. Each
// backend implements memory.Store; write ordering comes from the manager, not
// from the backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/memory"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces history keys.
	Prefix string
	// TTL expires idle conversations (0 means no expiration).
	TTL time.Duration
}

// DefaultRedisConfig returns local-development defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "consult:history:",
		TTL:    0,
	}
}

// RedisStore keeps each conversation's history as one JSON value.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed history store.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

func (s *RedisStore) key(conversationID string) string {
	return s.prefix + conversationID
}

// Load returns the stored history; a missing key yields an empty context.
func (s *RedisStore) Load(ctx context.Context, conversationID string) (dialog.Context, error) {
	data, err := s.client.Get(ctx, s.key(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return dialog.Context{ConversationID: conversationID}, nil
	}
	if err != nil {
		return dialog.Context{}, fmt.Errorf("redis get: %w", err)
	}
	var history dialog.Context
	if err := json.Unmarshal([]byte(data), &history); err != nil {
		return dialog.Context{}, fmt.Errorf("decode history: %w", err)
	}
	return history, nil
}

// Save replaces the stored history, refreshing the TTL.
func (s *RedisStore) Save(ctx context.Context, history dialog.Context) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.client.Set(ctx, s.key(history.ConversationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a conversation.
func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ memory.Store = (*RedisStore)(nil)
