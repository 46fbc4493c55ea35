package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/edmondsbay/consult/config"
	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/memory"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns local-development defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "consult",
		SSLMode:  "disable",
	}
}

// PostgresConfigFromEnv loads connection settings from POSTGRES_* variables.
func PostgresConfigFromEnv() *PostgresConfig {
	return &PostgresConfig{
		Host:     config.GetEnv("POSTGRES_HOST", "localhost"),
		Port:     config.GetEnvInt("POSTGRES_PORT", 5432),
		User:     config.GetEnv("POSTGRES_USER", "postgres"),
		Password: config.GetEnv("POSTGRES_PASSWORD", ""),
		DBName:   config.GetEnv("POSTGRES_DB", "consult"),
		SSLMode:  config.GetEnv("POSTGRES_SSLMODE", "disable"),
	}
}

func (c *PostgresConfig) validate() error {
	v := config.NewValidator()
	v.RequireNonEmpty("host", c.Host)
	v.RequireNonEmpty("user", c.User)
	v.RequireNonEmpty("dbname", c.DBName)
	v.ValidateRange("port", c.Port, 1, 65535)
	return v.Err()
}

// PostgresStore keeps each conversation's turns as a JSONB row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, verifies the connection, and ensures the schema.
// A nil config falls back to POSTGRES_* environment variables.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = PostgresConfigFromEnv()
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL configuration: %w", err)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping PostgreSQL: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id VARCHAR(255) PRIMARY KEY,
		turns JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations (updated_at DESC);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Load returns the stored history; a missing row yields an empty context.
func (s *PostgresStore) Load(ctx context.Context, conversationID string) (dialog.Context, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT turns FROM conversations WHERE conversation_id = $1`,
		conversationID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return dialog.Context{ConversationID: conversationID}, nil
	}
	if err != nil {
		return dialog.Context{}, fmt.Errorf("query history: %w", err)
	}
	var turns []dialog.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return dialog.Context{}, fmt.Errorf("decode history: %w", err)
	}
	return dialog.Context{ConversationID: conversationID, Turns: turns}, nil
}

// Save upserts the conversation row.
func (s *PostgresStore) Save(ctx context.Context, history dialog.Context) error {
	data, err := json.Marshal(history.Turns)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, turns, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id)
		DO UPDATE SET turns = EXCLUDED.turns, updated_at = EXCLUDED.updated_at`,
		history.ConversationID, data, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

// Delete removes a conversation row.
func (s *PostgresStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ memory.Store = (*PostgresStore)(nil)
