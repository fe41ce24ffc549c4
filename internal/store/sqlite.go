// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/handoff persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection keeps
	// concurrent transactions queued instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenant_agents (
			id               TEXT PRIMARY KEY,
			workspace_id     TEXT NOT NULL,
			name             TEXT NOT NULL,
			persona          TEXT NOT NULL DEFAULT '',
			model            TEXT NOT NULL DEFAULT '',
			active           INTEGER NOT NULL DEFAULT 1,
			message_credits  INTEGER NOT NULL DEFAULT 0,
			credits_reset_at TEXT,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_workspace ON tenant_agents(workspace_id);

		CREATE TABLE IF NOT EXISTS operators (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			active        INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id                   TEXT PRIMARY KEY,
			agent_id             TEXT NOT NULL,
			session_id           TEXT NOT NULL,
			client_id            TEXT,
			customer_name        TEXT,
			customer_email       TEXT,
			customer_phone       TEXT,
			status               TEXT NOT NULL DEFAULT 'active',
			response_authority   TEXT NOT NULL DEFAULT 'automated',
			assigned_operator_id TEXT,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL,

			CHECK (status IN ('active', 'archived')),
			CHECK (response_authority IN ('automated', 'handoff_requested', 'human_assigned'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id, updated_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(agent_id, session_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_client ON conversations(agent_id, client_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_authority ON conversations(agent_id, response_authority);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			body            TEXT NOT NULL,
			feedback        TEXT,
			topic           TEXT,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (role IN ('customer', 'assistant', 'operator')),
			CHECK (feedback IS NULL OR feedback IN ('positive', 'negative'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_topic ON messages(topic);

		CREATE TABLE IF NOT EXISTS handoff_requests (
			id                      TEXT PRIMARY KEY,
			conversation_id         TEXT NOT NULL,
			agent_id                TEXT NOT NULL,
			status                  TEXT NOT NULL DEFAULT 'pending',
			reason                  TEXT,
			requested_at            TEXT NOT NULL,
			accepted_at             TEXT,
			accepted_by_operator_id TEXT,
			resolved_at             TEXT,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (status IN ('pending', 'accepted', 'resolved'))
		);

		CREATE INDEX IF NOT EXISTS idx_handoffs_agent ON handoff_requests(agent_id, status);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_handoffs_one_pending
			ON handoff_requests(conversation_id) WHERE status = 'pending';

		CREATE TABLE IF NOT EXISTS topic_stats (
			agent_id      TEXT NOT NULL,
			topic         TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			updated_at    TEXT NOT NULL,

			PRIMARY KEY (agent_id, topic)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Timestamps are stored as RFC3339 UTC text so every value round-trips
// with an explicit Z suffix.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullable maps "" to NULL so optional text columns stay NULL until set
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
