// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Conversation and message persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
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

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
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
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			started_at DATETIME NOT NULL,
			last_message_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_last_message
			ON conversations(last_message_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			external_id TEXT,
			email TEXT,
			phone TEXT,
			first_name TEXT,
			last_name TEXT,
			project TEXT,
			lead_status TEXT,
			lifecycle_stage TEXT,
			status TEXT NOT NULL DEFAULT 'new',
			source TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,

			CHECK (status IN ('new', 'contacted', 'engaged', 'qualified', 'closed', 'failed'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_external_id
			ON leads(external_id) WHERE external_id != '';
		CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
		CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone);
		CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.Status == "" {
		conv.Status = "active"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, identity, display_name, status, started_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Identity, conv.DisplayName, conv.Status, conv.StartedAt, conv.LastMessageAt,
	)
	if err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

// GetConversationByIdentity looks up the conversation for one user identity.
func (s *SQLiteStore) GetConversationByIdentity(ctx context.Context, identity string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity, display_name, status, started_at, last_message_at
		FROM conversations WHERE identity = ?`, identity)

	var conv Conversation
	err := row.Scan(&conv.ID, &conv.Identity, &conv.DisplayName, &conv.Status,
		&conv.StartedAt, &conv.LastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return &conv, nil
}

// SetDisplayName updates the display name for a conversation.
func (s *SQLiteStore) SetDisplayName(ctx context.Context, conversationID, displayName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET display_name = ? WHERE id = ?`,
		displayName, conversationID,
	)
	if err != nil {
		return fmt.Errorf("updating display name: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating display name: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversations returns conversations ordered by most recent activity.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, display_name, status, started_at, last_message_at
		FROM conversations ORDER BY last_message_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Identity, &conv.DisplayName, &conv.Status,
			&conv.StartedAt, &conv.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, &conv)
	}
	return out, rows.Err()
}

// AppendMessage records one turn and bumps the conversation's activity time.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		msg.CreatedAt, msg.ConversationID,
	); err != nil {
		return fmt.Errorf("updating conversation activity: %w", err)
	}

	return tx.Commit()
}

// GetMessages returns the oldest-first message history for a conversation.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// now returns the current time truncated to millisecond precision, which keeps
// DATETIME round-trips stable across drivers.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
