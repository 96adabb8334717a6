package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/chat-scribe/source"
)

// PostgresStore keeps the per-chat logs in Postgres. The primary key on
// (chat_id, message_id) is a structural backstop for the ledger: a
// conflicting insert means a duplicate got past dedup and is surfaced as
// ErrDuplicateEntry rather than silently ignored.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with the given DSN and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection (tests).
func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Migrate applies idempotent schema changes for all required tables and indices.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			chat_id BIGINT PRIMARY KEY,
			title TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			chat_id BIGINT NOT NULL,
			message_id BIGINT NOT NULL,
			origin TEXT NOT NULL,
			sender TEXT,
			body TEXT,
			sent_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (chat_id, message_id)
		)`,
		`CREATE TABLE IF NOT EXISTS gaps (
			id SERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			after_message_id BIGINT,
			reason TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_sent ON messages(chat_id, sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_gaps_chat ON gaps(chat_id)`,
	}
	for i, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, chat Chat, e LogEntry) error {
	_, _ = s.db.ExecContext(ctx, `INSERT INTO chats (chat_id, title, created_at) VALUES ($1,$2,NOW())
		ON CONFLICT (chat_id) DO UPDATE SET title=COALESCE(NULLIF(EXCLUDED.title,''), chats.title), updated_at=NOW()`,
		chat.ID, chat.Title)
	res, err := s.db.ExecContext(ctx, `INSERT INTO messages (chat_id, message_id, origin, sender, body, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (chat_id, message_id) DO NOTHING`,
		chat.ID, e.MessageID, string(e.Origin), e.Sender, e.Text, e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("chat %d message %d: %w", chat.ID, e.MessageID, ErrDuplicateEntry)
	}
	return nil
}

func (s *PostgresStore) ReadExisting(ctx context.Context, chatID int64) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, origin, COALESCE(sender,''), COALESCE(body,''), sent_at
		FROM messages WHERE chat_id=$1 ORDER BY message_id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var origin string
		var sentAt time.Time
		if err := rows.Scan(&e.MessageID, &origin, &e.Sender, &e.Text, &sentAt); err != nil {
			return nil, err
		}
		e.Origin = source.Origin(origin)
		e.Timestamp = sentAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) RecordGap(ctx context.Context, chatID int64, after source.Marker, reason string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO gaps (chat_id, after_message_id, reason, created_at) VALUES ($1,$2,$3,NOW())`,
		chatID, after.MessageID, reason)
	return err
}

func (s *PostgresStore) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, COALESCE(title,'') FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Close() error { return s.db.Close() }

// DB exposes the underlying handle for the HTTP status endpoints.
func (s *PostgresStore) DB() *sql.DB { return s.db }
