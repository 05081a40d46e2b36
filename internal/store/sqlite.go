package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			locale TEXT NOT NULL DEFAULT '',
			locale_priority INTEGER NOT NULL DEFAULT 0,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS locale_changes (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			previous_locale TEXT NOT NULL DEFAULT '',
			locale TEXT NOT NULL,
			priority INTEGER NOT NULL,
			created_at_unix INTEGER NOT NULL,
			FOREIGN KEY(account_id) REFERENCES accounts(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_states (
			chat_id INTEGER PRIMARY KEY,
			account_id TEXT,
			state TEXT NOT NULL DEFAULT 'NONE',
			payload_json TEXT,
			display_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			locale TEXT NOT NULL DEFAULT '',
			liveness TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS telegram_logs (
			id TEXT PRIMARY KEY,
			chat_id INTEGER,
			direction TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT '',
			tag TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL DEFAULT '',
			response_text TEXT,
			error_text TEXT,
			message_ids_json TEXT,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_telegram_logs_tag ON telegram_logs(tag, direction);`,
		`CREATE INDEX IF NOT EXISTS idx_telegram_logs_chat ON telegram_logs(chat_id, created_at_unix);`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			remote_ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_key TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls_json TEXT,
			tool_call_id TEXT,
			name TEXT,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_key ON conversation_messages(conversation_key, id);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			admin_check TEXT NOT NULL DEFAULT 'new',
			expires_at_unix INTEGER,
			closed_at_unix INTEGER,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS order_locations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id INTEGER NOT NULL,
			address TEXT NOT NULL,
			city TEXT NOT NULL,
			country TEXT NOT NULL,
			FOREIGN KEY(order_id) REFERENCES orders(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS masters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL UNIQUE,
			text TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			admin_check TEXT NOT NULL DEFAULT 'new',
			closed_at_unix INTEGER,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS master_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			master_id INTEGER NOT NULL,
			order_id INTEGER NOT NULL,
			comments TEXT,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			FOREIGN KEY(master_id) REFERENCES masters(id) ON DELETE CASCADE,
			FOREIGN KEY(order_id) REFERENCES orders(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS export_posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			text TEXT NOT NULL DEFAULT '',
			admin_status TEXT NOT NULL DEFAULT 'new',
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS translation_cache (
			id TEXT PRIMARY KEY,
			source_text TEXT NOT NULL,
			translated_text TEXT NOT NULL,
			source_language TEXT NOT NULL DEFAULT 'xx',
			target_language TEXT NOT NULL,
			requests_count INTEGER NOT NULL DEFAULT 1,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			UNIQUE(source_text, target_language)
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	alterQueries := []string{
		`ALTER TABLE masters ADD COLUMN country TEXT NOT NULL DEFAULT '';`,
		`ALTER TABLE orders ADD COLUMN expires_at_unix INTEGER;`,
	}
	for _, query := range alterQueries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			message := strings.ToLower(err.Error())
			if strings.Contains(message, "duplicate column name") || strings.Contains(message, "no such table") {
				continue
			}
			return fmt.Errorf("run migration alter: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nowUnix() int64 {
	return time.Now().UTC().Unix()
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullIfZeroInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func unixOrZero(value sql.NullInt64) time.Time {
	if !value.Valid || value.Int64 == 0 {
		return time.Time{}
	}
	return time.Unix(value.Int64, 0).UTC()
}
