package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ConversationMessage is one persisted entry of the AI memory for a conversation key.
type ConversationMessage struct {
	ID            int64
	Role          string
	Content       string
	ToolCallsJSON string
	ToolCallID    string
	Name          string
	CreatedAt     time.Time
}

func (s *Store) AppendConversationMessages(ctx context.Context, key string, messages []ConversationMessage) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("conversation key is required")
	}
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	for _, message := range messages {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO conversation_messages (conversation_key, role, content, tool_calls_json, tool_call_id, name, created_at_unix)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			key,
			strings.TrimSpace(message.Role),
			message.Content,
			nullIfEmpty(message.ToolCallsJSON),
			nullIfEmpty(message.ToolCallID),
			nullIfEmpty(message.Name),
			now,
		); err != nil {
			return fmt.Errorf("insert conversation message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation messages: %w", err)
	}
	return nil
}

// ListConversationMessages returns the newest limit messages in chronological order.
func (s *Store) ListConversationMessages(ctx context.Context, key string, limit int) ([]ConversationMessage, error) {
	if limit < 1 {
		limit = 40
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, role, content, tool_calls_json, tool_call_id, name, created_at_unix
		 FROM (
			SELECT * FROM conversation_messages
			WHERE conversation_key = ?
			ORDER BY id DESC
			LIMIT ?
		 )
		 ORDER BY id ASC`,
		strings.TrimSpace(key),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	defer rows.Close()

	messages := []ConversationMessage{}
	for rows.Next() {
		var (
			message    ConversationMessage
			toolCalls  sql.NullString
			toolCallID sql.NullString
			name       sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(&message.ID, &message.Role, &message.Content, &toolCalls, &toolCallID, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		message.ToolCallsJSON = toolCalls.String
		message.ToolCallID = toolCallID.String
		message.Name = name.String
		message.CreatedAt = time.Unix(createdAt, 0).UTC()
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation messages: %w", err)
	}
	return messages, nil
}

func (s *Store) PruneConversationMessages(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE created_at_unix < ?`, before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune conversation messages: %w", err)
	}
	return result.RowsAffected()
}
