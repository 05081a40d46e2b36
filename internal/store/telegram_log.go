package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DirectionReceived = "received"
	DirectionSent     = "sent"
)

type TelegramLog struct {
	ID         string
	ChatID     int64
	Direction  string
	Method     string
	Tag        string
	Payload    string
	Response   string
	Error      string
	MessageIDs []int64
	CreatedAt  time.Time
}

type CreateTelegramLogInput struct {
	ChatID     int64
	Direction  string
	Method     string
	Tag        string
	Payload    string
	Response   string
	Error      string
	MessageIDs []int64
}

// SentMessageRef points at platform messages produced by one audited send.
type SentMessageRef struct {
	ChatID     int64
	MessageIDs []int64
}

func (s *Store) CreateTelegramLog(ctx context.Context, input CreateTelegramLogInput) (TelegramLog, error) {
	direction := strings.ToLower(strings.TrimSpace(input.Direction))
	if direction != DirectionReceived && direction != DirectionSent {
		return TelegramLog{}, fmt.Errorf("invalid telegram log direction %q", input.Direction)
	}
	record := TelegramLog{
		ID:         "tg_" + uuid.NewString(),
		ChatID:     input.ChatID,
		Direction:  direction,
		Method:     strings.TrimSpace(input.Method),
		Tag:        strings.TrimSpace(input.Tag),
		Payload:    input.Payload,
		Response:   input.Response,
		Error:      strings.TrimSpace(input.Error),
		MessageIDs: input.MessageIDs,
		CreatedAt:  time.Now().UTC(),
	}
	var messageIDs any
	if len(record.MessageIDs) > 0 {
		encoded, err := json.Marshal(record.MessageIDs)
		if err != nil {
			return TelegramLog{}, fmt.Errorf("encode message ids: %w", err)
		}
		messageIDs = string(encoded)
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO telegram_logs (
			id, chat_id, direction, method, tag, payload_json, response_text, error_text, message_ids_json, created_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		nullIfZeroInt64(record.ChatID),
		record.Direction,
		record.Method,
		record.Tag,
		record.Payload,
		nullIfEmpty(record.Response),
		nullIfEmpty(record.Error),
		messageIDs,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return TelegramLog{}, fmt.Errorf("insert telegram log: %w", err)
	}
	return record, nil
}

func (s *Store) ListTelegramLogs(ctx context.Context, chatID int64, limit int) ([]TelegramLog, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, chat_id, direction, method, tag, payload_json, response_text, error_text, message_ids_json, created_at_unix
		 FROM telegram_logs
		 WHERE chat_id = ?
		 ORDER BY created_at_unix ASC, rowid ASC
		 LIMIT ?`,
		chatID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list telegram logs: %w", err)
	}
	defer rows.Close()

	logs := []TelegramLog{}
	for rows.Next() {
		record, err := scanTelegramLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telegram logs: %w", err)
	}
	return logs, nil
}

// ListSentMessagesByTag returns every successfully sent message tagged with tag.
func (s *Store) ListSentMessagesByTag(ctx context.Context, tag string) ([]SentMessageRef, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT chat_id, message_ids_json
		 FROM telegram_logs
		 WHERE tag = ? AND direction = ? AND message_ids_json IS NOT NULL AND chat_id IS NOT NULL
		 ORDER BY created_at_unix ASC, rowid ASC`,
		strings.TrimSpace(tag),
		DirectionSent,
	)
	if err != nil {
		return nil, fmt.Errorf("list sent messages by tag: %w", err)
	}
	defer rows.Close()

	refs := []SentMessageRef{}
	for rows.Next() {
		var (
			ref     SentMessageRef
			encoded string
		)
		if err := rows.Scan(&ref.ChatID, &encoded); err != nil {
			return nil, fmt.Errorf("scan sent message ref: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &ref.MessageIDs); err != nil || len(ref.MessageIDs) == 0 {
			continue
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sent message refs: %w", err)
	}
	return refs, nil
}

func (s *Store) PruneTelegramLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM telegram_logs WHERE created_at_unix < ?`, before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune telegram logs: %w", err)
	}
	return result.RowsAffected()
}

func scanTelegramLog(row rowScanner) (TelegramLog, error) {
	var (
		record     TelegramLog
		chatID     sql.NullInt64
		response   sql.NullString
		errorText  sql.NullString
		messageIDs sql.NullString
		createdAt  int64
	)
	if err := row.Scan(
		&record.ID,
		&chatID,
		&record.Direction,
		&record.Method,
		&record.Tag,
		&record.Payload,
		&response,
		&errorText,
		&messageIDs,
		&createdAt,
	); err != nil {
		return TelegramLog{}, fmt.Errorf("scan telegram log: %w", err)
	}
	record.ChatID = chatID.Int64
	record.Response = response.String
	record.Error = errorText.String
	if messageIDs.Valid && messageIDs.String != "" {
		_ = json.Unmarshal([]byte(messageIDs.String), &record.MessageIDs)
	}
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	return record, nil
}
