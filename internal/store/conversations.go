package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStateValue is the finite-state value of a chat. The set is open;
// NONE is the idle state every turn returns to.
type ConversationStateValue string

const (
	StateNone                       ConversationStateValue = "NONE"
	StateAwaitingMasterOrderComment ConversationStateValue = "AWAITING_MASTER_ORDER_COMMENT"
)

type Liveness string

const (
	LivenessActive  Liveness = "ACTIVE"
	LivenessBlocked Liveness = "BLOCKED"
)

type Conversation struct {
	ChatID      int64
	AccountID   string
	State       ConversationStateValue
	Payload     json.RawMessage
	DisplayName string
	Username    string
	Locale      string
	Liveness    Liveness
}

type CreateConversationInput struct {
	ChatID      int64
	DisplayName string
	Username    string
	Locale      string
}

func (s *Store) GetConversation(ctx context.Context, chatID int64) (Conversation, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT chat_id, account_id, state, payload_json, display_name, username, locale, liveness
		 FROM conversation_states
		 WHERE chat_id = ?`,
		chatID,
	)
	return scanConversation(row)
}

// CreateConversation inserts a NONE-state row for chatID unless one already
// exists, then returns whatever row is stored.
func (s *Store) CreateConversation(ctx context.Context, input CreateConversationInput) (Conversation, error) {
	now := nowUnix()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO conversation_states (
			chat_id, state, display_name, username, locale, liveness, created_at_unix, updated_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING`,
		input.ChatID,
		string(StateNone),
		strings.TrimSpace(input.DisplayName),
		strings.TrimSpace(input.Username),
		strings.TrimSpace(input.Locale),
		string(LivenessActive),
		now,
		now,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return s.GetConversation(ctx, input.ChatID)
}

func (s *Store) SetConversationAccount(ctx context.Context, chatID int64, accountID string) error {
	return s.updateConversation(ctx, chatID, "set conversation account",
		`UPDATE conversation_states SET account_id = ?, updated_at_unix = ? WHERE chat_id = ?`,
		nullIfEmpty(accountID), nowUnix(), chatID)
}

// LinkConversationAccount points chatID at accountID only while the row still
// references expectedAccountID. It reports false when another writer got there first.
func (s *Store) LinkConversationAccount(ctx context.Context, chatID int64, expectedAccountID, accountID string) (bool, error) {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE conversation_states SET account_id = ?, updated_at_unix = ?
		WHERE chat_id = ? AND COALESCE(account_id, '') = ?`,
		nullIfEmpty(accountID), nowUnix(), chatID, strings.TrimSpace(expectedAccountID),
	)
	if err != nil {
		return false, fmt.Errorf("link conversation account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link conversation account rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) UpdateConversationProfile(ctx context.Context, chatID int64, displayName, username, locale string) error {
	return s.updateConversation(ctx, chatID, "update conversation profile",
		`UPDATE conversation_states SET display_name = ?, username = ?, locale = ?, updated_at_unix = ? WHERE chat_id = ?`,
		strings.TrimSpace(displayName), strings.TrimSpace(username), strings.TrimSpace(locale), nowUnix(), chatID)
}

// SetConversationState writes state and payload. Moving to NONE always drops the payload.
func (s *Store) SetConversationState(ctx context.Context, chatID int64, state ConversationStateValue, payload json.RawMessage) error {
	state = ConversationStateValue(strings.TrimSpace(string(state)))
	if state == "" {
		state = StateNone
	}
	var payloadValue any
	if state != StateNone && len(payload) > 0 {
		if !json.Valid(payload) {
			return fmt.Errorf("set conversation state: payload is not valid json")
		}
		payloadValue = string(payload)
	}
	return s.updateConversation(ctx, chatID, "set conversation state",
		`UPDATE conversation_states SET state = ?, payload_json = ?, updated_at_unix = ? WHERE chat_id = ?`,
		string(state), payloadValue, nowUnix(), chatID)
}

// SetConversationLiveness is a no-op for chats without a state row.
func (s *Store) SetConversationLiveness(ctx context.Context, chatID int64, liveness Liveness) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE conversation_states SET liveness = ?, updated_at_unix = ? WHERE chat_id = ? AND liveness <> ?`,
		string(liveness), nowUnix(), chatID, string(liveness),
	)
	if err != nil {
		return fmt.Errorf("set conversation liveness: %w", err)
	}
	return nil
}

func (s *Store) updateConversation(ctx context.Context, chatID int64, operation, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s for chat %d: %w", operation, chatID, ErrConversationNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		conversation Conversation
		accountID    sql.NullString
		state        string
		payload      sql.NullString
		liveness     string
	)
	err := row.Scan(
		&conversation.ChatID,
		&accountID,
		&state,
		&payload,
		&conversation.DisplayName,
		&conversation.Username,
		&conversation.Locale,
		&liveness,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrConversationNotFound
		}
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	conversation.AccountID = accountID.String
	conversation.State = ConversationStateValue(state)
	if conversation.State == "" {
		conversation.State = StateNone
	}
	if conversation.State != StateNone && payload.Valid && strings.TrimSpace(payload.String) != "" {
		conversation.Payload = json.RawMessage(payload.String)
	}
	conversation.Liveness = Liveness(liveness)
	return conversation, nil
}
