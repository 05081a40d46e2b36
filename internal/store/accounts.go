package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrAccountNotFound = errors.New("account not found")

type Account struct {
	ID             string
	DisplayName    string
	Locale         string
	LocalePriority int
	CreatedAt      time.Time
}

type CreateAccountInput struct {
	DisplayName    string
	Locale         string
	LocalePriority int
}

type LocaleChange struct {
	ID             string
	AccountID      string
	PreviousLocale string
	Locale         string
	Priority       int
	CreatedAt      time.Time
}

func (s *Store) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	now := nowUnix()
	account := Account{
		ID:             uuid.NewString(),
		DisplayName:    strings.TrimSpace(input.DisplayName),
		Locale:         strings.TrimSpace(input.Locale),
		LocalePriority: input.LocalePriority,
		CreatedAt:      time.Unix(now, 0).UTC(),
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO accounts (id, display_name, locale, locale_priority, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.DisplayName,
		account.Locale,
		account.LocalePriority,
		now,
		now,
	)
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (Account, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, display_name, locale, locale_priority, created_at_unix FROM accounts WHERE id = ?`,
		strings.TrimSpace(id),
	)
	var (
		account   Account
		createdAt int64
	)
	if err := row.Scan(&account.ID, &account.DisplayName, &account.Locale, &account.LocalePriority, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	account.CreatedAt = time.Unix(createdAt, 0).UTC()
	return account, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

func (s *Store) SetAccountLocale(ctx context.Context, accountID, locale string, priority int) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE accounts SET locale = ?, locale_priority = ?, updated_at_unix = ? WHERE id = ?`,
		strings.TrimSpace(locale),
		priority,
		nowUnix(),
		strings.TrimSpace(accountID),
	)
	if err != nil {
		return fmt.Errorf("set account locale: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set account locale rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Store) SetAccountDisplayName(ctx context.Context, accountID, displayName string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE accounts SET display_name = ?, updated_at_unix = ? WHERE id = ?`,
		strings.TrimSpace(displayName),
		nowUnix(),
		strings.TrimSpace(accountID),
	)
	if err != nil {
		return fmt.Errorf("set account display name: %w", err)
	}
	return nil
}

func (s *Store) AppendLocaleChange(ctx context.Context, change LocaleChange) error {
	if strings.TrimSpace(change.ID) == "" {
		change.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO locale_changes (id, account_id, previous_locale, locale, priority, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		change.ID,
		strings.TrimSpace(change.AccountID),
		strings.TrimSpace(change.PreviousLocale),
		strings.TrimSpace(change.Locale),
		change.Priority,
		nowUnix(),
	)
	if err != nil {
		return fmt.Errorf("insert locale change: %w", err)
	}
	return nil
}

func (s *Store) ListLocaleChanges(ctx context.Context, accountID string) ([]LocaleChange, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, account_id, previous_locale, locale, priority, created_at_unix
		 FROM locale_changes
		 WHERE account_id = ?
		 ORDER BY created_at_unix ASC, rowid ASC`,
		strings.TrimSpace(accountID),
	)
	if err != nil {
		return nil, fmt.Errorf("list locale changes: %w", err)
	}
	defer rows.Close()

	changes := []LocaleChange{}
	for rows.Next() {
		var (
			change    LocaleChange
			createdAt int64
		)
		if err := rows.Scan(&change.ID, &change.AccountID, &change.PreviousLocale, &change.Locale, &change.Priority, &createdAt); err != nil {
			return nil, fmt.Errorf("scan locale change: %w", err)
		}
		change.CreatedAt = time.Unix(createdAt, 0).UTC()
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locale changes: %w", err)
	}
	return changes, nil
}
