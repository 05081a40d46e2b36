package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// LookupTranslation returns a cached translation and bumps its request counter.
func (s *Store) LookupTranslation(ctx context.Context, sourceText, targetLanguage string) (string, bool, error) {
	targetLanguage = strings.ToLower(strings.TrimSpace(targetLanguage))
	var (
		id         string
		translated string
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, translated_text FROM translation_cache WHERE source_text = ? AND target_language = ?`,
		sourceText,
		targetLanguage,
	).Scan(&id, &translated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup translation: %w", err)
	}
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE translation_cache SET requests_count = requests_count + 1, updated_at_unix = ? WHERE id = ?`,
		nowUnix(),
		id,
	); err != nil {
		return "", false, fmt.Errorf("bump translation counter: %w", err)
	}
	return translated, true, nil
}

func (s *Store) SaveTranslation(ctx context.Context, sourceText, translatedText, targetLanguage string) error {
	now := nowUnix()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO translation_cache (id, source_text, translated_text, source_language, target_language, requests_count, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, 'xx', ?, 1, ?, ?)
		 ON CONFLICT(source_text, target_language) DO UPDATE SET translated_text = excluded.translated_text, updated_at_unix = excluded.updated_at_unix`,
		uuid.NewString(),
		sourceText,
		translatedText,
		strings.ToLower(strings.TrimSpace(targetLanguage)),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("save translation: %w", err)
	}
	return nil
}

func (s *Store) TranslationRequestCount(ctx context.Context, sourceText, targetLanguage string) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT requests_count FROM translation_cache WHERE source_text = ? AND target_language = ?`,
		sourceText,
		strings.ToLower(strings.TrimSpace(targetLanguage)),
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("translation request count: %w", err)
	}
	return count, nil
}
