package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RequestLogInput struct {
	Method    string
	Path      string
	RemoteIP  string
	UserAgent string
	Status    int
	Duration  time.Duration
}

func (s *Store) CreateRequestLog(ctx context.Context, input RequestLogInput) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO request_logs (id, method, path, remote_ip, user_agent, status, duration_ms, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		strings.ToUpper(strings.TrimSpace(input.Method)),
		strings.TrimSpace(input.Path),
		strings.TrimSpace(input.RemoteIP),
		truncate(strings.TrimSpace(input.UserAgent), 255),
		input.Status,
		input.Duration.Milliseconds(),
		nowUnix(),
	)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

func (s *Store) CountRequestLogs(ctx context.Context, path string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM request_logs WHERE path = ?`, path).Scan(&count); err != nil {
		return 0, fmt.Errorf("count request logs: %w", err)
	}
	return count, nil
}

func (s *Store) PruneRequestLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE created_at_unix < ?`, before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune request logs: %w", err)
	}
	return result.RowsAffected()
}

func truncate(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}
