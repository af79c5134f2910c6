package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetLinkSummary returns the cached summary for a URL. ok is false on a
// cache miss.
func (s *Store) GetLinkSummary(ctx context.Context, url string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary_content FROM link_summaries WHERE url = ?`, url).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get link summary: %w", err)
	}
	return content, true, nil
}

// PutLinkSummary stores or refreshes the summary for a URL.
func (s *Store) PutLinkSummary(ctx context.Context, url, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_summaries (url, summary_content)
		VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET
			summary_content = excluded.summary_content,
			updated_at = datetime('now')
	`, url, content)
	if err != nil {
		return fmt.Errorf("put link summary: %w", err)
	}
	return nil
}

// CountLinkSummaries reports the cache size for health and tests.
func (s *Store) CountLinkSummaries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM link_summaries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count link summaries: %w", err)
	}
	return n, nil
}
