package store

import (
	"context"
	"fmt"
	"time"
)

// DefaultCategory groups sources that were registered without one.
const DefaultCategory = "Uncategorized"

type Source struct {
	ID         int64
	URL        string
	Name       string
	SourceType string
	Category   string
	CreatedAt  time.Time
}

// UpsertSource inserts or refreshes a source keyed by its canonical URL.
// Non-empty name and category win over stored values; empty ones leave the
// stored values untouched, so scheduled re-ingests that only know the URL
// never erase metadata. Sources are never deleted.
func (s *Store) UpsertSource(ctx context.Context, url, name, sourceType, category string) (Source, error) {
	if sourceType == "" {
		sourceType = "telegram"
	}
	insertCategory := category
	if insertCategory == "" {
		insertCategory = DefaultCategory
	}
	// The raw category is passed a second time: excluded.category already
	// carries the default, which must not overwrite a stored category.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (url, name, source_type, category)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN sources.name ELSE excluded.name END,
			source_type = excluded.source_type,
			category = CASE WHEN ? = '' THEN sources.category ELSE excluded.category END
	`, url, name, sourceType, insertCategory, category)
	if err != nil {
		return Source{}, fmt.Errorf("upsert source %s: %w", url, err)
	}
	return s.getSource(ctx, url)
}

func (s *Store) getSource(ctx context.Context, url string) (Source, error) {
	var src Source
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, url, name, source_type, category, created_at
		FROM sources WHERE url = ?
	`, url).Scan(&src.ID, &src.URL, &src.Name, &src.SourceType, &src.Category, &created)
	if err != nil {
		return Source{}, fmt.Errorf("get source %s: %w", url, err)
	}
	src.CreatedAt = parseStoredTime(created)
	return src, nil
}

// ListSourcesByCategory returns all sources grouped by category.
func (s *Store) ListSourcesByCategory(ctx context.Context) (map[string][]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, name, source_type, category, created_at
		FROM sources
		ORDER BY category, name, url
	`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Source)
	for rows.Next() {
		var src Source
		var created string
		if err := rows.Scan(&src.ID, &src.URL, &src.Name, &src.SourceType, &src.Category, &created); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.CreatedAt = parseStoredTime(created)
		out[src.Category] = append(out[src.Category], src)
	}
	return out, rows.Err()
}

// ListSourceURLs returns every known source URL. Used when a request names
// no sources and means "all of them".
func (s *Store) ListSourceURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM sources ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list source urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan source url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}
