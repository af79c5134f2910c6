package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned for lookups of records that do not exist.
var ErrNotFound = errors.New("store: not found")

// messageDateLayout keeps stored dates lexicographically comparable, so
// window queries can use plain string comparison.
const messageDateLayout = "2006-01-02T15:04:05Z"

type Message struct {
	ID         int64
	SourceType string
	ChannelID  string
	MessageID  int64
	SourceURL  string
	Date       time.Time
	Text       string
	// ResolvedLinks is a JSON object mapping each outbound URL in Text to its
	// summary. Empty until link resolution finishes; may stay empty.
	ResolvedLinks string
	Processed     bool
	CreatedAt     time.Time
}

// RecordMessage persists a message if its (source_type, channel_id,
// message_id) tuple has not been seen. Returns the row id and whether the
// row was newly inserted.
func (s *Store) RecordMessage(ctx context.Context, m Message) (int64, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (source_type, channel_id, message_id, source_url, message_date, text)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_type, channel_id, message_id) DO NOTHING
	`, m.SourceType, m.ChannelID, m.MessageID, m.SourceURL,
		m.Date.UTC().Format(messageDateLayout), m.Text)
	if err != nil {
		return 0, false, fmt.Errorf("record message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("record message rows: %w", err)
	}
	if n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("record message id: %w", err)
		}
		return id, true, nil
	}

	// Duplicate tuple; hand back the existing row id.
	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM messages
		WHERE source_type = ? AND channel_id = ? AND message_id = ?
	`, m.SourceType, m.ChannelID, m.MessageID).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("find existing message: %w", err)
	}
	return id, false, nil
}

// AttachResolvedLinks stores the link-summary JSON for a message.
func (s *Store) AttachResolvedLinks(ctx context.Context, messageRowID int64, linksJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET resolved_links = ? WHERE id = ?`, linksJSON, messageRowID)
	if err != nil {
		return fmt.Errorf("attach resolved links: %w", err)
	}
	return nil
}

// GetMessage returns a single message by row id.
func (s *Store) GetMessage(ctx context.Context, id int64) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_type, channel_id, message_id, source_url, message_date,
		       text, resolved_links, processed, created_at
		FROM messages WHERE id = ?
	`, id)
	m, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

// MessagesInWindow returns messages within [since, until] ordered by their
// source timestamp ascending. An empty sourceURLs slice means all sources.
func (s *Store) MessagesInWindow(ctx context.Context, sourceURLs []string, since, until time.Time) ([]Message, error) {
	query := `
		SELECT id, source_type, channel_id, message_id, source_url, message_date,
		       text, resolved_links, processed, created_at
		FROM messages
		WHERE message_date >= ? AND message_date <= ?`
	args := []any{
		since.UTC().Format(messageDateLayout),
		until.UTC().Format(messageDateLayout),
	}
	if len(sourceURLs) > 0 {
		query += ` AND source_url IN (?` + strings.Repeat(",?", len(sourceURLs)-1) + `)`
		for _, u := range sourceURLs {
			args = append(args, u)
		}
	}
	query += ` ORDER BY message_date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message window: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessagesProcessed flips the advisory processed flag once downstream
// summarization has consumed the messages.
func (s *Store) MarkMessagesProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE messages SET processed = 1 WHERE id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark messages processed: %w", err)
	}
	return nil
}

func scanMessage(scan func(...any) error) (Message, error) {
	var m Message
	var date, created string
	var processed int
	err := scan(&m.ID, &m.SourceType, &m.ChannelID, &m.MessageID, &m.SourceURL,
		&date, &m.Text, &m.ResolvedLinks, &processed, &created)
	if err != nil {
		return Message{}, err
	}
	m.Date = parseStoredTime(date)
	m.CreatedAt = parseStoredTime(created)
	m.Processed = processed != 0
	return m, nil
}
