package store

import (
	"context"
	"fmt"
)

// SaveFeedback records a feedback submission.
func (s *Store) SaveFeedback(ctx context.Context, email, message, kind string) error {
	if kind == "" {
		kind = "feedback"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (email, message, type) VALUES (?, ?, ?)
	`, email, message, kind)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// AddSubscriber registers an email address. Duplicate emails are not an
// error; added reports whether a new row was created.
func (s *Store) AddSubscriber(ctx context.Context, email, source string) (bool, error) {
	if source == "" {
		source = "main"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (email, source) VALUES (?, ?)
		ON CONFLICT(email) DO NOTHING
	`, email, source)
	if err != nil {
		return false, fmt.Errorf("add subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add subscriber rows: %w", err)
	}
	return n > 0, nil
}

// CountSubscribers reports the subscriber total.
func (s *Store) CountSubscribers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}
