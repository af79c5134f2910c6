package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TopicSummary is a model-produced grouping of messages with a label and an
// importance rating. Persisted as an append-only log of past analyses.
type TopicSummary struct {
	ID         int64    `json:"id,omitempty"`
	Topic      string   `json:"topic"`
	Metatopic  string   `json:"metatopic"`
	Importance int      `json:"importance"`
	Summary    string   `json:"summary"`
	MessageIDs []int64  `json:"message_ids"`
	Insights   *Insight `json:"insights,omitempty"`

	CreatedAt time.Time `json:"-"`
}

// Resource is a link with a short description, part of an Insight.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Insight is the structured analytical record attached to a topic. List
// fields are either absent or non-empty; absent means "not applicable".
type Insight struct {
	AnalysisSummary           string     `json:"analysis_summary"`
	Stance                    string     `json:"stance"`
	RationaleLong             string     `json:"rationale_long,omitempty"`
	RationaleShort            string     `json:"rationale_short,omitempty"`
	RationaleNeutral          string     `json:"rationale_neutral,omitempty"`
	RisksAndWatchouts         []string   `json:"risks_and_watchouts,omitempty"`
	KeyQuestionsForUser       []string   `json:"key_questions_for_user,omitempty"`
	SuggestedInstrumentsLong  []string   `json:"suggested_instruments_long,omitempty"`
	SuggestedInstrumentsShort []string   `json:"suggested_instruments_short,omitempty"`
	UsefulResources           []Resource `json:"useful_resources,omitempty"`
}

// SaveTopicSummary appends a topic summary and returns its row id.
func (s *Store) SaveTopicSummary(ctx context.Context, ts TopicSummary) (int64, error) {
	ids, err := json.Marshal(ts.MessageIDs)
	if err != nil {
		return 0, fmt.Errorf("encode message ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_summaries (topic, metatopic, importance, summary, message_ids)
		VALUES (?, ?, ?, ?, ?)
	`, ts.Topic, ts.Metatopic, ts.Importance, ts.Summary, string(ids))
	if err != nil {
		return 0, fmt.Errorf("save topic summary: %w", err)
	}
	return res.LastInsertId()
}

// RecentTopicSummaries returns the latest n summaries, newest first.
func (s *Store) RecentTopicSummaries(ctx context.Context, n int) ([]TopicSummary, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, metatopic, importance, summary, message_ids, created_at
		FROM topic_summaries
		ORDER BY id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("list topic summaries: %w", err)
	}
	defer rows.Close()

	var out []TopicSummary
	for rows.Next() {
		var ts TopicSummary
		var ids, created string
		if err := rows.Scan(&ts.ID, &ts.Topic, &ts.Metatopic, &ts.Importance,
			&ts.Summary, &ids, &created); err != nil {
			return nil, fmt.Errorf("scan topic summary: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &ts.MessageIDs); err != nil {
			return nil, fmt.Errorf("decode message ids: %w", err)
		}
		ts.CreatedAt = parseStoredTime(created)
		out = append(out, ts)
	}
	return out, rows.Err()
}

// SaveInsight stores the insight for a topic, replacing any previous record
// for the same topic string.
func (s *Store) SaveInsight(ctx context.Context, topic string, ins Insight) error {
	record, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("encode insight: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insights (topic, record)
		VALUES (?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			record = excluded.record,
			updated_at = datetime('now')
	`, topic, string(record))
	if err != nil {
		return fmt.Errorf("save insight: %w", err)
	}
	return nil
}

// GetInsight returns the stored insight for a topic.
func (s *Store) GetInsight(ctx context.Context, topic string) (Insight, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM insights WHERE topic = ?`, topic).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return Insight{}, ErrNotFound
	}
	if err != nil {
		return Insight{}, fmt.Errorf("get insight: %w", err)
	}
	var ins Insight
	if err := json.Unmarshal([]byte(record), &ins); err != nil {
		return Insight{}, fmt.Errorf("decode insight: %w", err)
	}
	return ins, nil
}
