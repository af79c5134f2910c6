// Package telegram talks to Telegram: message fetching through a sidecar
// service, data-export parsing, and admin notifications.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChannelMessage is one message fetched from a channel.
type ChannelMessage struct {
	ID    int64     `json:"id"`
	Date  time.Time `json:"date"`
	Text  string    `json:"text"`
	Links []string  `json:"links,omitempty"`
}

// ChannelClient fetches messages from a channel within a time window.
type ChannelClient interface {
	FetchChannelMessages(ctx context.Context, channelURL string, since, until time.Time) ([]ChannelMessage, error)
}

// CanonicalizeChannelURL normalizes a channel link or bare handle to the
// canonical https://t.me/<handle> form with no trailing slash.
func CanonicalizeChannelURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "telegram.me/")
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimRight(s, "/")
	if s == "" {
		return ""
	}
	return "https://t.me/" + s
}

// HandleFromURL extracts the channel handle from a t.me link. A bare handle
// passes through unchanged.
func HandleFromURL(channelURL string) string {
	canonical := CanonicalizeChannelURL(channelURL)
	return strings.TrimPrefix(canonical, "https://t.me/")
}

// RemoteFetcher implements ChannelClient against a fetcher sidecar that owns
// the MTProto session. The sidecar exposes POST /fetch.
type RemoteFetcher struct {
	baseURL string
	client  *http.Client
}

// NewRemoteFetcher creates a fetcher client. timeout bounds each fetch call.
func NewRemoteFetcher(baseURL string, timeout time.Duration) *RemoteFetcher {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RemoteFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Available reports whether a sidecar address is configured.
func (f *RemoteFetcher) Available() bool { return f.baseURL != "" }

type fetchRequest struct {
	Channel string `json:"channel"`
	Since   string `json:"since"`
	Until   string `json:"until"`
}

type fetchResponse struct {
	Messages []struct {
		ID    int64    `json:"id"`
		Date  string   `json:"date"`
		Text  string   `json:"text"`
		Links []string `json:"links"`
	} `json:"messages"`
}

// FetchChannelMessages asks the sidecar for the channel's messages within
// [since, until].
func (f *RemoteFetcher) FetchChannelMessages(ctx context.Context, channelURL string, since, until time.Time) ([]ChannelMessage, error) {
	if !f.Available() {
		return nil, fmt.Errorf("telegram fetcher not configured")
	}

	reqBody := fetchRequest{
		Channel: HandleFromURL(channelURL),
		Since:   since.UTC().Format(time.RFC3339),
		Until:   until.UTC().Format(time.RFC3339),
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal fetch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/fetch", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("telegram fetcher returned %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	var parsed fetchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse fetcher response: %w", err)
	}

	out := make([]ChannelMessage, 0, len(parsed.Messages))
	for _, m := range parsed.Messages {
		date, err := parseMessageDate(m.Date)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", m.ID, err)
		}
		out = append(out, ChannelMessage{ID: m.ID, Date: date, Text: m.Text, Links: m.Links})
	}
	return out, nil
}

// parseMessageDate accepts RFC3339 and the bare ISO form the Telegram export
// writes ("2024-01-01T00:00:00").
func parseMessageDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable message date %q", s)
	}
	return t.UTC(), nil
}
