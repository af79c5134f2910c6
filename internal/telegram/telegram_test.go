package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestCanonicalizeChannelURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://t.me/cointelegraph", "https://t.me/cointelegraph"},
		{"https://t.me/cointelegraph/", "https://t.me/cointelegraph"},
		{"http://t.me/foo", "https://t.me/foo"},
		{"t.me/foo", "https://t.me/foo"},
		{"telegram.me/foo", "https://t.me/foo"},
		{"@foo", "https://t.me/foo"},
		{"foo", "https://t.me/foo"},
		{"  foo  ", "https://t.me/foo"},
		{"", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := CanonicalizeChannelURL(tt.in); got != tt.want {
			t.Errorf("CanonicalizeChannelURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHandleFromURL(t *testing.T) {
	if got := HandleFromURL("https://t.me/cointelegraph"); got != "cointelegraph" {
		t.Errorf("got %q", got)
	}
	if got := HandleFromURL("cointelegraph"); got != "cointelegraph" {
		t.Errorf("got %q", got)
	}
}

func TestParseMessageDate(t *testing.T) {
	if _, err := parseMessageDate("2024-01-01T00:00:00Z"); err != nil {
		t.Errorf("RFC3339: %v", err)
	}
	if _, err := parseMessageDate("2024-01-01T00:00:00"); err != nil {
		t.Errorf("bare ISO: %v", err)
	}
	if _, err := parseMessageDate("yesterday"); err == nil {
		t.Error("expected error for garbage date")
	}
}

func TestRemoteFetcher_FetchChannelMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fetch" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req fetchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Channel != "foo" {
			t.Errorf("channel = %q, want bare handle foo", req.Channel)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[
			{"id":1,"date":"2026-07-01T10:00:00Z","text":"A","links":["https://ex.com/1"]},
			{"id":2,"date":"2026-07-01T11:00:00","text":"B"}
		]}`))
	}))
	defer server.Close()

	f := NewRemoteFetcher(server.URL, time.Second)
	msgs, err := f.FetchChannelMessages(context.Background(), "https://t.me/foo",
		time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("FetchChannelMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != 1 || len(msgs[0].Links) != 1 {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Date.IsZero() {
		t.Error("bare ISO date not parsed")
	}
}

func TestRemoteFetcher_Unconfigured(t *testing.T) {
	f := NewRemoteFetcher("", time.Second)
	if f.Available() {
		t.Error("expected Available()=false without base URL")
	}
	if _, err := f.FetchChannelMessages(context.Background(), "foo", time.Now(), time.Now()); err == nil {
		t.Error("expected error without base URL")
	}
}

func TestRemoteFetcher_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "flood wait", http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := NewRemoteFetcher(server.URL, time.Second)
	if _, err := f.FetchChannelMessages(context.Background(), "foo", time.Now(), time.Now()); err == nil {
		t.Fatal("expected error for non-200 sidecar response")
	}
}

const desktopExport = `{
	"chats": {"list": [
		{"id": 100, "name": "Crypto News", "type": "public_channel",
		 "messages": [{"date": "2026-06-01T00:00:00"}, {"date": "2026-07-01T12:00:00"}]},
		{"id": 200, "name": "Family", "type": "personal_chat"}
	]},
	"left_chats": {"list": [
		{"id": 300, "name": "Old Signals", "type": "private_channel"}
	]}
}`

func TestParseExport_DesktopFormat(t *testing.T) {
	channels, err := ParseExport(strings.NewReader(desktopExport))
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("got %d channels, want 2 (personal chat excluded)", len(channels))
	}
	if channels[0].ID != "100" || channels[0].Name != "Crypto News" {
		t.Errorf("first channel = %+v", channels[0])
	}
	if channels[0].LastMessageDate != "2026-07-01T12:00:00" {
		t.Errorf("last_message_date = %q", channels[0].LastMessageDate)
	}
	if channels[0].Left {
		t.Error("joined channel flagged as left")
	}
	if !channels[1].Left {
		t.Error("left channel not flagged")
	}
}

func TestParseExport_PlainArray(t *testing.T) {
	channels, err := ParseExport(strings.NewReader(
		`[{"id":"a","name":"Alice","url":"https://t.me/alice"}]`))
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	if len(channels) != 1 || channels[0].URL != "https://t.me/alice" {
		t.Fatalf("channels = %+v", channels)
	}
}

func TestParseExport_Errors(t *testing.T) {
	if _, err := ParseExport(strings.NewReader(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParseExport(strings.NewReader(`{"chats":{"list":[]}}`)); err == nil {
		t.Error("expected error for export without channels")
	}
}

type stubSender struct {
	sent []string
}

func (s *stubSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func TestNotifier_Disabled(t *testing.T) {
	n, err := NewNotifier("", 0, slog.Default())
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	if n.Enabled() {
		t.Error("expected disabled notifier without credentials")
	}
	// No-ops must not panic.
	n.NewSubscriber("x@y.z", "")
	n.NewFeedback("x@y.z", "bug", "broken")
	n.SummariesRequested("r1", "1d", nil)
	n.InsightsRequested(1)
	n.IngestCompleted(2, 10, nil)

	var nilNotifier *Notifier
	if nilNotifier.Enabled() {
		t.Error("nil notifier reported enabled")
	}
}

func TestNotifier_Sends(t *testing.T) {
	stub := &stubSender{}
	n := &Notifier{bot: stub, adminChatID: 42, logger: slog.Default()}

	n.NewSubscriber("x@y.z", "landing")
	n.NewFeedback("x@y.z", "bug", "it broke")
	n.IngestCompleted(3, 17, []string{"https://t.me/dead"})

	if len(stub.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(stub.sent))
	}
	if !strings.Contains(stub.sent[0], "x@y.z") || !strings.Contains(stub.sent[0], "landing") {
		t.Errorf("subscriber notification = %q", stub.sent[0])
	}
	if !strings.Contains(stub.sent[2], "https://t.me/dead") {
		t.Errorf("ingest notification = %q", stub.sent[2])
	}
}
