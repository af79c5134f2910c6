package telegram

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the slice of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier pushes operational events to the admin chat. A nil or disabled
// notifier is a no-op, so callers never need to guard their calls.
type Notifier struct {
	bot         sender
	adminChatID int64
	logger      *slog.Logger
}

// NewNotifier connects the notification bot. Returns a disabled notifier
// when token or chat ID is missing.
func NewNotifier(token string, adminChatID int64, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if token == "" || adminChatID == 0 {
		logger.Info("notification bot disabled", "have_token", token != "", "have_chat_id", adminChatID != 0)
		return &Notifier{logger: logger}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	n := &Notifier{bot: bot, adminChatID: adminChatID, logger: logger}
	n.send("🚀 Notification bot is now online!")
	return n, nil
}

// Enabled reports whether notifications will actually be delivered.
func (n *Notifier) Enabled() bool { return n != nil && n.bot != nil }

// NewSubscriber announces a subscription signup.
func (n *Notifier) NewSubscriber(email, source string) {
	if !n.Enabled() {
		return
	}
	if source == "" {
		source = "main"
	}
	n.send(fmt.Sprintf("📬 New subscriber!\nEmail: %s\nSource: %s", email, source))
}

// NewFeedback announces a feedback submission.
func (n *Notifier) NewFeedback(email, kind, message string) {
	if !n.Enabled() {
		return
	}
	n.send(fmt.Sprintf("💬 New %s received\nFrom: %s\n\n%s", kind, email, message))
}

// SummariesRequested announces a summaries run.
func (n *Notifier) SummariesRequested(requestID, period string, sources []string) {
	if !n.Enabled() {
		return
	}
	n.send(fmt.Sprintf("📰 Summaries requested\nRequest: %s\nPeriod: %s\nSources (%d):\n%s",
		requestID, period, len(sources), strings.Join(sources, "\n")))
}

// InsightsRequested announces an insights run.
func (n *Notifier) InsightsRequested(topicCount int) {
	if !n.Enabled() {
		return
	}
	n.send(fmt.Sprintf("🔍 Insights requested for %d topic(s)", topicCount))
}

// IngestCompleted announces the end of an ingest batch.
func (n *Notifier) IngestCompleted(sources, messages int, failures []string) {
	if !n.Enabled() {
		return
	}
	msg := fmt.Sprintf("✅ Ingest finished\nSources: %d\nMessages: %d", sources, messages)
	if len(failures) > 0 {
		msg += fmt.Sprintf("\nFailed (%d):\n%s", len(failures), strings.Join(failures, "\n"))
	}
	n.send(msg)
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.adminChatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("failed to send admin notification", "error", err)
	}
}
