package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Channel is one channel entry extracted from a Telegram data export.
type Channel struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	URL             string `json:"url,omitempty"`
	LastMessageDate string `json:"last_message_date,omitempty"`
	Left            bool   `json:"left,omitempty"`
}

// exportFile matches the slice of Telegram Desktop's result.json we care
// about: joined chats and left chats, each with a type discriminator.
type exportFile struct {
	Chats     exportChatList `json:"chats"`
	LeftChats exportChatList `json:"left_chats"`
}

type exportChatList struct {
	List []exportChat `json:"list"`
}

type exportChat struct {
	ID       json.Number `json:"id"`
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Messages []struct {
		Date string `json:"date"`
	} `json:"messages"`
}

// ParseExport reads a Telegram data export and returns its channels. Both
// the full Desktop export (result.json with chats/left_chats) and a plain
// JSON array of channel objects are accepted.
func ParseExport(r io.Reader) ([]Channel, error) {
	data, err := io.ReadAll(io.LimitReader(r, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	trimmed := strings.TrimLeftFunc(string(data), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if strings.HasPrefix(trimmed, "[") {
		var channels []Channel
		if err := json.Unmarshal(data, &channels); err != nil {
			return nil, fmt.Errorf("parse export array: %w", err)
		}
		return channels, nil
	}

	var export exportFile
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}

	var channels []Channel
	for _, chat := range export.Chats.List {
		if c, ok := convertChat(chat, false); ok {
			channels = append(channels, c)
		}
	}
	for _, chat := range export.LeftChats.List {
		if c, ok := convertChat(chat, true); ok {
			channels = append(channels, c)
		}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("export contains no channels")
	}
	return channels, nil
}

func convertChat(chat exportChat, left bool) (Channel, bool) {
	switch chat.Type {
	case "public_channel", "private_channel", "channel":
	default:
		return Channel{}, false
	}
	c := Channel{
		ID:   chat.ID.String(),
		Name: chat.Name,
		Left: left,
	}
	if n := len(chat.Messages); n > 0 {
		c.LastMessageDate = chat.Messages[n-1].Date
	}
	return c, true
}
