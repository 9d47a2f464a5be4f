package models

import (
	"strings"
	"time"
)

// ChannelName identifies a message-delivery backend.
type ChannelName string

const (
	// ChannelWhatsmeow is the direct WhatsApp Web connection (primary).
	ChannelWhatsmeow ChannelName = "whatsmeow"
	// ChannelTwilio is the Twilio WhatsApp Business API (backup).
	ChannelTwilio ChannelName = "twilio"
)

// Media is an optional attachment for an outbound message.
// Data is used by transports that upload content; URL by transports that fetch it.
type Media struct {
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// NormalizedMessage is an inbound message independent of the transport it arrived on.
type NormalizedMessage struct {
	ID         string      `json:"id"`
	ChatID     string      `json:"chat_id"`
	SenderName string      `json:"sender_name,omitempty"`
	Text       string      `json:"text"`
	MediaURL   string      `json:"media_url,omitempty"`
	MediaType  string      `json:"media_type,omitempty"`
	Channel    ChannelName `json:"channel"`
	FromMe     bool        `json:"from_me,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// SendResult describes the outcome of an outbound send.
type SendResult struct {
	Success   bool        `json:"success"`
	MessageID string      `json:"message_id,omitempty"`
	Channel   ChannelName `json:"channel"`
	Error     string      `json:"error,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
}

// UserServer is the WhatsApp server of individual (non-group) chats.
const UserServer = "s.whatsapp.net"

// ChatIDFromPhone returns the canonical chat id ("<digits>@s.whatsapp.net") for a
// phone number in any common notation ("+52 1 55...", "whatsapp:+521...").
// Ids that already carry a server part are returned unchanged.
func ChatIDFromPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.Contains(phone, "@") {
		return phone
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	return digits + "@" + UserServer
}

// PhoneFromChatID returns the E.164 number ("+<digits>") of an individual chat id,
// or "" for group chats and malformed ids.
func PhoneFromChatID(chatID string) string {
	user, server, ok := strings.Cut(chatID, "@")
	if !ok || server != UserServer {
		return ""
	}
	// Multi-device ids look like "<user>:<device>@server".
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	if user == "" {
		return ""
	}
	for _, r := range user {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return "+" + user
}
