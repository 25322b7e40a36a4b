package commander

import "context"

// Commander is the polling message source abstraction used by the poll loop.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error
}

// Update represents an incoming platform update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents an inbound chat message. Handlers must treat it as
// read-only.
type Message struct {
	MessageID int64   `json:"message_id"`
	From      *User   `json:"from,omitempty"`
	Chat      Chat    `json:"chat"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// Chat identifies a conversation.
type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type,omitempty"`
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// IsPrivate reports whether the chat is a one-to-one conversation. A chat
// without a type is not.
func (c Chat) IsPrivate() bool {
	return c.Type == "private"
}

// User is the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// BotCommand is one entry of the command menu published to the platform.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// TextOf returns the message text, or "" when the message carries none.
func TextOf(m *Message) string {
	if m == nil || m.Text == nil {
		return ""
	}
	return *m.Text
}
