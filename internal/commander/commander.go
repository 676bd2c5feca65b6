package commander

import (
	"context"
	"fmt"
	"strings"
)

// ChatActionTyping is the chat action shown while a reply is being produced.
const ChatActionTyping = "typing"

// Commander is the instruction source abstraction used by the bot.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, msg OutboundMessage) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// Update represents an incoming command/update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message.
type Message struct {
	MessageID int64   `json:"message_id"`
	From      *User   `json:"from,omitempty"`
	Chat      Chat    `json:"chat"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	UserName  string `json:"username,omitempty"`
}

// Name returns the best human-readable handle for the user.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// OutboundMessage is a text reply to a chat.
type OutboundMessage struct {
	ChatID           int64
	Text             string
	ReplyToMessageID int64
	Markdown         bool
}

// Command splits a "/name@bot args" message into its name and arguments.
// ok is false for plain text.
func (m *Message) Command() (name, args string, ok bool) {
	if m == nil || m.Text == nil {
		return "", "", false
	}
	text := strings.TrimSpace(*m.Text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// TransportError wraps a failure talking to the messaging transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
