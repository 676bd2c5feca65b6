package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	cmdpkg "github.com/stupiduntilnot/gpttg/internal/commander"
)

// maxMessageChars keeps replies under Telegram's 4096 character limit.
const maxMessageChars = 3900

// Client adapts telegram-bot-api to the commander interface.
type Client struct {
	bot *tgbotapi.BotAPI
}

// NewClient creates a Telegram client and verifies the token with getMe.
// apiEndpoint is a format string taking the token and method name
// (e.g. "https://api.telegram.org/bot%s/%s"); empty selects the public API.
func NewClient(token, apiEndpoint string, requestTimeout time.Duration, debug bool) (*Client, error) {
	if strings.TrimSpace(apiEndpoint) == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, &http.Client{Timeout: requestTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram getMe failed: %w", err)
	}
	bot.Debug = debug
	return &Client{bot: bot}, nil
}

// UseLogger routes the library's debug output through logger.
func UseLogger(logger logrus.FieldLogger) error {
	return tgbotapi.SetLogger(logger)
}

// Username returns the bot's own username as reported by getMe.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// GetUpdates long-polls for new messages starting at offset. Only updates
// carrying a message are returned; the caller still advances past the rest
// via the highest UpdateID seen.
//
// The underlying client takes no context, so a cancelled ctx abandons the
// in-flight poll instead of waiting for it. Updates it may still fetch are
// not acknowledged and are delivered again on the next poll with the same
// offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := tgbotapi.NewUpdate(int(offset))
	cfg.Timeout = timeout

	type result struct {
		raws []tgbotapi.Update
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		raws, err := c.bot.GetUpdates(cfg)
		ch <- result{raws: raws, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return nil, &cmdpkg.TransportError{Op: "getUpdates", Err: res.err}
	}

	updates := make([]cmdpkg.Update, 0, len(res.raws))
	for _, ru := range res.raws {
		updates = append(updates, cmdpkg.Update{
			UpdateID: int64(ru.UpdateID),
			Message:  toMessage(ru.Message),
		})
	}
	return updates, nil
}

// SendMessage sends a text message. Markdown replies that Telegram refuses
// to parse are resent as plain text.
func (c *Client) SendMessage(ctx context.Context, out cmdpkg.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(out.ChatID, truncate(out.Text, maxMessageChars))
	msg.ReplyToMessageID = int(out.ReplyToMessageID)
	msg.DisableWebPagePreview = true
	if out.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}

	_, err := c.bot.Send(msg)
	if err != nil && out.Markdown && isParseError(err) {
		msg.ParseMode = ""
		_, err = c.bot.Send(msg)
	}
	if err != nil {
		return &cmdpkg.TransportError{Op: "sendMessage", Err: err}
	}
	return nil
}

// SendChatAction shows a transient status such as "typing" in the chat.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		return &cmdpkg.TransportError{Op: "sendChatAction", Err: err}
	}
	return nil
}

func toMessage(m *tgbotapi.Message) *cmdpkg.Message {
	if m == nil {
		return nil
	}
	out := &cmdpkg.Message{
		MessageID: int64(m.MessageID),
		Date:      int64(m.Date),
	}
	if m.Chat != nil {
		out.Chat = cmdpkg.Chat{ID: m.Chat.ID}
	}
	if m.From != nil {
		out.From = &cmdpkg.User{
			ID:        m.From.ID,
			FirstName: m.From.FirstName,
			LastName:  m.From.LastName,
			UserName:  m.From.UserName,
		}
	}
	if m.Text != "" {
		text := m.Text
		out.Text = &text
	}
	return out
}

func isParseError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
