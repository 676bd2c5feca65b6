package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/stupiduntilnot/gpttg/internal/access"
	cmdpkg "github.com/stupiduntilnot/gpttg/internal/commander"
	"github.com/stupiduntilnot/gpttg/internal/completion"
	"github.com/stupiduntilnot/gpttg/internal/db"
)

// Fixed texts sent to users.
const (
	GreetingText  = "Hello, welcome my bot!"
	DeniedText    = "Sorry, but you do not have permissions to use bot."
	ResetDoneText = "Done!"
	FailureText   = "Sorry, the AI service did not answer. Please try again later."
)

// Features switches the bot's command sets on and off.
type Features struct {
	// Completion enables /reset and relaying free text to the completion service.
	Completion bool
	// Profile enables /get_info.
	Profile bool
}

// Router dispatches inbound updates to the permission gate, session store
// and completion invoker. It holds no conversation state of its own.
type Router struct {
	commander cmdpkg.Commander
	gate      *access.Gate
	invoker   *completion.Invoker
	journal   *db.Journal
	opts      Options
	logger    logrus.FieldLogger
}

// New creates a router. invoker may be nil when completion is disabled;
// journal may be nil to skip event recording.
func New(commander cmdpkg.Commander, gate *access.Gate, invoker *completion.Invoker, journal *db.Journal, opts Options, logger logrus.FieldLogger) *Router {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if invoker == nil {
		opts.Features.Completion = false
	}
	return &Router{
		commander: commander,
		gate:      gate,
		invoker:   invoker,
		journal:   journal,
		opts:      opts.withDefaults(),
		logger:    logger.WithField("component", "router"),
	}
}

// HelpText lists the commands enabled by the router's features.
func (r *Router) HelpText() string {
	if !r.opts.Features.Completion {
		return GreetingText
	}
	var b strings.Builder
	b.WriteString("/reset - start a new conversation\n")
	b.WriteString("[Any message] - send your request to the AI\n")
	if r.opts.Features.Profile {
		b.WriteString("/get_info - show your Telegram profile\n")
	}
	b.WriteString("/help - show this menu")
	return b.String()
}

// Handle processes a single update to completion.
func (r *Router) Handle(ctx context.Context, update cmdpkg.Update) error {
	msg := update.Message
	if msg == nil || msg.Text == nil || *msg.Text == "" {
		return nil
	}
	log := r.logger.WithFields(logrus.Fields{
		"update_id": update.UpdateID,
		"chat_id":   msg.Chat.ID,
		"user_id":   senderID(msg),
	})

	name, _, isCommand := msg.Command()
	r.journal.Record(db.EventUpdateReceived, map[string]any{
		"update_id": update.UpdateID,
		"chat_id":   msg.Chat.ID,
		"command":   name,
	})

	if isCommand {
		switch name {
		case "start", "help":
			return r.reply(ctx, cmdpkg.OutboundMessage{ChatID: msg.Chat.ID, Text: r.HelpText()})
		case "get_info":
			if r.opts.Features.Profile {
				return r.handleProfile(ctx, msg)
			}
		case "reset":
			if r.opts.Features.Completion {
				return r.handleReset(ctx, msg, log)
			}
		}
		log.WithField("command", name).Debug("ignoring unhandled command")
		return nil
	}

	if !r.opts.Features.Completion {
		return nil
	}
	return r.handlePrompt(ctx, msg, log)
}

func (r *Router) handleProfile(ctx context.Context, msg *cmdpkg.Message) error {
	if msg.From == nil {
		return nil
	}
	u := msg.From
	text := fmt.Sprintf("%d:%s %s", u.ID, u.FirstName, u.LastName)
	return r.reply(ctx, cmdpkg.OutboundMessage{ChatID: msg.Chat.ID, Text: strings.TrimSpace(text)})
}

func (r *Router) handleReset(ctx context.Context, msg *cmdpkg.Message, log logrus.FieldLogger) error {
	if !r.gate.Allowed(senderID(msg)) {
		return r.deny(ctx, msg, log, "reset the conversation")
	}
	log.WithField("user", msg.From.Name()).Info("resetting the conversation")
	r.invoker.Reset(msg.Chat.ID)
	r.journal.Record(db.EventSessionReset, map[string]any{"chat_id": msg.Chat.ID})
	return r.reply(ctx, cmdpkg.OutboundMessage{ChatID: msg.Chat.ID, Text: ResetDoneText})
}

func (r *Router) handlePrompt(ctx context.Context, msg *cmdpkg.Message, log logrus.FieldLogger) error {
	if !r.gate.Allowed(senderID(msg)) {
		return r.deny(ctx, msg, log, "use this bot")
	}
	chatID := msg.Chat.ID
	log.Info("new message received")

	if err := r.commander.SendChatAction(ctx, chatID, cmdpkg.ChatActionTyping); err != nil {
		log.WithError(err).Debug("failed to send chat action")
	}

	res, err := r.invoker.Complete(ctx, chatID, *msg.Text)
	if err != nil {
		log.WithError(err).Error("completion failed")
		r.journal.Record(db.EventCompletionFailed, map[string]any{
			"chat_id": chatID,
			"error":   truncate(err.Error(), 500),
		})
		if sendErr := r.reply(ctx, cmdpkg.OutboundMessage{ChatID: chatID, Text: FailureText}); sendErr != nil {
			log.WithError(sendErr).Warn("failed to notify chat about completion failure")
		}
		return err
	}
	log.WithField("tokens", res.TotalTokens()).Info("response from completion service received")

	text := res.Reply
	if r.opts.ShowUsage {
		text += completion.UsageFooter(res)
	}
	if err := r.reply(ctx, cmdpkg.OutboundMessage{
		ChatID:           chatID,
		Text:             text,
		ReplyToMessageID: msg.MessageID,
		Markdown:         true,
	}); err != nil {
		return err
	}
	r.journal.Record(db.EventReplySent, map[string]any{
		"chat_id": chatID,
		"tokens":  res.TotalTokens(),
	})
	return nil
}

func (r *Router) deny(ctx context.Context, msg *cmdpkg.Message, log logrus.FieldLogger, action string) error {
	log.WithField("user", msg.From.Name()).Warnf("user is not allowed to %s", action)
	r.journal.Record(db.EventPermissionDenied, map[string]any{
		"chat_id": msg.Chat.ID,
		"user_id": senderID(msg),
	})
	if err := r.reply(ctx, cmdpkg.OutboundMessage{ChatID: msg.Chat.ID, Text: DeniedText}); err != nil {
		return err
	}
	return fmt.Errorf("sender %q: %w", senderID(msg), access.ErrPermissionDenied)
}

func (r *Router) reply(ctx context.Context, out cmdpkg.OutboundMessage) error {
	if err := r.commander.SendMessage(ctx, out); err != nil {
		var te *cmdpkg.TransportError
		if !errors.As(err, &te) {
			err = &cmdpkg.TransportError{Op: "sendMessage", Err: err}
		}
		return err
	}
	return nil
}

func senderID(msg *cmdpkg.Message) string {
	if msg.From == nil {
		return ""
	}
	return strconv.FormatInt(msg.From.ID, 10)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
