package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/gpttg/internal/commander"
	ctxpkg "github.com/stupiduntilnot/gpttg/internal/context"
	modelpkg "github.com/stupiduntilnot/gpttg/internal/model"
)

// DefaultChatID and DefaultUserID identify the scripted sender.
const (
	DefaultChatID int64 = 1
	DefaultUserID int64 = 1
)

type action struct {
	kind string
	arg  string
}

var actionKinds = []string{"err", "sleep", "msg", "msgb64"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" || token == "echo" || token == "nochoice" {
			actions = append(actions, action{kind: token})
			continue
		}
		parsed := false
		for _, kind := range actionKinds {
			if token == kind {
				actions = append(actions, action{kind: kind})
				parsed = true
				break
			}
			if arg, ok := strings.CutPrefix(token, kind+":"); ok {
				actions = append(actions, action{kind: kind, arg: arg})
				parsed = true
				break
			}
		}
		if !parsed {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

// next returns the next action; the last one repeats forever.
func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// Commander is a scripted transport. Each GetUpdates call consumes one poll
// action; each SendMessage consumes one send action.
type Commander struct {
	mu        sync.Mutex
	poll      *scriptRunner
	send      *scriptRunner
	updateID  int64
	messageID int64
	sent      []cmdpkg.OutboundMessage
	actions   []string
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.poll.next()
	switch a.kind {
	case "err":
		return nil, &cmdpkg.TransportError{
			Op:  "getUpdates",
			Err: fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api")),
		}
	case "sleep":
		sleepMillis(a.arg)
		return nil, nil
	case "msg":
		return c.nextUpdate(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		return c.nextUpdate(string(raw)), nil
	default:
		return nil, nil
	}
}

func (c *Commander) nextUpdate(text string) []cmdpkg.Update {
	c.updateID++
	c.messageID++
	return []cmdpkg.Update{
		{
			UpdateID: c.updateID,
			Message: &cmdpkg.Message{
				MessageID: c.messageID,
				From:      &cmdpkg.User{ID: DefaultUserID, FirstName: "Dummy", LastName: "User"},
				Chat:      cmdpkg.Chat{ID: DefaultChatID},
				Text:      &text,
				Date:      time.Now().Unix(),
			},
		},
	}
}

func (c *Commander) SendMessage(ctx context.Context, msg cmdpkg.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.send.next()
	switch a.kind {
	case "err":
		return &cmdpkg.TransportError{
			Op:  "sendMessage",
			Err: fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api")),
		}
	case "sleep":
		sleepMillis(a.arg)
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *Commander) SendChatAction(ctx context.Context, chatID int64, action string) error {
	c.mu.Lock()
	c.actions = append(c.actions, action)
	c.mu.Unlock()
	return nil
}

// Sent returns a copy of every message delivered so far.
func (c *Commander) Sent() []cmdpkg.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]cmdpkg.OutboundMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// ChatActions returns every chat action sent so far.
func (c *Commander) ChatActions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.actions))
	copy(out, c.actions)
	return out
}

// Provider is a scripted completion provider. "echo" repeats the last user
// message and "nochoice" simulates a response without choices.
type Provider struct {
	mu     sync.Mutex
	script *scriptRunner
	calls  [][]ctxpkg.Message
}

func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

func (p *Provider) ChatCompletion(ctx context.Context, messages []ctxpkg.Message, params modelpkg.Params) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]ctxpkg.Message(nil), messages...))
	a := p.script.next()
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return modelpkg.CompletionResponse{}, err
	}

	switch a.kind {
	case "err":
		return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "nochoice":
		return modelpkg.CompletionResponse{InputTokens: 1}, modelpkg.ErrNoChoices
	case "sleep":
		if err := sleepCtx(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, err
		}
		return reply("dummy-after-sleep"), nil
	case "msg":
		return reply(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return reply(string(raw)), nil
	case "echo":
		return reply(lastUserContent(messages)), nil
	default:
		return reply("dummy-ok"), nil
	}
}

// Calls returns the message lists the provider has been invoked with.
func (p *Provider) Calls() [][]ctxpkg.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]ctxpkg.Message, len(p.calls))
	copy(out, p.calls)
	return out
}

func reply(content string) modelpkg.CompletionResponse {
	return modelpkg.CompletionResponse{
		Content:      content,
		InputTokens:  1,
		OutputTokens: 1,
	}
}

func lastUserContent(messages []ctxpkg.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ctxpkg.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func sleepMillis(arg string) {
	ms, _ := strconv.Atoi(arg)
	if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}

// sleepCtx waits arg milliseconds or until ctx is done.
func sleepCtx(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
