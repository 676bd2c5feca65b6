package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	ctxpkg "github.com/stupiduntilnot/gpttg/internal/context"
	modelpkg "github.com/stupiduntilnot/gpttg/internal/model"
	"github.com/stupiduntilnot/gpttg/internal/session"
)

// Config holds the invoker settings that stay fixed for the process lifetime.
type Config struct {
	AssistantPrompt string
	Params          modelpkg.Params
	// Timeout bounds a single completion request; zero means no bound.
	Timeout time.Duration
}

// Result is a successful completion.
type Result struct {
	Reply            string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens is the sum of prompt and completion tokens.
func (r Result) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// UpstreamError reports a failed call to the completion service. The
// conversation history is left untouched when it is returned.
type UpstreamError struct {
	ChatID int64
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion failed chat_id=%d: %v", e.ChatID, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Invoker builds the prompt for a chat, calls the completion provider and
// records the exchange.
type Invoker struct {
	provider  modelpkg.Provider
	store     *session.Store
	history   ctxpkg.Provider
	assembler ctxpkg.Assembler
	cfg       Config
	logger    logrus.FieldLogger
}

// New creates an invoker over store.
func New(provider modelpkg.Provider, store *session.Store, cfg Config, logger logrus.FieldLogger) *Invoker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Invoker{
		provider:  provider,
		store:     store,
		history:   &ctxpkg.SessionProvider{Store: store},
		assembler: &ctxpkg.StandardAssembler{},
		cfg:       cfg,
		logger:    logger.WithField("component", "completion"),
	}
}

// Complete sends userText with the chat's history and returns the reply.
// Requests for the same chat are serialised so their exchanges never
// interleave. On failure an *UpstreamError is returned and nothing is stored.
func (inv *Invoker) Complete(ctx context.Context, chatID int64, userText string) (Result, error) {
	unlock := inv.store.Lock(chatID)
	defer unlock()

	history := inv.history.GetHistory(chatID)
	messages := inv.assembler.Assemble(inv.cfg.AssistantPrompt, history, userText)

	if inv.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := inv.provider.ChatCompletion(ctx, messages, inv.cfg.Params)
	if err != nil {
		return Result{}, &UpstreamError{ChatID: chatID, Err: err}
	}

	inv.store.Append(chatID, userText, resp.Content)
	inv.logger.WithFields(logrus.Fields{
		"chat_id":       chatID,
		"model":         inv.cfg.Params.Model,
		"history_pairs": len(history) / 2,
		"latency_ms":    time.Since(started).Milliseconds(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	}).Debug("completion received")

	return Result{
		Reply:            resp.Content,
		PromptTokens:     resp.InputTokens,
		CompletionTokens: resp.OutputTokens,
	}, nil
}

// Reset clears the chat's history.
func (inv *Invoker) Reset(chatID int64) {
	unlock := inv.store.Lock(chatID)
	defer unlock()
	inv.store.Reset(chatID)
}

// UsageFooter renders token usage for appending to a reply.
func UsageFooter(r Result) string {
	return fmt.Sprintf("\n\n---\nTokens used: %d (prompt %d, completion %d)",
		r.TotalTokens(), r.PromptTokens, r.CompletionTokens)
}
