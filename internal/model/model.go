package model

import (
	"context"
	"errors"

	ctxpkg "github.com/stupiduntilnot/gpttg/internal/context"
)

// ErrNoChoices is returned by providers when the service answered without
// any completion choice.
var ErrNoChoices = errors.New("completion returned no choices")

// Params is the parameter bag passed through to the completion service verbatim.
type Params struct {
	Model            string
	MaxTokens        int
	Temperature      float32
	N                int
	PresencePenalty  float32
	FrequencyPenalty float32
}

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// TotalTokens is the sum of prompt and completion tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is the model provider abstraction used by the completion invoker.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []ctxpkg.Message, params Params) (CompletionResponse, error)
}
