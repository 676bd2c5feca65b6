package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	ctxpkg "github.com/stupiduntilnot/gpttg/internal/context"
	modelpkg "github.com/stupiduntilnot/gpttg/internal/model"
)

// DefaultBaseURL is the public OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

const emptyResponse = "(empty model response)"

// Client adapts the go-openai chat completions client to model.Provider.
type Client struct {
	api *goopenai.Client
}

// NewClient creates an OpenAI client. baseURL may point at any
// OpenAI-compatible endpoint; a zero timeout leaves requests unbounded.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{api: goopenai.NewClientWithConfig(cfg)}
}

// ChatCompletion sends a chat completion request and returns the first choice.
func (c *Client) ChatCompletion(ctx context.Context, messages []ctxpkg.Message, params modelpkg.Params) (modelpkg.CompletionResponse, error) {
	req := goopenai.ChatCompletionRequest{
		Model:            params.Model,
		Messages:         toAPIMessages(messages),
		MaxTokens:        params.MaxTokens,
		Temperature:      temperature(params.Temperature),
		N:                params.N,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return modelpkg.CompletionResponse{}, fmt.Errorf("openai non-success status=%d message=%s: %w",
				apiErr.HTTPStatusCode, truncate(apiErr.Message, 400), err)
		}
		return modelpkg.CompletionResponse{}, fmt.Errorf("openai request failed: %w", err)
	}

	result := modelpkg.CompletionResponse{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		return result, modelpkg.ErrNoChoices
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		result.Content = emptyResponse
		return result, nil
	}
	result.Content = content
	return result, nil
}

// temperature keeps an explicit 0 on the wire; the request field is omitempty.
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func toAPIMessages(messages []ctxpkg.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
