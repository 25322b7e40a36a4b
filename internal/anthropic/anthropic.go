package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
	modelpkg "github.com/stupiduntilnot/hookbot/internal/model"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = string(anthropic.ModelClaudeSonnet4_5_20250929)
	DefaultMaxTokens = 1024

	emptyResponse = "(empty model response)"
)

// Client is an Anthropic Messages API client.
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClient creates an Anthropic client.
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &Client{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: DefaultMaxTokens,
	}
}

// ChatCompletion sends the turns and returns the concatenated text blocks of
// the reply. System turns go to the separate system parameter.
func (c *Client) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	msgs, system := toParams(messages)
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			msg := gjson.Get(apiErr.RawJSON(), "error.message").String()
			if msg == "" {
				msg = fmt.Sprintf("anthropic non-success status=%d", apiErr.StatusCode)
			}
			return modelpkg.CompletionResponse{}, &modelpkg.BackendError{
				Provider: "anthropic",
				Status:   apiErr.StatusCode,
				Message:  msg,
			}
		}
		return modelpkg.CompletionResponse{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	result := modelpkg.CompletionResponse{
		Content:      strings.TrimSpace(b.String()),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	if result.Content == "" {
		result.Content = emptyResponse
	}
	return result, nil
}

func toParams(messages []ctxpkg.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case ctxpkg.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case ctxpkg.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out, system
}

// Options are the configured defaults a Factory falls back to.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewFactory returns a model.Factory. A per-chat key or endpoint overrides
// the configured one, but a per-chat endpoint never receives the configured
// key.
func NewFactory(opts Options) modelpkg.Factory {
	return func(cred modelpkg.Credential) (modelpkg.Provider, error) {
		key := strings.TrimSpace(cred.APIKey)
		endpoint := strings.TrimSpace(cred.Endpoint)
		if endpoint == "" {
			endpoint = opts.BaseURL
			if key == "" {
				key = strings.TrimSpace(opts.APIKey)
			}
		}
		if key == "" {
			return nil, modelpkg.ErrNoCredential
		}
		return NewClient(key, endpoint, opts.Model, opts.Timeout), nil
	}
}
