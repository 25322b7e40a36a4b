package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
	modelpkg "github.com/stupiduntilnot/hookbot/internal/model"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	emptyResponse = "(empty model response)"
)

// Client is an OpenAI chat completions client.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates an OpenAI client. baseURL may also be a full
// .../chat/completions URL; the path suffix is stripped.
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultModel
	}
	opts := []option.RequestOption{
		option.WithBaseURL(normalizeBaseURL(baseURL)),
		option.WithAPIKey(apiKey),
		// Azure-style deployments authenticate with this header instead.
		option.WithHeader("api-key", apiKey),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &Client{client: openai.NewClient(opts...), model: model}
}

// ChatCompletion sends the turns in order and returns the first choice.
func (c *Client) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Messages: toParams(messages),
		Model:    openai.ChatModel(c.model),
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = fmt.Sprintf("openai non-success status=%d", apiErr.StatusCode)
			}
			return modelpkg.CompletionResponse{}, &modelpkg.BackendError{Provider: "openai", Status: apiErr.StatusCode, Message: msg}
		}
		return modelpkg.CompletionResponse{}, fmt.Errorf("openai request failed: %w", err)
	}

	result := modelpkg.CompletionResponse{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) == 0 {
		result.Content = emptyResponse
		return result, nil
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		result.Content = emptyResponse
		return result, nil
	}
	result.Content = content
	return result, nil
}

func toParams(messages []ctxpkg.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case ctxpkg.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case ctxpkg.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func normalizeBaseURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return DefaultBaseURL
	}
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	return u + "/"
}

// Options are the configured defaults a Factory falls back to.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewFactory returns a model.Factory whose per-call credential overrides
// the configured key and endpoint. The configured key is only ever sent to
// the configured endpoint: a credential with its own endpoint must carry
// its own key.
func NewFactory(opts Options) modelpkg.Factory {
	return func(cred modelpkg.Credential) (modelpkg.Provider, error) {
		endpoint := strings.TrimSpace(cred.Endpoint)
		key := strings.TrimSpace(cred.APIKey)
		if key == "" && endpoint == "" {
			key = strings.TrimSpace(opts.APIKey)
		}
		if key == "" {
			return nil, modelpkg.ErrNoCredential
		}
		return NewClient(key, firstNonEmpty(endpoint, opts.BaseURL), opts.Model, opts.Timeout), nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
