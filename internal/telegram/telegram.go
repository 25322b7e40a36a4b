package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
)

// DefaultAPIBase is the public Bot API host.
const DefaultAPIBase = "https://api.telegram.org"

// MaxMessageRunes bounds outgoing message text below the platform limit.
const MaxMessageRunes = 3900

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: strings.TrimSuffix(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// BotAPIBase joins a host base and a bot token into the per-bot API base.
func BotAPIBase(host, token string) string {
	if host == "" {
		host = DefaultAPIBase
	}
	return strings.TrimSuffix(host, "/") + "/bot" + token
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// APIError is a request the Bot API answered with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed code=%d: %s", e.Method, e.Code, e.Description)
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

// WebhookInfo is the subset of getWebhookInfo the CLI reports.
type WebhookInfo struct {
	URL                  string `json:"url"`
	PendingUpdateCount   int    `json:"pending_update_count"`
	LastErrorDate        int64  `json:"last_error_date,omitempty"`
	LastErrorMessage     string `json:"last_error_message,omitempty"`
	MaxConnections       int    `json:"max_connections,omitempty"`
	HasCustomCertificate bool   `json:"has_custom_certificate"`
}

// ChatMember is the subset of getChatMember used for admin checks.
type ChatMember struct {
	Status string       `json:"status"`
	User   *cmdpkg.User `json:"user,omitempty"`
}

// IsAdmin reports whether the member may run administrative commands.
func (m ChatMember) IsAdmin() bool {
	return m.Status == "creator" || m.Status == "administrator"
}

// call POSTs params as JSON to method and decodes the result into out
// when out is non-nil.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	var body io.Reader = http.NoBody
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", method, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	var tgResp Response
	if err := json.Unmarshal(raw, &tgResp); err != nil {
		return fmt.Errorf("failed to parse %s response status=%d: %w", method, resp.StatusCode, err)
	}
	if !tgResp.OK {
		return &APIError{Method: method, Code: tgResp.ErrorCode, Description: tgResp.Description}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(tgResp.Result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

// GetUpdates calls the getUpdates API. Only message updates are returned.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

type sendMessageParams struct {
	ChatID           int64  `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

// SendMessage sends a text message to the given chat, as a reply to
// replyTo when it is non-zero.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error {
	params := sendMessageParams{ChatID: chatID, Text: Truncate(text), ReplyToMessageID: replyTo}
	return c.call(ctx, "sendMessage", params, nil)
}

// SendChatAction shows a status such as "typing" in the chat.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.call(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": action}, nil)
}

// GetMe returns the bot's own account.
func (c *Client) GetMe(ctx context.Context) (cmdpkg.User, error) {
	var me cmdpkg.User
	err := c.call(ctx, "getMe", nil, &me)
	return me, err
}

// SetWebhook registers url as the update delivery target.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	params := map[string]any{"url": url, "allowed_updates": []string{"message"}}
	return c.call(ctx, "setWebhook", params, nil)
}

// DeleteWebhook removes the webhook so getUpdates can be used again.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", nil, nil)
}

// GetWebhookInfo reports the current webhook registration.
func (c *Client) GetWebhookInfo(ctx context.Context) (WebhookInfo, error) {
	var info WebhookInfo
	err := c.call(ctx, "getWebhookInfo", nil, &info)
	return info, err
}

// GetChatMember looks up userID's membership in chatID.
func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (ChatMember, error) {
	var m ChatMember
	err := c.call(ctx, "getChatMember", map[string]any{"chat_id": chatID, "user_id": userID}, &m)
	return m, err
}

// IsAdmin reports whether userID is a creator or administrator of chatID.
func (c *Client) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	m, err := c.GetChatMember(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return m.IsAdmin(), nil
}

// SetMyCommands publishes the command menu.
func (c *Client) SetMyCommands(ctx context.Context, commands []cmdpkg.BotCommand) error {
	if commands == nil {
		commands = []cmdpkg.BotCommand{}
	}
	return c.call(ctx, "setMyCommands", map[string]any{"commands": commands}, nil)
}

// WebhookReply is a sendMessage call returned in the webhook response body.
type WebhookReply struct {
	Method           string `json:"method"`
	ChatID           int64  `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

// NewWebhookReply builds a sendMessage webhook response.
func NewWebhookReply(chatID int64, text string, replyTo int64) WebhookReply {
	return WebhookReply{Method: "sendMessage", ChatID: chatID, Text: Truncate(text), ReplyToMessageID: replyTo}
}

// Truncate cuts s to MaxMessageRunes runes.
func Truncate(s string) string {
	return truncate(s, MaxMessageRunes)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
