// Package commands implements the bot's chat commands on top of the
// dispatch engine.
package commands

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
	"github.com/stupiduntilnot/hookbot/internal/db"
	"github.com/stupiduntilnot/hookbot/internal/dispatch"
	modelpkg "github.com/stupiduntilnot/hookbot/internal/model"
)

// Platform is the chat-platform surface some commands need beyond replying.
type Platform interface {
	SendChatAction(ctx context.Context, chatID int64, action string) error
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	SetMyCommands(ctx context.Context, commands []cmdpkg.BotCommand) error
}

// BackendObserver is told about every backend call.
type BackendObserver func(provider string, elapsed time.Duration, resp modelpkg.CompletionResponse, err error)

// Set holds what the commands depend on. Platform, Journal, Logger, HTTP
// and Observe may be left nil.
type Set struct {
	Context   *ctxpkg.Manager
	Backends  modelpkg.Factory
	Provider  string
	Platform  Platform
	HTTP      *http.Client
	Logger    *zap.Logger
	Journal   db.Journal
	Observe   BackendObserver
	Version   string
	AdminOnly bool
}

var descriptions = map[string]string{
	"start":               "Show the bot version",
	"echo":                "Repeat the given text",
	"chat_info":           "Show this chat's details",
	"help":                "List available commands",
	"fetch":               "Fetch a URL and show the body",
	"chat":                "Talk to the assistant",
	"sync_commands":       "Publish the command menu",
	"set_chat_env":        "Set the assistant instruction for this chat",
	"get_chat_env":        "Show the assistant instruction for this chat",
	"clear":               "Forget this chat's conversation history",
	"set_openai_key":      "Use your own API key in this chat",
	"set_openai_endpoint": "Use another API endpoint in this chat",
}

// Description returns the menu text for a command.
func Description(name string) string {
	if d, ok := descriptions[name]; ok {
		return d
	}
	return "Run /" + name
}

// Register binds every command on e and makes chat the default.
func (s *Set) Register(e *dispatch.Engine) error {
	handlers := map[string]dispatch.Handler{
		"start":               s.Start,
		"echo":                s.Echo,
		"chat_info":           s.ChatInfo,
		"help":                s.Help,
		"fetch":               s.Fetch,
		"chat":                s.Chat,
		"sync_commands":       s.SyncCommands,
		"get_chat_env":        s.GetChatEnv,
		"set_chat_env":        s.adminOnly(s.SetChatEnv),
		"clear":               s.adminOnly(s.Clear),
		"set_openai_key":      s.adminOnly(s.SetOpenAIKey),
		"set_openai_endpoint": s.adminOnly(s.SetOpenAIEndpoint),
	}
	for name, h := range handlers {
		if err := e.Register(name, h); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	e.SetDefault(s.Chat)
	return nil
}

func (s *Set) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Set) journal() db.Journal {
	if s.Journal == nil {
		return db.NopJournal{}
	}
	return s.Journal
}

func (s *Set) httpClient() *http.Client {
	if s.HTTP == nil {
		return NewFetchClient(30 * time.Second)
	}
	return s.HTTP
}

// Argument returns the text after the command token, trimmed.
func Argument(text string) string {
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i:])
}

// Prompt returns the text to send to the backend: the argument when text
// starts with a command token, otherwise the whole trimmed text.
func Prompt(text string) string {
	if strings.HasPrefix(text, "/") {
		return Argument(text)
	}
	return strings.TrimSpace(text)
}

func apiKeyKey(chatID int64) string {
	return "INDEX_CHAT_OPENAI_KEY:" + strconv.FormatInt(chatID, 10)
}

func endpointKey(chatID int64) string {
	return "INDEX_CHAT_OPENAI_ENDPOINT:" + strconv.FormatInt(chatID, 10)
}
