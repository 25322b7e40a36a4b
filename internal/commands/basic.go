package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	"github.com/stupiduntilnot/hookbot/internal/dispatch"
)

const maxFetchBytes = 64 << 10

// Start replies with the bot version.
func (s *Set) Start(_ context.Context, m *cmdpkg.Message, _ dispatch.Env) (dispatch.Reply, error) {
	version := s.Version
	if version == "" {
		version = "dev"
	}
	return dispatch.Text(m, "hookbot "+version), nil
}

// Echo repeats its argument.
func (s *Set) Echo(_ context.Context, m *cmdpkg.Message, _ dispatch.Env) (dispatch.Reply, error) {
	arg := Argument(cmdpkg.TextOf(m))
	if arg == "" {
		arg = "wut?"
	}
	return dispatch.Text(m, arg), nil
}

// ChatInfo replies with the chat object as indented JSON.
func (s *Set) ChatInfo(_ context.Context, m *cmdpkg.Message, _ dispatch.Env) (dispatch.Reply, error) {
	data, err := json.MarshalIndent(m.Chat, "", "  ")
	if err != nil {
		return dispatch.Reply{}, fmt.Errorf("marshal chat: %w", err)
	}
	return dispatch.Text(m, string(data)), nil
}

// Help lists the registered commands in sorted order.
func (s *Set) Help(_ context.Context, m *cmdpkg.Message, env dispatch.Env) (dispatch.Reply, error) {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, name := range env.Commands.Names() {
		b.WriteString("\n\t/")
		b.WriteString(name)
	}
	return dispatch.Text(m, b.String()), nil
}

// Fetch GETs the argument URL and replies with the start of the body.
func (s *Set) Fetch(ctx context.Context, m *cmdpkg.Message, _ dispatch.Env) (dispatch.Reply, error) {
	arg := Argument(cmdpkg.TextOf(m))
	if arg == "" {
		return dispatch.Text(m, "You need to input a url"), nil
	}
	u, err := url.ParseRequestURI(arg)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return dispatch.Text(m, "Invalid url: "+arg), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return dispatch.Reply{}, fmt.Errorf("create fetch request: %w", err)
	}
	resp, err := s.httpClient().Do(req)
	if err != nil {
		s.logger().Info("fetch failed", zap.String("url", u.String()), zap.Error(err))
		return dispatch.Text(m, "Fetch failed: "+err.Error()), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return dispatch.Text(m, "Fetch failed: "+err.Error()), nil
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = fmt.Sprintf("(empty body, status %d)", resp.StatusCode)
	}
	return dispatch.Text(m, text), nil
}

// SyncCommands publishes the registered commands as the platform menu.
func (s *Set) SyncCommands(ctx context.Context, m *cmdpkg.Message, env dispatch.Env) (dispatch.Reply, error) {
	if s.Platform == nil {
		return dispatch.Text(m, "Command sync is not available"), nil
	}
	names := env.Commands.Names()
	menu := make([]cmdpkg.BotCommand, 0, len(names))
	for _, name := range names {
		menu = append(menu, cmdpkg.BotCommand{Command: name, Description: Description(name)})
	}
	if err := s.Platform.SetMyCommands(ctx, menu); err != nil {
		return dispatch.Reply{}, fmt.Errorf("sync commands: %w", err)
	}
	return dispatch.Text(m, "success"), nil
}
