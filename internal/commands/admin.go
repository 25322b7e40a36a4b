package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	"github.com/stupiduntilnot/hookbot/internal/dispatch"
)

const notAdminReply = "Only chat administrators can use this command"

// adminOnly restricts h to chat creators and administrators in group
// chats. Private chats are always allowed.
func (s *Set) adminOnly(h dispatch.Handler) dispatch.Handler {
	return func(ctx context.Context, m *cmdpkg.Message, env dispatch.Env) (dispatch.Reply, error) {
		if !s.AdminOnly || m.Chat.IsPrivate() {
			return h(ctx, m, env)
		}
		if s.Platform == nil || m.From == nil {
			return dispatch.Text(m, notAdminReply), nil
		}
		ok, err := s.Platform.IsAdmin(ctx, m.Chat.ID, m.From.ID)
		if err != nil {
			return dispatch.Reply{}, fmt.Errorf("check admin: %w", err)
		}
		if !ok {
			s.logger().Info("admin command refused",
				zap.Int64("chat_id", m.Chat.ID),
				zap.Int64("user_id", m.From.ID),
			)
			return dispatch.Text(m, notAdminReply), nil
		}
		return h(ctx, m, env)
	}
}

// SetChatEnv stores the conversation instruction. No argument clears it.
func (s *Set) SetChatEnv(ctx context.Context, m *cmdpkg.Message, _ dispatch.Env) (dispatch.Reply, error) {
	text := Argument(cmdpkg.TextOf(m))
	if err := s.Context.SetInstruction(ctx, m.Chat.ID, text); err != nil {
		return dispatch.Reply{}, err
	}
	if text == "" {
		return dispatch.Text(m, "Chat env cleared"), nil
	}
	return dispatch.Text(m, "Chat env set"), nil
}

// GetChatEnv shows the conversation instruction.
func (s *Set) GetChatEnv(ctx context.Context, m *cmdpkg.Message, _ dispatch.Env) (dispatch.Reply, error) {
	text, ok, err := s.Context.Instruction(ctx, m.Chat.ID)
	if err != nil {
		return dispatch.Reply{}, err
	}
	if !ok {
		return dispatch.Text(m, "No chat env set"), nil
	}
	return dispatch.Text(m, text), nil
}

// Clear forgets the conversation history.
func (s *Set) Clear(ctx context.Context, m *cmdpkg.Message, _ dispatch.Env) (dispatch.Reply, error) {
	if err := s.Context.ClearHistory(ctx, m.Chat.ID); err != nil {
		return dispatch.Reply{}, err
	}
	return dispatch.Text(m, "Chat history cleared"), nil
}

// SetOpenAIKey stores a per-chat backend API key. No argument clears it.
func (s *Set) SetOpenAIKey(ctx context.Context, m *cmdpkg.Message, env dispatch.Env) (dispatch.Reply, error) {
	return s.setOverride(ctx, m, env, apiKeyKey(m.Chat.ID), "API key")
}

// SetOpenAIEndpoint stores a per-chat backend endpoint. No argument clears it.
func (s *Set) SetOpenAIEndpoint(ctx context.Context, m *cmdpkg.Message, env dispatch.Env) (dispatch.Reply, error) {
	return s.setOverride(ctx, m, env, endpointKey(m.Chat.ID), "API endpoint")
}

func (s *Set) setOverride(ctx context.Context, m *cmdpkg.Message, env dispatch.Env, key, what string) (dispatch.Reply, error) {
	value := Argument(cmdpkg.TextOf(m))
	if value == "" {
		if err := env.Store.Delete(ctx, key); err != nil {
			return dispatch.Reply{}, fmt.Errorf("clear %s: %w", what, err)
		}
		return dispatch.Text(m, what+" cleared"), nil
	}
	if err := env.Store.Put(ctx, key, value); err != nil {
		return dispatch.Reply{}, fmt.Errorf("save %s: %w", what, err)
	}
	return dispatch.Text(m, what+" set"), nil
}
