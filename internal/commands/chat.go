package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
	"github.com/stupiduntilnot/hookbot/internal/db"
	"github.com/stupiduntilnot/hookbot/internal/dispatch"
	"github.com/stupiduntilnot/hookbot/internal/kv"
	modelpkg "github.com/stupiduntilnot/hookbot/internal/model"
)

const (
	usageReply        = "Send me a message, or /chat <message>"
	noCredentialReply = "No API key configured. Use /set_openai_key <key>"
)

// Chat sends the prompt with the conversation context to the backend and
// replies with its answer. History is only saved when the call succeeds;
// on failure the backend's message is the reply.
func (s *Set) Chat(ctx context.Context, m *cmdpkg.Message, env dispatch.Env) (dispatch.Reply, error) {
	prompt := Prompt(cmdpkg.TextOf(m))
	if prompt == "" {
		return dispatch.Text(m, usageReply), nil
	}
	chatID := m.Chat.ID
	log := s.logger().With(zap.Int64("chat_id", chatID))
	parent := db.EventFrom(ctx)

	if s.Platform != nil {
		if err := s.Platform.SendChatAction(ctx, chatID, "typing"); err != nil {
			log.Debug("send chat action failed", zap.Error(err))
		}
	}

	cred, err := credential(ctx, env.Store, chatID)
	if err != nil {
		return dispatch.Reply{}, err
	}
	provider, err := s.Backends(cred)
	if errors.Is(err, modelpkg.ErrNoCredential) {
		return dispatch.Text(m, noCredentialReply), nil
	}
	if err != nil {
		return dispatch.Reply{}, fmt.Errorf("create backend: %w", err)
	}

	unlock, err := s.Context.Lock(ctx, chatID)
	if err != nil {
		return dispatch.Reply{}, err
	}
	defer unlock()

	history, err := s.Context.LoadHistory(ctx, chatID)
	if err != nil {
		return dispatch.Reply{}, err
	}
	window, err := s.Context.BuildContext(ctx, chatID, history)
	if err != nil {
		return dispatch.Reply{}, err
	}
	user := ctxpkg.Message{Role: ctxpkg.RoleUser, Content: prompt}
	turns := append(window, user)
	s.journal().Record(parent, db.EventContextAssembled, map[string]any{
		"chat_id":       chatID,
		"history_turns": len(history),
		"context_turns": len(turns),
	})

	start := time.Now()
	resp, err := provider.ChatCompletion(ctx, turns)
	elapsed := time.Since(start)
	if s.Observe != nil {
		s.Observe(s.Provider, elapsed, resp, err)
	}
	if err != nil {
		text := modelpkg.ErrorText(err)
		log.Warn("backend call failed", zap.String("provider", s.Provider), zap.Error(err))
		s.journal().Record(parent, db.EventBackendFailed, map[string]any{
			"chat_id":  chatID,
			"provider": s.Provider,
			"error":    text,
		})
		return dispatch.Text(m, text), nil
	}
	s.journal().Record(parent, db.EventBackendCompleted, map[string]any{
		"chat_id":       chatID,
		"provider":      s.Provider,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"elapsed_ms":    elapsed.Milliseconds(),
	})

	history = append(history, user, ctxpkg.Message{Role: ctxpkg.RoleAssistant, Content: resp.Content})
	if err := s.Context.SaveHistory(ctx, chatID, history); err != nil {
		return dispatch.Reply{}, err
	}
	s.journal().Record(parent, db.EventHistorySaved, map[string]any{
		"chat_id": chatID,
		"turns":   len(history),
	})
	log.Debug("chat completed",
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.Duration("elapsed", elapsed),
	)
	return dispatch.Text(m, resp.Content), nil
}

// credential reads the per-chat overrides set by /set_openai_key and
// /set_openai_endpoint.
func credential(ctx context.Context, store kv.Store, chatID int64) (modelpkg.Credential, error) {
	key, _, err := store.Get(ctx, apiKeyKey(chatID))
	if err != nil {
		return modelpkg.Credential{}, fmt.Errorf("load chat api key: %w", err)
	}
	endpoint, _, err := store.Get(ctx, endpointKey(chatID))
	if err != nil {
		return modelpkg.Credential{}, fmt.Errorf("load chat endpoint: %w", err)
	}
	return modelpkg.Credential{APIKey: key, Endpoint: endpoint}, nil
}
