package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
	modelpkg "github.com/stupiduntilnot/hookbot/internal/model"
)

func newServer(t *testing.T, status int, body map[string]any, seen *map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func message(texts ...string) map[string]any {
	content := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	return map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"content":       content,
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": 12, "output_tokens": 3},
	}
}

func TestChatCompletion(t *testing.T) {
	var seen map[string]any
	server := newServer(t, http.StatusOK, message("Hello", " there"), &seen)

	client := NewClient("test-key", server.URL, "claude-test", 5*time.Second)
	resp, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "yo"},
		{Role: "user", Content: "again"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)

	assert.Equal(t, "claude-test", seen["model"])
	system, _ := seen["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "be terse", system[0].(map[string]any)["text"])
	msgs, _ := seen["messages"].([]any)
	require.Len(t, msgs, 3, "system turns are not sent as messages")
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
}

func TestChatCompletion_Empty(t *testing.T) {
	server := newServer(t, http.StatusOK, message(), nil)
	client := NewClient("test-key", server.URL, "claude-test", 5*time.Second)
	resp, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "(empty model response)", resp.Content)
}

func TestChatCompletion_APIError(t *testing.T) {
	server := newServer(t, http.StatusBadRequest, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "invalid_request_error", "message": "bad"},
	}, nil)
	client := NewClient("test-key", server.URL, "claude-test", 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var be *modelpkg.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusBadRequest, be.Status)
	assert.Equal(t, "anthropic", be.Provider)
	assert.Equal(t, "bad", be.Message)
	assert.Equal(t, "bad", modelpkg.ErrorText(err))
}

func TestChatCompletion_APIErrorWithoutMessage(t *testing.T) {
	server := newServer(t, http.StatusServiceUnavailable, map[string]any{"type": "error"}, nil)
	client := NewClient("test-key", server.URL, "claude-test", 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})

	var be *modelpkg.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "anthropic non-success status=503", be.Message)
}

func TestNewFactory(t *testing.T) {
	f := NewFactory(Options{Model: "claude-test"})
	_, err := f(modelpkg.Credential{})
	assert.ErrorIs(t, err, modelpkg.ErrNoCredential)

	p, err := f(modelpkg.Credential{APIKey: "k"})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNewFactory_ChatEndpointNeedsChatKey(t *testing.T) {
	var keys []string
	elsewhere := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(message("hi"))
	}))
	defer elsewhere.Close()

	f := NewFactory(Options{APIKey: "operator-key", Model: "claude-test"})
	_, err := f(modelpkg.Credential{Endpoint: elsewhere.URL})
	assert.ErrorIs(t, err, modelpkg.ErrNoCredential)
	assert.Empty(t, keys)

	p, err := f(modelpkg.Credential{APIKey: "chat-key", Endpoint: elsewhere.URL})
	require.NoError(t, err)
	_, err = p.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"chat-key"}, keys)
}
