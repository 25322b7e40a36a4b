package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
)

type fixed struct{}

func (fixed) ChatCompletion(context.Context, []ctxpkg.Message) (CompletionResponse, error) {
	return CompletionResponse{Content: "ok"}, nil
}

func TestErrorText(t *testing.T) {
	be := &BackendError{Provider: "openai", Status: 429, Message: "Rate limit reached"}
	assert.Equal(t, "Rate limit reached", ErrorText(be))
	assert.Equal(t, "Rate limit reached", ErrorText(fmt.Errorf("chat completion: %w", be)))
	assert.Equal(t, "dial tcp: refused", ErrorText(errors.New("dial tcp: refused")))
}

func TestBackendError_EmptyMessage(t *testing.T) {
	be := &BackendError{Provider: "anthropic", Status: 500}
	assert.Equal(t, "anthropic: request failed", be.Error())
}

func TestStatic(t *testing.T) {
	f := Static(fixed{})
	p, err := f(Credential{APIKey: "ignored"})
	require.NoError(t, err)
	resp, err := p.ChatCompletion(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}
