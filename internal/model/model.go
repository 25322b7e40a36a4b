package model

import (
	"context"
	"errors"

	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
)

// ErrNoCredential is returned by a Factory when neither the chat nor the
// configuration supplies an API key.
var ErrNoCredential = errors.New("no backend api key configured")

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the text-generation backend abstraction used by the chat command.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (CompletionResponse, error)
}

// BackendError carries the message text the backend reported for a failed
// call. It is shown to the user verbatim.
type BackendError struct {
	Provider string
	Status   int
	Message  string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return e.Provider + ": request failed"
	}
	return e.Message
}

// ErrorText returns the user-facing text of a failed backend call.
func ErrorText(err error) string {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Error()
	}
	return err.Error()
}

// Credential selects the account and endpoint a Provider talks to.
// Empty fields fall back to the configured defaults.
type Credential struct {
	APIKey   string
	Endpoint string
}

// Factory builds a Provider for one call.
type Factory func(Credential) (Provider, error)

// Static returns a Factory that ignores the credential and always yields p.
func Static(p Provider) Factory {
	return func(Credential) (Provider, error) { return p, nil }
}
