// Package dispatch routes an inbound chat message to exactly one
// registered command handler.
package dispatch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	"github.com/stupiduntilnot/hookbot/internal/kv"
)

// Names of the observer outcomes that are not a registered command.
const (
	OutcomeDefault = "default"
	OutcomeNone    = "none"
)

var (
	ErrEmptyName  = errors.New("command name must not be empty")
	ErrNilHandler = errors.New("command handler must not be nil")
)

// Reply is what a handler wants sent back. The zero Reply means no reply.
type Reply struct {
	ChatID  int64
	Text    string
	ReplyTo int64
}

// Empty reports whether there is nothing to send.
func (r Reply) Empty() bool {
	return r.Text == ""
}

// Text builds a reply to m carrying text.
func Text(m *cmdpkg.Message, text string) Reply {
	return Reply{ChatID: m.Chat.ID, Text: text, ReplyTo: m.MessageID}
}

// Commands is a read-only view of the registry.
type Commands interface {
	Names() []string
}

// Env is what a handler may use besides the message.
type Env struct {
	Store    kv.Store
	Commands Commands
}

// Handler processes one message. The message must not be modified.
type Handler func(ctx context.Context, m *cmdpkg.Message, env Env) (Reply, error)

// Engine owns the command registry. Register and SetDefault must complete
// before the first Dispatch; Dispatch itself is safe for concurrent use.
type Engine struct {
	username string
	store    kv.Store
	handlers map[string]Handler
	fallback Handler
	logger   *zap.Logger
	observe  func(command string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver registers fn to be told which command handled each message:
// its name, OutcomeDefault or OutcomeNone.
func WithObserver(fn func(command string)) Option {
	return func(e *Engine) { e.observe = fn }
}

// New returns an Engine that also accepts "/name@botUsername". An empty
// botUsername disables that form.
func New(botUsername string, store kv.Store, opts ...Option) *Engine {
	e := &Engine{
		username: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(botUsername), "@")),
		store:    store,
		handlers: map[string]Handler{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds name to h, replacing any previous binding.
func (e *Engine) Register(name string, h Handler) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ErrEmptyName
	}
	if h == nil {
		return ErrNilHandler
	}
	e.handlers[name] = h
	return nil
}

// SetDefault sets the handler for text that matches no command.
func (e *Engine) SetDefault(h Handler) {
	e.fallback = h
}

// Names returns the registered command names, sorted.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Match returns the command text invokes, if any.
func (e *Engine) Match(text string) (string, bool) {
	token := invocationToken(text)
	if !strings.HasPrefix(token, "/") {
		return "", false
	}
	name := token[1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if e.username == "" || name[at+1:] != e.username {
			return "", false
		}
		name = name[:at]
	}
	if _, ok := e.handlers[name]; !ok || name == "" {
		return "", false
	}
	return name, true
}

// Dispatch invokes the single handler responsible for m. A message with
// no text, or that matches nothing when no default is set, produces an
// empty Reply without invoking any handler.
func (e *Engine) Dispatch(ctx context.Context, m *cmdpkg.Message) (Reply, error) {
	if m == nil || m.Text == nil {
		return Reply{}, nil
	}
	env := Env{Store: e.store, Commands: e}

	name, ok := e.Match(*m.Text)
	h := e.handlers[name]
	if !ok {
		if e.fallback == nil {
			e.report(OutcomeNone, m)
			return Reply{}, nil
		}
		name, h = OutcomeDefault, e.fallback
	}
	e.report(name, m)
	return h(ctx, m, env)
}

func (e *Engine) report(command string, m *cmdpkg.Message) {
	e.logger.Debug("dispatch",
		zap.String("command", command),
		zap.Int64("chat_id", m.Chat.ID),
		zap.Int64("message_id", m.MessageID),
	)
	if e.observe != nil {
		e.observe(command)
	}
}

// invocationToken is the lowercased text up to the first whitespace.
func invocationToken(text string) string {
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		text = text[:i]
	}
	return strings.ToLower(text)
}
