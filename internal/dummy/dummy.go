// Package dummy provides a scripted chat platform and a scripted
// text-generation backend for local runs and tests.
//
// A script is a comma-separated list of steps: ok, err:<class>,
// sleep:<ms>, msg:<text> or msgb64:<base64 text>. Steps are consumed in
// order and the last one repeats forever.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
	modelpkg "github.com/stupiduntilnot/hookbot/internal/model"
)

type stepKind int

const (
	stepOK stepKind = iota
	stepErr
	stepSleep
	stepMsg
)

type step struct {
	kind  stepKind
	text  string
	delay time.Duration
}

// script is not safe for concurrent use; owners hold their own lock.
type script struct {
	steps []step
	pos   int
}

func parseScript(src string) (*script, error) {
	s := &script{}
	for _, raw := range strings.Split(src, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		if token == "ok" {
			s.steps = append(s.steps, step{kind: stepOK})
			continue
		}
		name, arg, ok := strings.Cut(token, ":")
		if !ok {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		switch name {
		case "err":
			s.steps = append(s.steps, step{kind: stepErr, text: arg})
		case "sleep":
			ms, _ := strconv.Atoi(arg)
			s.steps = append(s.steps, step{kind: stepSleep, delay: time.Duration(ms) * time.Millisecond})
		case "msg":
			s.steps = append(s.steps, step{kind: stepMsg, text: arg})
		case "msgb64":
			decoded, err := base64.StdEncoding.DecodeString(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid dummy msgb64 payload: %w", err)
			}
			s.steps = append(s.steps, step{kind: stepMsg, text: string(decoded)})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(s.steps) == 0 {
		s.steps = []step{{kind: stepOK}}
	}
	return s, nil
}

func (s *script) next() step {
	st := s.steps[s.pos]
	if s.pos < len(s.steps)-1 {
		s.pos++
	}
	return st
}

// Commander is a scripted chat platform. Every scripted message arrives
// in the private chat ChatID from user 1.
type Commander struct {
	ChatID int64

	mu       sync.Mutex
	poll     *script
	send     *script
	updateID int64
	sent     []Delivery
}

// Delivery records one SendMessage call.
type Delivery struct {
	ChatID  int64
	Text    string
	ReplyTo int64
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := parseScript(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := parseScript(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{ChatID: 1, poll: poll, send: send, updateID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.poll.next()
	switch st.kind {
	case stepErr:
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(st.text, "command_source_api"))
	case stepSleep:
		return nil, sleep(ctx, st.delay)
	case stepMsg:
		return c.update(st.text), nil
	}
	return nil, nil
}

func (c *Commander) update(text string) []cmdpkg.Update {
	c.updateID++
	return []cmdpkg.Update{{
		UpdateID: c.updateID,
		Message: &cmdpkg.Message{
			MessageID: c.updateID,
			From:      &cmdpkg.User{ID: 1, FirstName: "dummy"},
			Chat:      cmdpkg.Chat{ID: c.ChatID, Type: "private"},
			Text:      &text,
			Date:      time.Now().Unix(),
		},
	}}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.send.next()
	switch st.kind {
	case stepErr:
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(st.text, "command_source_api"))
	case stepSleep:
		if err := sleep(ctx, st.delay); err != nil {
			return err
		}
	}
	c.sent = append(c.sent, Delivery{ChatID: chatID, Text: text, ReplyTo: replyTo})
	return nil
}

// Deliveries returns a copy of every message delivered so far.
func (c *Commander) Deliveries() []Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Delivery(nil), c.sent...)
}

// Provider is a scripted text-generation backend. Calls records every
// request it received.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *script
	calls  [][]ctxpkg.Message
}

func NewProvider(model, src string) (*Provider, error) {
	s, err := parseScript(src)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: s}, nil
}

func (p *Provider) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]ctxpkg.Message(nil), messages...))

	content := "dummy-ok"
	st := p.script.next()
	switch st.kind {
	case stepErr:
		return modelpkg.CompletionResponse{}, &modelpkg.BackendError{
			Provider: "dummy",
			Message:  fmt.Sprintf("dummy provider error class=%s", emptyAs(st.text, "provider_api")),
		}
	case stepSleep:
		if err := sleep(ctx, st.delay); err != nil {
			return modelpkg.CompletionResponse{}, err
		}
		content = "dummy-after-sleep"
	case stepMsg:
		content = st.text
	}
	return modelpkg.CompletionResponse{Content: content, InputTokens: 1, OutputTokens: 1}, nil
}

// Calls returns the message lists passed to ChatCompletion, oldest first.
func (p *Provider) Calls() [][]ctxpkg.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]ctxpkg.Message(nil), p.calls...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func emptyAs(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
