package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
	"github.com/stupiduntilnot/hookbot/internal/dispatch"
	"github.com/stupiduntilnot/hookbot/internal/dummy"
	"github.com/stupiduntilnot/hookbot/internal/kv"
	modelpkg "github.com/stupiduntilnot/hookbot/internal/model"
	"github.com/stupiduntilnot/hookbot/internal/openai"
)

type fakePlatform struct {
	mu      sync.Mutex
	admins  map[int64]bool
	menu    []cmdpkg.BotCommand
	actions []string
	err     error
}

func (p *fakePlatform) SendChatAction(_ context.Context, _ int64, action string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, action)
	return nil
}

func (p *fakePlatform) IsAdmin(_ context.Context, _ int64, userID int64) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.admins[userID], nil
}

func (p *fakePlatform) SetMyCommands(_ context.Context, menu []cmdpkg.BotCommand) error {
	if p.err != nil {
		return p.err
	}
	p.menu = menu
	return nil
}

type fixture struct {
	store    *kv.Memory
	manager  *ctxpkg.Manager
	provider *dummy.Provider
	platform *fakePlatform
	engine   *dispatch.Engine
	creds    []modelpkg.Credential
	set      *Set
}

func newFixture(t *testing.T, script string) *fixture {
	t.Helper()
	provider, err := dummy.NewProvider("test", script)
	require.NoError(t, err)
	f := &fixture{
		store:    kv.NewMemory(),
		provider: provider,
		platform: &fakePlatform{admins: map[int64]bool{1: true}},
	}
	f.manager = ctxpkg.NewManager(f.store, 5)
	f.set = &Set{
		Context:  f.manager,
		Provider: "dummy",
		Backends: func(c modelpkg.Credential) (modelpkg.Provider, error) {
			f.creds = append(f.creds, c)
			return f.provider, nil
		},
		Platform:  f.platform,
		Logger:    zap.NewNop(),
		Version:   "1.2.3",
		AdminOnly: true,
	}
	f.engine = dispatch.New("hook_bot", f.store)
	require.NoError(t, f.set.Register(f.engine))
	return f
}

func (f *fixture) send(t *testing.T, text string) dispatch.Reply {
	t.Helper()
	return f.sendAs(t, text, cmdpkg.Chat{ID: 10, Type: "private"}, 1)
}

func (f *fixture) sendAs(t *testing.T, text string, chat cmdpkg.Chat, userID int64) dispatch.Reply {
	t.Helper()
	m := &cmdpkg.Message{MessageID: 99, Chat: chat, From: &cmdpkg.User{ID: userID}, Text: &text}
	reply, err := f.engine.Dispatch(context.Background(), m)
	require.NoError(t, err)
	return reply
}

func (f *fixture) history(t *testing.T, chatID int64) []ctxpkg.Message {
	t.Helper()
	h, err := f.manager.LoadHistory(context.Background(), chatID)
	require.NoError(t, err)
	return h
}

func TestRegister_AllCommands(t *testing.T) {
	f := newFixture(t, "ok")
	assert.Equal(t, []string{
		"chat", "chat_info", "clear", "echo", "fetch", "get_chat_env", "help",
		"set_chat_env", "set_openai_endpoint", "set_openai_key", "start", "sync_commands",
	}, f.engine.Names())
}

func TestStart(t *testing.T) {
	f := newFixture(t, "ok")
	reply := f.send(t, "/start")
	assert.Equal(t, dispatch.Reply{ChatID: 10, Text: "hookbot 1.2.3", ReplyTo: 99}, reply)
}

func TestEcho(t *testing.T) {
	f := newFixture(t, "ok")
	assert.Equal(t, "hello world", f.send(t, "/echo hello world").Text)
	assert.Equal(t, "wut?", f.send(t, "/echo").Text)
	assert.Equal(t, "wut?", f.send(t, "/echo   ").Text)
	assert.Equal(t, "x", f.send(t, "/echo@hook_bot x").Text)
}

func TestChatInfo(t *testing.T) {
	f := newFixture(t, "ok")
	reply := f.sendAs(t, "/chat_info", cmdpkg.Chat{ID: -5, Type: "group", Title: "Team"}, 1)

	var chat cmdpkg.Chat
	require.NoError(t, json.Unmarshal([]byte(reply.Text), &chat))
	assert.Equal(t, cmdpkg.Chat{ID: -5, Type: "group", Title: "Team"}, chat)
}

func TestHelp_Sorted(t *testing.T) {
	f := newFixture(t, "ok")
	reply := f.send(t, "/help")
	assert.Equal(t, "Available commands:\n\t/chat\n\t/chat_info\n\t/clear\n\t/echo\n\t/fetch\n\t/get_chat_env\n\t/help"+
		"\n\t/set_chat_env\n\t/set_openai_endpoint\n\t/set_openai_key\n\t/start\n\t/sync_commands", reply.Text)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "  page body  ")
	}))
	defer srv.Close()

	f := newFixture(t, "ok")
	f.set.HTTP = srv.Client()
	assert.Equal(t, "page body", f.send(t, "/fetch "+srv.URL).Text)
	assert.Equal(t, "You need to input a url", f.send(t, "/fetch").Text)
	assert.Equal(t, "Invalid url: ftp://x", f.send(t, "/fetch ftp://x").Text)
}

func TestSyncCommands(t *testing.T) {
	f := newFixture(t, "ok")
	assert.Equal(t, "success", f.send(t, "/sync_commands").Text)
	require.Len(t, f.platform.menu, 12)
	assert.Equal(t, cmdpkg.BotCommand{Command: "chat", Description: "Talk to the assistant"}, f.platform.menu[0])

	f.set.Platform = nil
	assert.Equal(t, "Command sync is not available", f.send(t, "/sync_commands").Text)
}

func TestSyncCommands_PlatformError(t *testing.T) {
	f := newFixture(t, "ok")
	f.platform.err = errors.New("telegram down")
	text := "/sync_commands"
	_, err := f.engine.Dispatch(context.Background(), &cmdpkg.Message{Chat: cmdpkg.Chat{ID: 1}, Text: &text})
	assert.Error(t, err)
}

func TestChatEnvLifecycle(t *testing.T) {
	f := newFixture(t, "ok")
	assert.Equal(t, "No chat env set", f.send(t, "/get_chat_env").Text)
	assert.Equal(t, "Chat env set", f.send(t, "/set_chat_env answer in haiku").Text)
	assert.Equal(t, "answer in haiku", f.send(t, "/get_chat_env").Text)
	assert.Equal(t, "Chat env cleared", f.send(t, "/set_chat_env").Text)
	assert.Equal(t, "No chat env set", f.send(t, "/get_chat_env").Text)
}

func TestClear(t *testing.T) {
	f := newFixture(t, "msg:answer")
	f.send(t, "question")
	require.Len(t, f.history(t, 10), 2)

	assert.Equal(t, "Chat history cleared", f.send(t, "/clear").Text)
	assert.Empty(t, f.history(t, 10))
}

func TestAdminOnly(t *testing.T) {
	f := newFixture(t, "ok")
	group := cmdpkg.Chat{ID: -100, Type: "supergroup"}

	assert.Equal(t, notAdminReply, f.sendAs(t, "/set_chat_env x", group, 2).Text)
	_, ok, err := f.manager.Instruction(context.Background(), -100)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "Chat env set", f.sendAs(t, "/set_chat_env x", group, 1).Text)
	assert.Equal(t, "Chat env set", f.sendAs(t, "/set_chat_env x", cmdpkg.Chat{ID: 3, Type: "private"}, 2).Text)

	f.set.AdminOnly = false
	assert.Equal(t, "Chat history cleared", f.sendAs(t, "/clear", group, 2).Text)
}

func TestAdminOnly_UntypedChatIsGated(t *testing.T) {
	f := newFixture(t, "ok")
	untyped := cmdpkg.Chat{ID: -200}

	assert.Equal(t, notAdminReply, f.sendAs(t, "/set_openai_endpoint https://elsewhere.example", untyped, 2).Text)
	_, ok, err := f.store.Get(context.Background(), endpointKey(-200))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdminOnly_LookupErrorPropagates(t *testing.T) {
	f := newFixture(t, "ok")
	f.platform.err = errors.New("forbidden")
	text := "/clear"
	m := &cmdpkg.Message{Chat: cmdpkg.Chat{ID: -1, Type: "group"}, From: &cmdpkg.User{ID: 1}, Text: &text}
	_, err := f.engine.Dispatch(context.Background(), m)
	assert.Error(t, err)
}

func TestCredentialOverrides(t *testing.T) {
	f := newFixture(t, "ok")
	assert.Equal(t, "API key set", f.send(t, "/set_openai_key sk-chat").Text)
	assert.Equal(t, "API endpoint set", f.send(t, "/set_openai_endpoint https://proxy.example/v1").Text)
	f.send(t, "hello")
	require.NotEmpty(t, f.creds)
	assert.Equal(t, modelpkg.Credential{APIKey: "sk-chat", Endpoint: "https://proxy.example/v1"}, f.creds[len(f.creds)-1])

	assert.Equal(t, "API key cleared", f.send(t, "/set_openai_key").Text)
	f.send(t, "hello")
	assert.Equal(t, "", f.creds[len(f.creds)-1].APIKey)
}

func TestChat_EndpointOverrideWithoutKeyNeverSeesOperatorKey(t *testing.T) {
	hits := 0
	elsewhere := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTeapot)
	}))
	defer elsewhere.Close()

	f := newFixture(t, "ok")
	f.set.Backends = openai.NewFactory(openai.Options{APIKey: "sk-operator", Model: "test-model"})
	assert.Equal(t, "API endpoint set", f.send(t, "/set_openai_endpoint "+elsewhere.URL).Text)
	assert.Equal(t, noCredentialReply, f.send(t, "hello").Text)
	assert.Zero(t, hits)
	assert.Empty(t, f.history(t, 10))
}

func TestChat_SuccessAppendsTurns(t *testing.T) {
	f := newFixture(t, "msg:first,msg:second")

	assert.Equal(t, "first", f.send(t, "/chat hi there").Text)
	assert.Equal(t, "second", f.send(t, "and again").Text)

	assert.Equal(t, []ctxpkg.Message{
		{Role: "user", Content: "hi there"},
		{Role: "assistant", Content: "first"},
		{Role: "user", Content: "and again"},
		{Role: "assistant", Content: "second"},
	}, f.history(t, 10))
	assert.Equal(t, []string{"typing", "typing"}, f.platform.actions)
}

func TestChat_SendsWindowPlusUserTurn(t *testing.T) {
	f := newFixture(t, "ok")
	ctx := context.Background()
	var stored []ctxpkg.Message
	for i := 1; i <= 8; i++ {
		stored = append(stored, ctxpkg.Message{Role: "user", Content: fmt.Sprintf("t%d", i)})
	}
	require.NoError(t, f.manager.SaveHistory(ctx, 10, stored))
	require.NoError(t, f.manager.SetInstruction(ctx, 10, "be terse"))

	f.send(t, "latest")

	calls := f.provider.Calls()
	require.Len(t, calls, 1)
	sent := calls[0]
	require.Len(t, sent, 7)
	assert.Equal(t, ctxpkg.Message{Role: "system", Content: "be terse"}, sent[0])
	assert.Equal(t, "t4", sent[1].Content)
	assert.Equal(t, ctxpkg.Message{Role: "user", Content: "latest"}, sent[6])

	assert.Len(t, f.history(t, 10), 10, "persisted history stays untrimmed")
}

func TestChat_FailureLeavesHistoryUntouched(t *testing.T) {
	f := newFixture(t, "msg:ok,err:quota")
	f.send(t, "one")
	before := f.history(t, 10)

	reply := f.send(t, "two")
	assert.Equal(t, "dummy provider error class=quota", reply.Text)
	assert.Equal(t, before, f.history(t, 10))
}

func TestChat_EmptyPrompt(t *testing.T) {
	f := newFixture(t, "ok")
	assert.Equal(t, usageReply, f.send(t, "/chat").Text)
	assert.Equal(t, usageReply, f.send(t, "/unknowncommand").Text)
	assert.Empty(t, f.provider.Calls())
}

func TestChat_UnknownCommandPromptDropsToken(t *testing.T) {
	f := newFixture(t, "ok")
	f.send(t, "/unknown Foo bar")
	calls := f.provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Foo bar", calls[0][len(calls[0])-1].Content)
}

func TestChat_NoCredential(t *testing.T) {
	f := newFixture(t, "ok")
	f.set.Backends = func(modelpkg.Credential) (modelpkg.Provider, error) { return nil, modelpkg.ErrNoCredential }
	assert.Equal(t, noCredentialReply, f.send(t, "hello").Text)
	assert.Empty(t, f.history(t, 10))
}

func TestChat_CorruptHistory(t *testing.T) {
	f := newFixture(t, "ok")
	require.NoError(t, f.store.Put(context.Background(), ctxpkg.HistoryKey(10), "not json"))

	text := "hello"
	_, err := f.engine.Dispatch(context.Background(), &cmdpkg.Message{Chat: cmdpkg.Chat{ID: 10}, Text: &text})
	assert.ErrorIs(t, err, ctxpkg.ErrCorruptHistory)
	assert.Empty(t, f.provider.Calls())
}

func TestChat_ObserverSeesEveryCall(t *testing.T) {
	f := newFixture(t, "msg:a,err:x")
	var statuses []bool
	f.set.Observe = func(provider string, _ time.Duration, _ modelpkg.CompletionResponse, err error) {
		assert.Equal(t, "dummy", provider)
		statuses = append(statuses, err == nil)
	}
	f.send(t, "one")
	f.send(t, "two")
	assert.Equal(t, []bool{true, false}, statuses)
}

func TestPromptAndArgument(t *testing.T) {
	cases := []struct{ in, prompt, arg string }{
		{"hello", "hello", ""},
		{"  hello  ", "hello", "hello"},
		{"/chat hi", "hi", "hi"},
		{"/chat", "", ""},
		{"/chat@bot  spaced out ", "spaced out", "spaced out"},
		{"/x\nmulti\nline", "multi\nline", "multi\nline"},
	}
	for _, c := range cases {
		assert.Equal(t, c.prompt, Prompt(c.in), "Prompt(%q)", c.in)
		assert.Equal(t, c.arg, Argument(c.in), "Argument(%q)", c.in)
	}
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "List available commands", Description("help"))
	assert.Equal(t, "Run /custom", Description("custom"))
}
