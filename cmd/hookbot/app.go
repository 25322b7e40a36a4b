package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/hookbot/internal/anthropic"
	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	"github.com/stupiduntilnot/hookbot/internal/commands"
	"github.com/stupiduntilnot/hookbot/internal/config"
	ctxpkg "github.com/stupiduntilnot/hookbot/internal/context"
	"github.com/stupiduntilnot/hookbot/internal/db"
	"github.com/stupiduntilnot/hookbot/internal/dispatch"
	"github.com/stupiduntilnot/hookbot/internal/dummy"
	"github.com/stupiduntilnot/hookbot/internal/kv"
	"github.com/stupiduntilnot/hookbot/internal/metrics"
	modelpkg "github.com/stupiduntilnot/hookbot/internal/model"
	"github.com/stupiduntilnot/hookbot/internal/openai"
	"github.com/stupiduntilnot/hookbot/internal/telegram"
	"github.com/stupiduntilnot/hookbot/internal/webhook"
)

// app is the wired bot shared by serve and poll.
type app struct {
	cfg       config.BotConfig
	logger    *zap.Logger
	database  *sql.DB
	journal   db.Journal
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	commander cmdpkg.Commander
	telegram  *telegram.Client
	engine    *dispatch.Engine
	server    *webhook.Server

	processEventID int64
}

func newApp(cfg config.BotConfig, logger *zap.Logger, mode string) (*app, error) {
	a := &app{cfg: cfg, logger: logger, journal: db.NopJournal{}}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	var store kv.Store
	switch cfg.Store {
	case "sqlite":
		database, err := db.OpenDB(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(database); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to init schema: %w", err)
		}
		a.database = database
		a.journal = &db.SQLJournal{DB: database, OnError: func(eventType string, err error) {
			logger.Warn("failed to log event", zap.String("event_type", eventType), zap.Error(err))
		}}
		store = &kv.SQLite{DB: database}
	case "memory":
		store = kv.NewMemory()
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Store)
	}
	store = kv.WithObserver(store, a.metrics.RecordStoreOp)

	commander, err := newCommander(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init commander: %w", err)
	}
	a.commander = commander
	if tg, ok := commander.(*telegram.Client); ok {
		a.telegram = tg
	}

	backends, err := newBackends(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init model provider: %w", err)
	}

	a.engine = dispatch.New(cfg.BotUsername, store,
		dispatch.WithLogger(logger),
		dispatch.WithObserver(a.metrics.RecordDispatch),
	)
	set := &commands.Set{
		Context:  ctxpkg.NewManager(store, cfg.HistoryWindow),
		Backends: backends,
		Provider: cfg.ModelProvider,
		HTTP:     commands.NewFetchClient(time.Duration(cfg.RequestTimeoutSeconds) * time.Second),
		Logger:   logger,
		Journal:  a.journal,
		Observe: func(provider string, elapsed time.Duration, resp modelpkg.CompletionResponse, err error) {
			a.metrics.RecordBackend(provider, elapsed, resp.InputTokens, resp.OutputTokens, err)
		},
		Version:   version,
		AdminOnly: cfg.AdminOnly,
	}
	if a.telegram != nil {
		set.Platform = a.telegram
	}
	if err := set.Register(a.engine); err != nil {
		a.Close()
		return nil, err
	}

	opts := []webhook.Option{
		webhook.WithLogger(logger),
		webhook.WithJournal(a.journal),
		webhook.WithMetrics(a.metrics),
		webhook.WithGatherer(a.registry),
		webhook.WithAllowedChats(cfg.ChatAllowed),
	}
	if a.telegram != nil {
		opts = append(opts, webhook.WithRegistrar(a.telegram, cfg.PublicURL))
	}
	a.server = webhook.New(a.engine, cfg.TelegramToken, opts...)

	a.processEventID = a.journal.Record(0, db.EventProcessStarted, map[string]any{
		"role":     "bot",
		"mode":     mode,
		"pid":      os.Getpid(),
		"provider": cfg.ModelProvider,
		"source":   cfg.Commander,
		"store":    cfg.Store,
		"version":  version,
	})
	return a, nil
}

// Close records process.stopped and releases the database.
func (a *app) Close() {
	if a.database == nil {
		return
	}
	if a.processEventID > 0 {
		a.journal.Record(a.processEventID, db.EventProcessStopped, map[string]any{"pid": os.Getpid()})
	}
	a.database.Close()
	a.database = nil
}

func newCommander(cfg config.BotConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase(), time.Duration(cfg.Timeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newBackends(cfg config.BotConfig) (modelpkg.Factory, error) {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	switch cfg.ModelProvider {
	case "openai":
		return openai.NewFactory(openai.Options{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: timeout,
		}), nil
	case "anthropic":
		return anthropic.NewFactory(anthropic.Options{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.AnthropicModel,
			Timeout: timeout,
		}), nil
	case "dummy":
		p, err := dummy.NewProvider(cfg.OpenAIModel, cfg.DummyProviderScript)
		if err != nil {
			return nil, err
		}
		return modelpkg.Static(p), nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
