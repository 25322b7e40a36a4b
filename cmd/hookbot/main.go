package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/hookbot/internal/config"
	"github.com/stupiduntilnot/hookbot/internal/db"
	"github.com/stupiduntilnot/hookbot/internal/logging"
	"github.com/stupiduntilnot/hookbot/internal/telegram"
	"github.com/stupiduntilnot/hookbot/internal/webhook"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	cfg        config.BotConfig
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "hookbot",
	Short:         "Webhook chat bot with per-chat conversation context",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = os.Getenv("HOOKBOT_CONFIG")
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.LogLevel, cfg.LogDev)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve platform updates over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg, logger, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
		}
		return serve(ctx, a, ln)
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Long-poll for updates instead of serving a webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg, logger, "poll")
		if err != nil {
			return err
		}
		defer a.Close()

		if a.telegram != nil {
			// getUpdates is refused while a webhook is registered.
			if err := a.telegram.DeleteWebhook(ctx); err != nil {
				return fmt.Errorf("delete webhook: %w", err)
			}
		}
		logger.Info("hookbot polling",
			zap.String("provider", cfg.ModelProvider),
			zap.String("source", cfg.Commander),
		)
		return poll(ctx, a.commander, a.server, cfg.Timeout, time.Duration(cfg.SleepSeconds)*time.Second, logger)
	},
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the platform webhook registration",
}

var webhookSetCmd = &cobra.Command{
	Use:   "set [public-url]",
	Short: "Register <public-url>/<secret>/updates as the webhook",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := cfg.PublicURL
		if len(args) == 1 {
			base = args[0]
		}
		if base == "" {
			return fmt.Errorf("public url required: pass it as an argument or set HOOKBOT_PUBLIC_URL")
		}
		url := webhookURL(base, cfg.TelegramToken)
		client := telegramClient()
		if err := client.SetWebhook(cmd.Context(), url); err != nil {
			return err
		}
		recordWebhookEvent(db.EventWebhookSet, map[string]any{"url": url})
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the webhook registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := telegramClient().DeleteWebhook(cmd.Context()); err != nil {
			return err
		}
		recordWebhookEvent(db.EventWebhookDeleted, nil)
		fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
		return nil
	},
}

var webhookInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the current webhook registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := telegramClient().GetWebhookInfo(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.yaml, .yml or .toml); defaults to $HOOKBOT_CONFIG")
	webhookCmd.AddCommand(webhookSetCmd, webhookDeleteCmd, webhookInfoCmd)
	rootCmd.AddCommand(serveCmd, pollCmd, webhookCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "[hookbot] %v\n", err)
		os.Exit(1)
	}
}

func telegramClient() *telegram.Client {
	return telegram.NewClient(cfg.TelegramAPIBase(), time.Duration(cfg.RequestTimeoutSeconds)*time.Second)
}

// webhookURL is the updates route under base for token.
func webhookURL(base, token string) string {
	return strings.TrimRight(base, "/") + "/" + webhook.SecretPath(token) + "/updates"
}

// recordWebhookEvent writes a root audit event when a database is configured.
func recordWebhookEvent(eventType string, payload map[string]any) {
	if cfg.Store != "sqlite" {
		return
	}
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		logger.Warn("failed to open db for audit", zap.Error(err))
		return
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		logger.Warn("failed to init schema", zap.Error(err))
		return
	}
	if _, err := db.LogEvent(database, nil, eventType, payload); err != nil {
		logger.Warn("failed to log event", zap.String("event_type", eventType), zap.Error(err))
	}
}
