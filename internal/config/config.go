package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// BotConfig holds configuration for the bot process.
type BotConfig struct {
	TelegramToken   string  `yaml:"telegram_bot_token" toml:"telegram_bot_token"`
	TelegramAPIHost string  `yaml:"telegram_api_base" toml:"telegram_api_base"`
	BotUsername     string  `yaml:"bot_username" toml:"bot_username"`
	Commander       string  `yaml:"commander" toml:"commander"`
	ListenAddr      string  `yaml:"listen_addr" toml:"listen_addr"`
	PublicURL       string  `yaml:"public_url" toml:"public_url"`
	AllowedChatIDs  []int64 `yaml:"allowed_chat_ids" toml:"allowed_chat_ids"`
	AdminOnly       bool    `yaml:"admin_only" toml:"admin_only"`

	Store         string `yaml:"store" toml:"store"`
	DBPath        string `yaml:"db_path" toml:"db_path"`
	HistoryWindow int    `yaml:"history_window" toml:"history_window"`

	ModelProvider         string `yaml:"model_provider" toml:"model_provider"`
	OpenAIAPIKey          string `yaml:"openai_api_key" toml:"openai_api_key"`
	OpenAIBaseURL         string `yaml:"openai_base_url" toml:"openai_base_url"`
	OpenAIModel           string `yaml:"openai_model" toml:"openai_model"`
	AnthropicAPIKey       string `yaml:"anthropic_api_key" toml:"anthropic_api_key"`
	AnthropicBaseURL      string `yaml:"anthropic_base_url" toml:"anthropic_base_url"`
	AnthropicModel        string `yaml:"anthropic_model" toml:"anthropic_model"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`

	// Poll mode.
	Timeout      int `yaml:"poll_timeout" toml:"poll_timeout"`
	SleepSeconds int `yaml:"poll_sleep_seconds" toml:"poll_sleep_seconds"`

	DummyProviderScript  string `yaml:"dummy_provider_script" toml:"dummy_provider_script"`
	DummyCommanderScript string `yaml:"dummy_commander_script" toml:"dummy_commander_script"`
	DummySendScript      string `yaml:"dummy_send_script" toml:"dummy_send_script"`

	LogLevel string `yaml:"log_level" toml:"log_level"`
	LogDev   bool   `yaml:"log_dev" toml:"log_dev"`
}

// DefaultBotConfig returns the configuration used when nothing is set.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		TelegramAPIHost:       "https://api.telegram.org",
		Commander:             "telegram",
		ListenAddr:            ":8080",
		AdminOnly:             true,
		Store:                 "sqlite",
		DBPath:                "/state/hookbot.db",
		HistoryWindow:         5,
		ModelProvider:         "openai",
		OpenAIBaseURL:         "https://api.openai.com/v1",
		OpenAIModel:           "gpt-4o-mini",
		AnthropicBaseURL:      "https://api.anthropic.com",
		RequestTimeoutSeconds: 60,
		Timeout:               30,
		SleepSeconds:          1,
		DummyProviderScript:   "ok",
		DummyCommanderScript:  "ok",
		DummySendScript:       "ok",
		LogLevel:              "info",
	}
}

// LoadBotConfig reads the file named by HOOKBOT_CONFIG, if any, then the
// environment.
func LoadBotConfig() (BotConfig, error) {
	return Load(os.Getenv("HOOKBOT_CONFIG"))
}

// Load builds the configuration from defaults, then the file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (BotConfig, error) {
	cfg := DefaultBotConfig()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return BotConfig{}, err
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return BotConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return BotConfig{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *BotConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file type %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}

func (c *BotConfig) applyEnvOverrides() error {
	c.TelegramToken = envOrDefault("TELEGRAM_BOT_TOKEN", c.TelegramToken)
	c.TelegramAPIHost = envOrDefault("TELEGRAM_API_BASE", c.TelegramAPIHost)
	c.BotUsername = envOrDefault("HOOKBOT_BOT_USERNAME", c.BotUsername)
	c.Commander = envOrDefault("HOOKBOT_COMMANDER", c.Commander)
	c.ListenAddr = envOrDefault("HOOKBOT_LISTEN_ADDR", c.ListenAddr)
	c.PublicURL = envOrDefault("HOOKBOT_PUBLIC_URL", c.PublicURL)
	c.AdminOnly = envBoolOrDefault("HOOKBOT_ADMIN_ONLY", c.AdminOnly)
	c.Store = envOrDefault("HOOKBOT_STORE", c.Store)
	c.DBPath = envOrDefault("HOOKBOT_DB_PATH", c.DBPath)
	c.HistoryWindow = envIntOrDefault("HOOKBOT_HISTORY_WINDOW", c.HistoryWindow)
	c.ModelProvider = envOrDefault("HOOKBOT_MODEL_PROVIDER", c.ModelProvider)
	c.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = envOrDefault("OPENAI_MODEL", c.OpenAIModel)
	c.AnthropicAPIKey = envOrDefault("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicBaseURL = envOrDefault("ANTHROPIC_BASE_URL", c.AnthropicBaseURL)
	c.AnthropicModel = envOrDefault("ANTHROPIC_MODEL", c.AnthropicModel)
	c.RequestTimeoutSeconds = envIntOrDefault("HOOKBOT_REQUEST_TIMEOUT_SECONDS", c.RequestTimeoutSeconds)
	c.Timeout = envIntOrDefault("TG_TIMEOUT", c.Timeout)
	c.SleepSeconds = envIntOrDefault("TG_SLEEP_SECONDS", c.SleepSeconds)
	c.DummyProviderScript = envOrDefault("HOOKBOT_DUMMY_PROVIDER_SCRIPT", c.DummyProviderScript)
	c.DummyCommanderScript = envOrDefault("HOOKBOT_DUMMY_COMMANDER_SCRIPT", c.DummyCommanderScript)
	c.DummySendScript = envOrDefault("HOOKBOT_DUMMY_SEND_SCRIPT", c.DummySendScript)
	c.LogLevel = envOrDefault("HOOKBOT_LOG_LEVEL", c.LogLevel)
	c.LogDev = envBoolOrDefault("HOOKBOT_LOG_DEV", c.LogDev)

	if v := os.Getenv("HOOKBOT_ALLOWED_CHAT_IDS"); v != "" {
		ids, err := parseChatIDs(v)
		if err != nil {
			return fmt.Errorf("HOOKBOT_ALLOWED_CHAT_IDS: %w", err)
		}
		c.AllowedChatIDs = ids
	}
	return nil
}

// Validate checks enumerations, limits and required credentials.
func (c BotConfig) Validate() error {
	switch c.Commander {
	case "telegram":
		if c.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when HOOKBOT_COMMANDER=telegram")
		}
	case "dummy":
	default:
		return fmt.Errorf("HOOKBOT_COMMANDER must be telegram or dummy, got %q", c.Commander)
	}
	switch c.Store {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("HOOKBOT_DB_PATH is required when HOOKBOT_STORE=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("HOOKBOT_STORE must be sqlite or memory, got %q", c.Store)
	}
	switch c.ModelProvider {
	case "openai", "anthropic", "dummy":
	default:
		return fmt.Errorf("HOOKBOT_MODEL_PROVIDER must be openai, anthropic or dummy, got %q", c.ModelProvider)
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HOOKBOT_HISTORY_WINDOW must be > 0, got %d", c.HistoryWindow)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("HOOKBOT_REQUEST_TIMEOUT_SECONDS must be > 0, got %d", c.RequestTimeoutSeconds)
	}
	if c.Timeout < 0 || c.SleepSeconds < 0 {
		return fmt.Errorf("TG_TIMEOUT and TG_SLEEP_SECONDS must be >= 0")
	}
	return nil
}

// TelegramAPIBase is the per-bot Bot API base URL.
func (c BotConfig) TelegramAPIBase() string {
	return strings.TrimSuffix(c.TelegramAPIHost, "/") + "/bot" + c.TelegramToken
}

// ChatAllowed reports whether updates from chatID are served. An empty
// allowlist serves every chat.
func (c BotConfig) ChatAllowed(chatID int64) bool {
	if len(c.AllowedChatIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func parseChatIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
