// Package config holds the settings every Telegram bot needs: the bot token
// and update delivery mode, logging, and the per-user rate limit.
//
// Values come from a YAML file, then environment variables override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig selects the bot token and how updates arrive.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// APIURL overrides the Bot API endpoint (self-hosted Bot API server).
	APIURL string `yaml:"api_url" envconfig:"TELEGRAM_API_URL"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig is required in webhook mode only.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
	// KeysOrder is a comma separated list of fields written first.
	KeysOrder string `yaml:"keys_order"`
	// DebugSample is "num/den" or "den"; it thins out per-update debug lines.
	DebugSample string `yaml:"debug_sample" envconfig:"LOG_DEBUG_SAMPLE"`
	// Dir enables File and ErrorsFile; stdout is always written.
	Dir        string `yaml:"dir" envconfig:"LOG_DIR"`
	File       string `yaml:"file"`
	ErrorsFile string `yaml:"errors_file"`
	// Profile is "prod", "dev" or "debug". debug disables sampling.
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// Update delivery modes. "polling" is accepted as an alias of longpoll.
const (
	RunModeWebhook  = "webhook"
	RunModeLongpoll = "longpoll"
)

// Update kinds accepted by rate_limit.exclude_updates.
const (
	UpdateCallback    = "callback"
	UpdateMessage     = "message"
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig spaces out updates per user. ExcludeUpdates lists update
// kinds that bypass the limiter.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	Burst          int      `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config is the core part of a bot's configuration. Bots embed it inline.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ErrInvalid wraps every validation failure reported by Normalize.
var ErrInvalid = errors.New("invalid config")

// Decode reads the YAML file at path into dst, then lets environment
// variables override it. dst is usually a struct embedding Config inline.
func Decode(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("config env overlay: %w", err)
	}
	return nil
}

// Load reads and validates the core sections alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates cfg in place and canonicalises run mode and update
// kinds. All problems are reported together.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}
	var problems []error
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		report("telegram.token is required")
	}
	cfg.normalizeRunMode(report)
	cfg.normalizeRateLimit(report)
	return errors.Join(problems...)
}

var runModeAliases = map[string]string{
	"":              RunModeLongpoll,
	"polling":       RunModeLongpoll,
	RunModeLongpoll: RunModeLongpoll,
	RunModeWebhook:  RunModeWebhook,
}

func (cfg *Config) normalizeRunMode(report func(string, ...any)) {
	mode, ok := runModeAliases[strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))]
	if !ok {
		report("telegram.run_mode %q, want webhook or longpoll", cfg.Telegram.RunMode)
		return
	}
	cfg.Telegram.RunMode = mode

	if mode == RunModeLongpoll {
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			report("telegram.longpoll_timeout_seconds must be >= 0")
		}
		return
	}
	wh := cfg.Webhook
	if strings.TrimSpace(wh.URL) == "" {
		report("webhook.url is required in webhook mode")
	}
	if strings.TrimSpace(wh.Listen) == "" {
		report("webhook.listen is required in webhook mode")
	}
	if wh.Port <= 0 {
		report("webhook.port must be > 0 in webhook mode")
	}
}

var updateKinds = map[string]bool{
	UpdateCallback:    true,
	UpdateMessage:     true,
	UpdateInlineQuery: true,
}

func (cfg *Config) normalizeRateLimit(report func(string, ...any)) {
	rl := &cfg.RateLimit
	if rl.IntervalMS < 0 {
		report("rate_limit.interval_ms must be >= 0")
	}
	if rl.Burst < 0 {
		report("rate_limit.burst must be >= 0")
	}
	kinds := rl.ExcludeUpdates[:0]
	for _, v := range rl.ExcludeUpdates {
		kind := strings.ToLower(strings.TrimSpace(v))
		switch {
		case kind == "":
		case !updateKinds[kind]:
			report("rate_limit.exclude_updates: unknown update kind %q", v)
		default:
			kinds = append(kinds, kind)
		}
	}
	rl.ExcludeUpdates = kinds
}
