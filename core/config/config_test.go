package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadNormalizesRunModeAndExclusions(t *testing.T) {
	cfg, err := Load(write(t, "telegram:\n  token: \"1:x\"\n  run_mode: POLLING\nrate_limit:\n  exclude_updates: [\" Callback \"]\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("run mode = %q", cfg.Telegram.RunMode)
	}
	if cfg.RateLimit.ExcludeUpdates[0] != UpdateCallback {
		t.Fatalf("exclusion = %q", cfg.RateLimit.ExcludeUpdates[0])
	}
}

func TestNormalizeWebhookRequiresAddress(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "1:x", RunMode: RunModeWebhook}}
	err := Normalize(cfg)
	if err == nil || !strings.Contains(err.Error(), "webhook.url") {
		t.Fatalf("err = %v", err)
	}
}

func TestNormalizeRejectsNegativeBurst(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "1:x"}, RateLimit: RateLimitConfig{Burst: -1}}
	if err := Normalize(cfg); err == nil {
		t.Fatalf("negative burst accepted")
	}
}

func TestDecodeEnvOverlay(t *testing.T) {
	t.Setenv("BOT_TOKEN", "9:env")
	var cfg Config
	if err := Decode(write(t, "telegram:\n  token: \"1:file\"\n"), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Telegram.Token != "9:env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestNormalizeReportsAllProblems(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{RunMode: RunModeWebhook},
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{"poll"}},
	}
	err := Normalize(cfg)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	for _, want := range []string{"telegram.token", "webhook.url", "webhook.listen", "webhook.port", `"poll"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err %q does not mention %s", err, want)
		}
	}
}

func TestNormalizeDropsBlankExclusions(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{Token: "1:x", RunMode: " polling "},
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{"", "MESSAGE"}},
	}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("run mode = %q", cfg.Telegram.RunMode)
	}
	if len(cfg.RateLimit.ExcludeUpdates) != 1 || cfg.RateLimit.ExcludeUpdates[0] != UpdateMessage {
		t.Fatalf("exclusions = %v", cfg.RateLimit.ExcludeUpdates)
	}
}
