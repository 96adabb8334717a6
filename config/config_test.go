package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHAT_SOURCE", "")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("HTTP_ADDR", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ChatSource != "telegram" {
		t.Errorf("ChatSource = %q, want telegram", cfg.ChatSource)
	}
	if cfg.StorageBackend != "file" {
		t.Errorf("StorageBackend = %q, want file", cfg.StorageBackend)
	}
	if cfg.DataDir != "chat_history" {
		t.Errorf("DataDir = %q, want chat_history", cfg.DataDir)
	}
	if cfg.PollTimeout != 30*time.Second {
		t.Errorf("PollTimeout = %v, want 30s", cfg.PollTimeout)
	}
	if cfg.BackfillMaxDepth != 1000 {
		t.Errorf("BackfillMaxDepth = %d, want 1000", cfg.BackfillMaxDepth)
	}
	if cfg.BackfillPageSize != 100 {
		t.Errorf("BackfillPageSize = %d, want 100", cfg.BackfillPageSize)
	}
	if cfg.LiveBufferSize != 512 {
		t.Errorf("LiveBufferSize = %d, want 512", cfg.LiveBufferSize)
	}
	if cfg.FetchRetryMax != 5 {
		t.Errorf("FetchRetryMax = %d, want 5", cfg.FetchRetryMax)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHAT_SOURCE", "twitch")
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("BACKFILL_MAX_DEPTH", "50")
	t.Setenv("LIVE_BUFFER_SIZE", "8")
	t.Setenv("TELEGRAM_POLL_TIMEOUT", "10s")
	t.Setenv("TWITCH_CHANNELS", "alpha, beta ,")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ChatSource != "twitch" {
		t.Errorf("ChatSource = %q, want twitch", cfg.ChatSource)
	}
	if cfg.StorageBackend != "postgres" {
		t.Errorf("StorageBackend = %q, want postgres", cfg.StorageBackend)
	}
	if cfg.BackfillMaxDepth != 50 {
		t.Errorf("BackfillMaxDepth = %d, want 50", cfg.BackfillMaxDepth)
	}
	if cfg.LiveBufferSize != 8 {
		t.Errorf("LiveBufferSize = %d, want 8", cfg.LiveBufferSize)
	}
	if cfg.PollTimeout != 10*time.Second {
		t.Errorf("PollTimeout = %v, want 10s", cfg.PollTimeout)
	}
	if len(cfg.TwitchChannels) != 2 || cfg.TwitchChannels[0] != "alpha" || cfg.TwitchChannels[1] != "beta" {
		t.Errorf("TwitchChannels = %v, want [alpha beta]", cfg.TwitchChannels)
	}
}

func TestLoadRejectsBadEnums(t *testing.T) {
	t.Setenv("CHAT_SOURCE", "irc")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid CHAT_SOURCE")
	}
	t.Setenv("CHAT_SOURCE", "telegram")
	t.Setenv("STORAGE_BACKEND", "s3")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid STORAGE_BACKEND")
	}
}

func TestValidateTelegramReady(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	cfg, _ := Load()
	if err := cfg.ValidateTelegramReady(); err != nil {
		t.Errorf("expected valid telegram config, got %v", err)
	}
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	cfg, _ = Load()
	if err := cfg.ValidateTelegramReady(); err == nil {
		t.Error("expected error when TELEGRAM_BOT_TOKEN missing")
	}
}

func TestValidateTwitchChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNELS", "somechannel")
	cfg, _ := Load()
	if err := cfg.ValidateTwitchChatReady(); err != nil {
		t.Errorf("expected valid twitch config, got %v", err)
	}
	t.Setenv("TWITCH_CHANNELS", "")
	cfg, _ = Load()
	if err := cfg.ValidateTwitchChatReady(); err == nil {
		t.Error("expected error when TWITCH_CHANNELS missing")
	}
}
