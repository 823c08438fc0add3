package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.AccountStrategy != "round_robin" {
		t.Fatalf("account_strategy = %q, want round_robin", cfg.AccountStrategy)
	}
	if !cfg.AutoSaveTokens {
		t.Fatal("auto_save_tokens should default on")
	}
	if cfg.Retry429Interval != 10 {
		t.Fatalf("retry_429_interval = %d, want 10", cfg.Retry429Interval)
	}
	if cfg.MaxHistoryMessages != 20 || cfg.MaxToolResults != 10 {
		t.Fatalf("history/result caps = %d/%d, want 20/10", cfg.MaxHistoryMessages, cfg.MaxToolResults)
	}
	if cfg.AccountStore != "file" {
		t.Fatalf("account_store = %q, want file", cfg.AccountStore)
	}
	if cfg.APIKey != "" {
		t.Fatal("api_key should default empty (auth disabled)")
	}
	if cfg.Server.Port != 9980 {
		t.Fatalf("server.port = %d, want 9980", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging.level = %q, want info", cfg.Logging.Level)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.AccountStrategy = "quota_aware"
	cfg.SplitToolcallResult = true
	cfg.APIKey = "sk-test-123"
	cfg.Server.Port = 8123
	cfg.Redis.Addr = "redis:6379"

	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.AccountStrategy != "quota_aware" {
		t.Fatalf("account_strategy = %q", got.AccountStrategy)
	}
	if !got.SplitToolcallResult {
		t.Fatal("split_toolcall_result did not survive the round trip")
	}
	if got.APIKey != "sk-test-123" {
		t.Fatalf("api_key = %q", got.APIKey)
	}
	if got.Server.Port != 8123 {
		t.Fatalf("server.port = %d", got.Server.Port)
	}
	if got.Redis.Addr != "redis:6379" {
		t.Fatalf("redis.addr = %q", got.Redis.Addr)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"account_strategy": "random"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AccountStrategy != "random" {
		t.Fatalf("account_strategy = %q, want random", cfg.AccountStrategy)
	}
	// Unlisted keys stay on their defaults.
	if cfg.Retry429Interval != 10 || cfg.Server.Port != 9980 {
		t.Fatalf("defaults lost: retry=%d port=%d", cfg.Retry429Interval, cfg.Server.Port)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"account_strategy": `), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("malformed settings should fail loudly, not fall back to defaults")
	}
}

func TestInsecureTLSEnv(t *testing.T) {
	t.Setenv("WARP_INSECURE_TLS", "1")
	cfg, err := Load(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.InsecureTLS {
		t.Fatal("WARP_INSECURE_TLS=1 should set InsecureTLS")
	}
}
