package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Protection.WindowSeconds != 60 {
		t.Fatalf("expected default window 60, got %d", cfg.Protection.WindowSeconds)
	}
	if cfg.Protection.ResponseType != "quarantine" {
		t.Fatalf("expected default response quarantine, got %q", cfg.Protection.ResponseType)
	}
	if cfg.Protection.Thresholds.ChannelDelete != 5 || cfg.Protection.Thresholds.MemberPrune != 50 {
		t.Fatalf("unexpected default thresholds: %+v", cfg.Protection.Thresholds)
	}
	if cfg.Protection.Enabled {
		t.Fatalf("protection should default to disabled")
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestLoadYAMLAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
log_level: debug
protection:
  enabled: true
  window_seconds: 30
  thresholds:
    channel_delete: 3
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("PROTECTION_WINDOW_SECONDS", "45")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("yaml log level lost: %q", cfg.LogLevel)
	}
	if !cfg.Protection.Enabled {
		t.Fatalf("yaml enabled lost")
	}
	if cfg.Protection.Thresholds.ChannelDelete != 3 {
		t.Fatalf("yaml threshold lost: %d", cfg.Protection.Thresholds.ChannelDelete)
	}
	// Environment wins over the file.
	if cfg.Protection.WindowSeconds != 45 {
		t.Fatalf("env overlay lost: %d", cfg.Protection.WindowSeconds)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
protection:
  window_seconds: 0
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token")

	if _, err := Load(); err == nil {
		t.Fatalf("zero window should fail validation")
	}
}

func TestLoadRejectsUnknownResponse(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("PROTECTION_RESPONSE", "explode")

	if _, err := Load(); err == nil {
		t.Fatalf("unknown response type should fail validation")
	}
}
