package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefault verifies the baseline values used when nothing is configured.
func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != ":8080" {
		t.Errorf("Expected port :8080, got %s", cfg.Port)
	}
	if cfg.DefaultRoom != "global" {
		t.Errorf("Expected default room global, got %s", cfg.DefaultRoom)
	}
	if cfg.SendQueueSize != 256 {
		t.Errorf("Expected send queue size 256, got %d", cfg.SendQueueSize)
	}
	if cfg.DuplicateLogin != DuplicateLoginEvict {
		t.Errorf("Expected duplicate login policy evict, got %s", cfg.DuplicateLogin)
	}
}

// TestSanitize verifies that invalid values fall back to defaults.
func TestSanitize(t *testing.T) {
	cfg := Config{
		MaxMessageSize: -1,
		RateLimit:      RateLimitConfig{Burst: 0, RefillInterval: -time.Second},
		DefaultRoom:    "   ",
		DuplicateLogin: "kick-everyone",
	}.Sanitize()

	if cfg.Port != ":8080" {
		t.Errorf("Expected default port, got %q", cfg.Port)
	}
	if cfg.MaxMessageSize != Default().MaxMessageSize {
		t.Errorf("Expected default max message size, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("Expected default rate limit, got %+v", cfg.RateLimit)
	}
	if cfg.DefaultRoom != "global" {
		t.Errorf("Expected default room, got %q", cfg.DefaultRoom)
	}
	if cfg.DuplicateLogin != DuplicateLoginEvict {
		t.Errorf("Expected unknown policy to fall back to evict, got %q", cfg.DuplicateLogin)
	}
}

// TestLoadFileThenEnv verifies that environment variables override the YAML file.
func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gochat.yaml")
	yamlConfig := `
port: ":9090"
allowed_origins:
  - http://chat.example.com
rate_limit:
  burst: 20
  refill_interval: 2s
duplicate_login: coexist
session:
  secret: from-file
  ttl: 1h
`
	if err := os.WriteFile(path, []byte(yamlConfig), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("SERVER_PORT", ":7070")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example.com, http://b.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != ":7070" {
		t.Errorf("Expected env port to win, got %s", cfg.Port)
	}
	if cfg.RateLimit.Burst != 20 {
		t.Errorf("Expected burst from file, got %d", cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.RefillInterval != 3*time.Second {
		t.Errorf("Expected refill interval from env, got %s", cfg.RateLimit.RefillInterval)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.example.com" {
		t.Errorf("Unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.DuplicateLogin != DuplicateLoginCoexist {
		t.Errorf("Expected coexist policy, got %s", cfg.DuplicateLogin)
	}
	if cfg.Session.Secret != "from-file" || cfg.Session.TTL != time.Hour {
		t.Errorf("Unexpected session config: %+v", cfg.Session)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

// TestLoadMissingFile verifies that a missing config file is reported.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

// TestValidateRequiresSecret verifies that sessions cannot be signed without a secret.
func TestValidateRequiresSecret(t *testing.T) {
	if err := Default().Validate(); err == nil {
		t.Error("Expected validation error without session secret")
	}
}

// TestApplyEnvIgnoresInvalidNumbers verifies that unparsable values keep the current setting.
func TestApplyEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "huge")
	t.Setenv("RATE_LIMIT_BURST", "-3")
	t.Setenv("SESSION_TTL", "forever")

	cfg := Default()
	ApplyEnv(&cfg)

	if cfg.MaxMessageSize != Default().MaxMessageSize {
		t.Errorf("Expected max message size unchanged, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != Default().RateLimit.Burst {
		t.Errorf("Expected burst unchanged, got %d", cfg.RateLimit.Burst)
	}
	if cfg.Session.TTL != Default().Session.TTL {
		t.Errorf("Expected session TTL unchanged, got %s", cfg.Session.TTL)
	}
}
