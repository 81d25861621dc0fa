package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: robo
trading:
  mode: PAPER
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.RateLimiter.WeightLimit != 1200 {
		t.Errorf("default weight_limit = %d, want 1200", cfg.RateLimiter.WeightLimit)
	}
	if cfg.RateLimiter.OrderLimit != 50 {
		t.Errorf("default order_limit = %d, want 50", cfg.RateLimiter.OrderLimit)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("default max_attempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Risk.CooldownPeriodSec != 3600 {
		t.Errorf("default cooldown = %d, want 3600", cfg.Risk.CooldownPeriodSec)
	}
}

func TestLoadConfig_InvalidSafetyFactor(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: PAPER
rate_limiter:
  safety_factor: 1.5
`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for safety_factor > 1")
	}
	if !strings.Contains(err.Error(), "safety_factor") {
		t.Errorf("error should name safety_factor, got: %v", err)
	}
}

func TestLoadConfig_MinWaitExceedsMaxWait(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: PAPER
retry:
  min_wait_ms: 5000
  max_wait_ms: 1000
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for min_wait > max_wait")
	}
}

func TestLoadConfig_RealModeRequiresCredentials(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: REAL
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for REAL mode without credentials")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("ROBO_API_KEY", "env-key")
	t.Setenv("ROBO_API_SECRET", "env-secret")

	path := writeConfig(t, `
trading:
  mode: REAL
exchange:
  api_key: file-key
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" {
		t.Errorf("env override lost: api_key = %q", cfg.Exchange.APIKey)
	}
	if cfg.Exchange.APISecret != "env-secret" {
		t.Errorf("env override lost: api_secret = %q", cfg.Exchange.APISecret)
	}
}
