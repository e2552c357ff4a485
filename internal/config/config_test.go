package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidateWithKey(t *testing.T) {
	cfg := Defaults()
	cfg.APIKeys = []string{"sk-test"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with key should validate: %v", err)
	}
}

func TestValidateRejectsMissingKey(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing API key")
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.APIKeys = []string{"k"}
	cfg.Billing.UnknownModelPolicy = "explode"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for bad billing policy")
	}
}

func TestValidateBillingRequiresMongo(t *testing.T) {
	cfg := Defaults()
	cfg.APIKeys = []string{"k"}
	cfg.Billing.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error: billing without mongo URI")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APP_API_KEY", "sk-a, sk-b")
	t.Setenv("TOKEN_REFRESH_THRESHOLD", "120")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("BASE_RETRY_DELAY", "0.5")
	t.Setenv("BILLING_ENABLED", "true")
	t.Setenv("KIRO_REGION", "eu-west-1")

	cfg := Defaults()
	applyEnv(cfg)

	if len(cfg.APIKeys) != 2 || cfg.APIKeys[1] != "sk-b" {
		t.Fatalf("expected two keys, got %v", cfg.APIKeys)
	}
	if cfg.Credentials.RefreshThresholdSeconds != 120 {
		t.Fatalf("refresh threshold override failed: %d", cfg.Credentials.RefreshThresholdSeconds)
	}
	if cfg.Upstream.MaxRetries != 5 || cfg.Upstream.BaseRetryDelaySeconds != 0.5 {
		t.Fatalf("retry overrides failed: %+v", cfg.Upstream)
	}
	if !cfg.Billing.Enabled {
		t.Fatalf("billing enable override failed")
	}
	if cfg.Upstream.Region != "eu-west-1" {
		t.Fatalf("region override failed: %s", cfg.Upstream.Region)
	}
}

func TestLoadWithFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("port: \"9100\"\napi_keys: [\"sk-file\"]\nbilling:\n  decimal_places: 4\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadWithFile(path)
	if cfg == nil {
		t.Fatalf("config should load")
	}
	if cfg.Port != "9100" || cfg.Billing.DecimalPlaces != 4 {
		t.Fatalf("yaml overlay failed: port=%s places=%d", cfg.Port, cfg.Billing.DecimalPlaces)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0] != "sk-file" {
		t.Fatalf("yaml keys failed: %v", cfg.APIKeys)
	}
}

func TestLoadWithMissingFileFallsBack(t *testing.T) {
	cfg := LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg == nil {
		t.Fatalf("missing file should not be fatal")
	}
	if cfg.Port != "8000" {
		t.Fatalf("expected defaults, got port %s", cfg.Port)
	}
}
