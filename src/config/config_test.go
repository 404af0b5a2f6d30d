package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got: %s", cfg.Port)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected 10s shutdown timeout, got: %s", cfg.ShutdownTimeout)
	}
	if len(cfg.Symbols) == 0 {
		t.Error("Expected default symbols")
	}
	if cfg.PublisherDriver != "none" || cfg.EventFormat != "json" {
		t.Errorf("Unexpected publisher defaults: %s %s", cfg.PublisherDriver, cfg.EventFormat)
	}
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "3000")
	t.Setenv("SYMBOLS", "AAPL, MSFT,,IBM")
	t.Setenv("RATE_LIMIT_WINDOW", "2s")
	t.Setenv("SELF_TRADE_POLICY", "cancel-resting")
	t.Setenv("INVARIANT_CHECKS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "3000" {
		t.Errorf("Expected port 3000, got: %s", cfg.Port)
	}
	if len(cfg.Symbols) != 3 || cfg.Symbols[2] != "IBM" {
		t.Errorf("Expected [AAPL MSFT IBM], got: %v", cfg.Symbols)
	}
	if cfg.RateLimitWindow != 2*time.Second {
		t.Errorf("Expected 2s window, got: %s", cfg.RateLimitWindow)
	}
	if cfg.SelfTradePolicy != "cancel-resting" || !cfg.InvariantChecks {
		t.Errorf("Unexpected engine settings: %s %v", cfg.SelfTradePolicy, cfg.InvariantChecks)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exchange.yaml")
	content := "PORT: \"9090\"\nSYMBOLS:\n  - BTCUSD\n  - ETHUSD\nEVENT_FORMAT: proto\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" || len(cfg.Symbols) != 2 || cfg.EventFormat != "proto" {
		t.Errorf("Unexpected config from file: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"SELF_TRADE_POLICY": "reject-all",
		"PUBLISHER_DRIVER":  "nats",
		"EVENT_FORMAT":      "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%s", key, value)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test,
// restoring the original directory on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(orig); err != nil {
			t.Fatal(err)
		}
	})
}
