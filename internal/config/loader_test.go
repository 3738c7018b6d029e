package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfigWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected default config to be written: %v", statErr)
	}
	if cfg.RingTimeout != 30*time.Second {
		t.Fatalf("expected default ring timeout 30s, got %s", cfg.RingTimeout)
	}
	if cfg.PersistRetries != 3 {
		t.Fatalf("expected 3 persist retries, got %d", cfg.PersistRetries)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "addr: \":9090\"\nring_timeout: 10s\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WIRECALL_LOG_LEVEL", "warn")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("expected addr from file, got %q", cfg.Addr)
	}
	if cfg.RingTimeout != 10*time.Second {
		t.Fatalf("expected ring timeout 10s, got %s", cfg.RingTimeout)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env to override file, got %q", cfg.LogLevel)
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":7000"})

	if cfg.Addr != ":7000" {
		t.Fatalf("expected addr override, got %q", cfg.Addr)
	}
	if cfg.RingTimeout != 30*time.Second {
		t.Fatalf("zero override must not clear ring timeout, got %s", cfg.RingTimeout)
	}
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	cases := map[string]string{
		"zero ring timeout":     "ring_timeout: 0s\n",
		"negative ring timeout": "ring_timeout: -5s\n",
		"negative retries":      "persist_retries: -1\n",
		"negative backoff":      "persist_backoff: -1s\n",
		"zero client buffer":    "client_buffer: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, _, err := Load(nil, path); err == nil {
				t.Fatalf("expected %q to be rejected", body)
			}
		})
	}
}

func TestLoadAcceptsZeroRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("persist_retries: 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PersistRetries != 0 {
		t.Fatalf("expected 0 retries, got %d", cfg.PersistRetries)
	}
}
