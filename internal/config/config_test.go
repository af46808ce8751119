package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.HistoryWindow != 20 {
		t.Fatalf("HistoryWindow = %d, want 20", cfg.HistoryWindow)
	}
	if cfg.HistoryLimitCap != 200 {
		t.Fatalf("HistoryLimitCap = %d, want 200", cfg.HistoryLimitCap)
	}
	if cfg.MaxContentLen != 10000 {
		t.Fatalf("MaxContentLen = %d, want 10000", cfg.MaxContentLen)
	}
	if cfg.GeneratorTimeout != 30*time.Second {
		t.Fatalf("GeneratorTimeout = %v, want 30s", cfg.GeneratorTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("HISTORY_WINDOW", "40")
	t.Setenv("HISTORY_DRIVER", "sqlite")
	t.Setenv("GENERATOR_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.HistoryWindow != 40 {
		t.Fatalf("HistoryWindow = %d, want 40", cfg.HistoryWindow)
	}
	if cfg.HistoryDriver != "sqlite" {
		t.Fatalf("HistoryDriver = %q, want %q", cfg.HistoryDriver, "sqlite")
	}
	if cfg.GeneratorTimeout != 5*time.Second {
		t.Fatalf("GeneratorTimeout = %v, want 5s", cfg.GeneratorTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad driver", "HISTORY_DRIVER", "cassandra"},
		{"bad generator mode", "GENERATOR_MODE", "grpc"},
		{"zero window", "HISTORY_WINDOW", "0"},
		{"tiny generator timeout", "GENERATOR_TIMEOUT", "10ms"},
		{"unparsable bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q should fail", tc.key, tc.value)
			}
		})
	}
}
