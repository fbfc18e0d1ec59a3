package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port     int           `env:"TITAN_FLEET_TEST_PORT" envDefault:"123"`
	Interval time.Duration `env:"TITAN_FLEET_TEST_INTERVAL" envDefault:"30s"`
	Patterns []string      `env:"TITAN_FLEET_TEST_PATTERNS" envSeparator:"," envDefault:"**.js,**.css"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.Interval != 30*time.Second {
		t.Fatalf("expected default interval 30s, got %v", cfg.Interval)
	}
	if len(cfg.Patterns) != 2 || cfg.Patterns[1] != "**.css" {
		t.Fatalf("unexpected default patterns %v", cfg.Patterns)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TITAN_FLEET_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvMapIgnoresProcessEnvironment(t *testing.T) {
	t.Setenv("TITAN_FLEET_TEST_PORT", "999")

	var cfg envTestConfig
	if err := ParseEnvMap(&cfg, map[string]string{"TITAN_FLEET_TEST_INTERVAL": "5s"}); err != nil {
		t.Fatalf("parse env map: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected map parse to ignore process env, got port %d", cfg.Port)
	}
	if cfg.Interval != 5*time.Second {
		t.Fatalf("expected interval from map, got %v", cfg.Interval)
	}
}
