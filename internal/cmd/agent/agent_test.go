package agent

import (
	"flag"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	t.Setenv("TITAN_FLEET_AGENT_GRPC_PORT", "9099")
	t.Setenv("TITAN_FLEET_AGENT_UPSTREAM_URL", "https://fleet.example.com")
	t.Setenv("TITAN_FLEET_AGENT_PUSH_SECRET", "shared")

	cfg, err := ParseConfig(fs, []string{"-manifest", "precache.yaml", "-api-prefixes", "/api/, /graphql", "-sync-interval", "5s"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.GRPCPort != 9099 {
		t.Fatalf("grpc port = %d, want 9099", cfg.GRPCPort)
	}
	if cfg.UpstreamURL != "https://fleet.example.com" {
		t.Fatalf("upstream = %q", cfg.UpstreamURL)
	}
	if cfg.ManifestPath != "precache.yaml" {
		t.Fatalf("manifest = %q", cfg.ManifestPath)
	}
	if len(cfg.APIPrefixes) != 2 || cfg.APIPrefixes[1] != "/graphql" {
		t.Fatalf("api prefixes = %v", cfg.APIPrefixes)
	}
	if cfg.SyncInterval != 5*time.Second {
		t.Fatalf("sync interval = %s, want 5s", cfg.SyncInterval)
	}
	if cfg.PushSecret != "shared" {
		t.Fatalf("push secret = %q", cfg.PushSecret)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.UpstreamURL != "http://localhost:3000" {
		t.Fatalf("upstream = %q, want %q", cfg.UpstreamURL, "http://localhost:3000")
	}
	if cfg.CachePrefix != "titan-fleet" {
		t.Fatalf("cache prefix = %q", cfg.CachePrefix)
	}
	if len(cfg.StaticPatterns) != 3 {
		t.Fatalf("static patterns = %v", cfg.StaticPatterns)
	}
	if cfg.Desktop {
		t.Fatal("desktop notifications should be off by default")
	}
}

func TestParseConfig_StaticPatternsUsageDescribesNetworkFirst(t *testing.T) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	f := fs.Lookup("static-patterns")
	if f == nil {
		t.Fatal("expected static-patterns flag")
	}
	if !strings.Contains(f.Usage, "network first") || strings.Contains(f.Usage, "stale") {
		t.Fatalf("usage = %q, want network-first description", f.Usage)
	}
}
