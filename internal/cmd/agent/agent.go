// Package agent parses agent command flags and launches the agent runtime.
package agent

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	entrypoint "github.com/titanfleet/fleet-agent/internal/platform/cmd"
	"github.com/titanfleet/fleet-agent/internal/platform/discovery"
	agentapp "github.com/titanfleet/fleet-agent/internal/services/agent/app"
)

// Config holds agent command configuration.
type Config struct {
	HTTPAddr       string        `env:"TITAN_FLEET_AGENT_HTTP_ADDR" envDefault:":8080"`
	GRPCPort       int           `env:"TITAN_FLEET_AGENT_GRPC_PORT" envDefault:"8089"`
	UpstreamURL    string        `env:"TITAN_FLEET_AGENT_UPSTREAM_URL"`
	DBPath         string        `env:"TITAN_FLEET_AGENT_DB_PATH" envDefault:"data/agent.db"`
	ManifestPath   string        `env:"TITAN_FLEET_AGENT_MANIFEST_PATH"`
	CachePrefix    string        `env:"TITAN_FLEET_AGENT_CACHE_PREFIX" envDefault:"titan-fleet"`
	APIPrefixes    []string      `env:"TITAN_FLEET_AGENT_API_PREFIXES" envDefault:"/api/" envSeparator:","`
	StaticPatterns []string      `env:"TITAN_FLEET_AGENT_STATIC_PATTERNS" envDefault:"**.js,**.css,**.html" envSeparator:","`
	AppName        string        `env:"TITAN_FLEET_AGENT_APP_NAME" envDefault:"Titan Fleet"`
	TelemetryPath  string        `env:"TITAN_FLEET_AGENT_TELEMETRY_PATH" envDefault:"/api/driver/location/batch"`
	TelemetryToken string        `env:"TITAN_FLEET_AGENT_TELEMETRY_TOKEN"`
	SyncInterval   time.Duration `env:"TITAN_FLEET_AGENT_SYNC_INTERVAL" envDefault:"30s"`
	PushSecret     string        `env:"TITAN_FLEET_AGENT_PUSH_SECRET"`
	PushIssuer     string        `env:"TITAN_FLEET_AGENT_PUSH_ISSUER" envDefault:"titan-fleet-push"`
	Desktop        bool          `env:"TITAN_FLEET_AGENT_DESKTOP_NOTIFICATIONS" envDefault:"false"`
	DesktopIcon    string        `env:"TITAN_FLEET_AGENT_DESKTOP_ICON"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.UpstreamURL = discovery.OrDefaultHTTPBaseURL(cfg.UpstreamURL, discovery.ServiceOrigin)
	apiPrefixes := strings.Join(cfg.APIPrefixes, ",")
	staticPatterns := strings.Join(cfg.StaticPatterns, ",")

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The agent HTTP listen address")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The agent health gRPC server port")
	fs.StringVar(&cfg.UpstreamURL, "upstream", cfg.UpstreamURL, "The origin URL the agent fronts")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The agent SQLite database path")
	fs.StringVar(&cfg.ManifestPath, "manifest", cfg.ManifestPath, "Precache manifest file (YAML or JSON); empty uses the built-in manifest")
	fs.StringVar(&cfg.CachePrefix, "cache-prefix", cfg.CachePrefix, "Generation name prefix")
	fs.StringVar(&apiPrefixes, "api-prefixes", apiPrefixes, "Comma-separated path prefixes served network-first")
	fs.StringVar(&staticPatterns, "static-patterns", staticPatterns, "Comma-separated glob patterns for static assets (network first, cached copy when offline)")
	fs.StringVar(&cfg.AppName, "app-name", cfg.AppName, "Product name used in offline pages and notifications")
	fs.StringVar(&cfg.TelemetryPath, "telemetry-path", cfg.TelemetryPath, "Location batch endpoint on the origin")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "Sync redelivery interval")
	fs.BoolVar(&cfg.Desktop, "desktop-notifications", cfg.Desktop, "Also show notifications on the host desktop")
	fs.StringVar(&cfg.DesktopIcon, "desktop-icon", cfg.DesktopIcon, "Local image file for desktop notifications")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.APIPrefixes = splitList(apiPrefixes)
	cfg.StaticPatterns = splitList(staticPatterns)
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Run starts the agent runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAgent, func(ctx context.Context) error {
		return agentapp.Run(ctx, agentapp.RuntimeConfig{
			HTTPAddr:             cfg.HTTPAddr,
			GRPCPort:             cfg.GRPCPort,
			UpstreamURL:          cfg.UpstreamURL,
			DBPath:               cfg.DBPath,
			ManifestPath:         cfg.ManifestPath,
			CachePrefix:          cfg.CachePrefix,
			APIPrefixes:          cfg.APIPrefixes,
			StaticPatterns:       cfg.StaticPatterns,
			AppName:              cfg.AppName,
			TelemetryEndpoint:    cfg.TelemetryPath,
			TelemetryToken:       cfg.TelemetryToken,
			SyncInterval:         cfg.SyncInterval,
			PushSecret:           cfg.PushSecret,
			PushIssuer:           cfg.PushIssuer,
			DesktopNotifications: cfg.Desktop,
			DesktopIcon:          cfg.DesktopIcon,
			Logger:               log.Default(),
		})
	})
}
