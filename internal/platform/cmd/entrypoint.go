// Package cmd holds the startup plumbing shared by agent commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/titanfleet/fleet-agent/internal/platform/config"
	"github.com/titanfleet/fleet-agent/internal/platform/otel"
)

// ServiceAgent names the agent process in telemetry resources and log prefixes.
const ServiceAgent = "fleet-agent"

// telemetryFlushTimeout bounds the final span export on exit.
const telemetryFlushTimeout = 5 * time.Second

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags over env-derived defaults.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// LogPrefix turns "fleet-agent" into "[AGENT] ".
func LogPrefix(service string) string {
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(service)), "FLEET-")
	if name == "" {
		return ""
	}
	return "[" + name + "] "
}

// RunWithTelemetry installs the tracer provider for service, runs fn, and
// flushes pending spans before returning fn's error.
func RunWithTelemetry(ctx context.Context, service string, fn func(context.Context) error) error {
	service = strings.TrimSpace(service)
	switch {
	case service == "":
		return errors.New("service name is required")
	case fn == nil:
		return errors.New("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	flush, err := otel.Setup(ctx, service)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := flush(flushCtx); err != nil {
			log.Printf("telemetry flush service=%s err=%v", service, err)
		}
	}()
	return fn(ctx)
}
