// Package main starts the fleet agent process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	agentcmd "github.com/titanfleet/fleet-agent/internal/cmd/agent"
	entrypoint "github.com/titanfleet/fleet-agent/internal/platform/cmd"
	"github.com/titanfleet/fleet-agent/internal/platform/config"
)

func main() {
	cfg, err := agentcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnError("parse flags", err)
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServiceAgent))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agentcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
