// Package main runs the fleetctl operator CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/titanfleet/fleet-agent/internal/cmd/fleetctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fleetctl.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
