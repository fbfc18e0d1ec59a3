package fleetctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	platformgrpc "github.com/titanfleet/fleet-agent/internal/platform/grpc"
	"github.com/titanfleet/fleet-agent/internal/platform/timeouts"
	agentapp "github.com/titanfleet/fleet-agent/internal/services/agent/app"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
	"github.com/titanfleet/fleet-agent/internal/services/agent/push"
	"github.com/titanfleet/fleet-agent/internal/services/agent/syncqueue"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show lifecycle, cache, queue, and client state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status agentapp.Status
			if err := opts.client().doJSON(commandContext(cmd), http.MethodGet, "/status", nil, nil, &status); err != nil {
				return writeCommandError(cmd, err)
			}
			if opts.jsonOutput {
				return writeJSON(cmd, status)
			}
			writeStatus(cmd.OutOrStdout(), status, time.Now())
			return nil
		},
	}
}

func newSkipWaitingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "skip-waiting",
		Short: "Adopt the waiting version now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, domain.CommandSkipWaiting)
		},
	}
}

func newClearCacheCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete every cache generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, domain.CommandClearCache)
		},
	}
}

func sendCommand(cmd *cobra.Command, opts *options, commandType domain.CommandType) error {
	var result agentapp.CommandResult
	if err := opts.client().doJSON(commandContext(cmd), http.MethodPost, "/message", domain.Command{Type: commandType}, nil, &result); err != nil {
		return writeCommandError(cmd, err)
	}
	if opts.jsonOutput {
		return writeJSON(cmd, result)
	}
	switch commandType {
	case domain.CommandClearCache:
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d generations\n", result.Cleared)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "Active: %s\n", orDash(result.Status.Active.Precache))
	}
	return nil
}

func newSyncCmd(opts *options) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fire a sync trigger now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result syncqueue.FlushResult
			body := map[string]string{"tag": tag}
			if err := opts.client().doJSON(commandContext(cmd), http.MethodPost, "/sync", body, nil, &result); err != nil {
				return writeCommandError(cmd, err)
			}
			if opts.jsonOutput {
				return writeJSON(cmd, result)
			}
			if result.Ignored {
				fmt.Fprintf(cmd.OutOrStdout(), "Tag %s ignored\n", result.Tag)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %d locations, %d remaining\n", result.Submitted, result.Remaining)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", syncqueue.DefaultTag, "sync tag to fire")
	return cmd
}

type queueListing struct {
	Locations []domain.LocationRecord `json:"locations"`
	Length    int                     `json:"length"`
}

func newQueueCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List queued location records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var listing queueListing
			if err := opts.client().doJSON(commandContext(cmd), http.MethodGet, "/queue", nil, nil, &listing); err != nil {
				return writeCommandError(cmd, err)
			}
			if opts.jsonOutput {
				return writeJSON(cmd, listing)
			}
			out := cmd.OutOrStdout()
			if listing.Length == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}
			for _, record := range listing.Locations {
				fmt.Fprintf(out, "%s  %.6f,%.6f\n", record.CapturedAt.Format(time.RFC3339), record.Latitude, record.Longitude)
			}
			return nil
		},
	}
}

func newEnqueueCmd(opts *options) *cobra.Command {
	var (
		lat, lng float64
		at       string
		accuracy float64
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a location record for the next sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lng") {
				return writeCommandError(cmd, errors.New("--lat and --lng are required"))
			}
			record := domain.LocationRecord{Latitude: lat, Longitude: lng, CapturedAt: time.Now().UTC()}
			if strings.TrimSpace(at) != "" {
				parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(at))
				if err != nil {
					return writeCommandError(cmd, fmt.Errorf("invalid --at: %w", err))
				}
				record.CapturedAt = parsed
			}
			if cmd.Flags().Changed("accuracy") {
				record.Accuracy = &accuracy
			}
			if err := record.Validate(); err != nil {
				return writeCommandError(cmd, err)
			}
			var result map[string]int
			if err := opts.client().doJSON(commandContext(cmd), http.MethodPost, "/queue", record, nil, &result); err != nil {
				return writeCommandError(cmd, err)
			}
			if opts.jsonOutput {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued, %d pending\n", result["length"])
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude in degrees")
	cmd.Flags().StringVar(&at, "at", "", "capture time (RFC 3339, default now)")
	cmd.Flags().Float64Var(&accuracy, "accuracy", 0, "accuracy in meters")
	return cmd
}

func newPushCmd(opts *options) *cobra.Command {
	var file, title, body, clickAction string
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Deliver a push payload to the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := pushPayload(file, title, body, clickAction)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			header := http.Header{}
			if secret := strings.TrimSpace(opts.cfg.PushSecret); secret != "" {
				token, err := push.SignToken(push.TokenConfig{Secret: []byte(secret), Issuer: opts.cfg.PushIssuer}, AppName, time.Minute)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				header.Set("Authorization", "Bearer "+token)
			}
			var spec domain.PushNotificationSpec
			if err := opts.client().doJSON(commandContext(cmd), http.MethodPost, "/push", payload, header, &spec); err != nil {
				return writeCommandError(cmd, err)
			}
			if opts.jsonOutput {
				return writeJSON(cmd, spec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Shown: %s: %s (opens %s)\n", spec.Title, spec.Body, spec.ClickAction)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "raw payload file (- for stdin)")
	cmd.Flags().StringVar(&title, "title", "", "notification title")
	cmd.Flags().StringVar(&body, "body", "", "notification body")
	cmd.Flags().StringVar(&clickAction, "click-action", "", "route or tel: URI opened on click")
	return cmd
}

func pushPayload(file, title, body, clickAction string) ([]byte, error) {
	if strings.TrimSpace(file) != "" {
		if title != "" || body != "" || clickAction != "" {
			return nil, errors.New("--file cannot be combined with --title, --body, or --click-action")
		}
		if file == "-" {
			return readAll(os.Stdin)
		}
		return os.ReadFile(file)
	}
	notification := map[string]string{}
	if title != "" {
		notification["title"] = title
	}
	if body != "" {
		notification["body"] = body
	}
	if clickAction != "" {
		notification["clickAction"] = clickAction
	}
	return json.Marshal(map[string]any{"notification": notification})
}

func newHealthCmd(opts *options) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the agent's lifecycle health over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout := timeouts.ControlRequest
			probe := platformgrpc.ProbeOptions{}
			if wait > 0 {
				timeout = wait
				probe.Wait = true
			}
			ctx, cancel := context.WithTimeout(commandContext(cmd), timeout)
			defer cancel()
			status, err := platformgrpc.Probe(ctx, opts.cfg.GRPCAddr, agentapp.HealthService, probe)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if opts.jsonOutput {
				return writeJSON(cmd, map[string]string{"service": agentapp.HealthService, "status": status})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", agentapp.HealthService, status)
			if status != "SERVING" {
				return fmt.Errorf("%s is %s", agentapp.HealthService, status)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for SERVING")
	return cmd
}
