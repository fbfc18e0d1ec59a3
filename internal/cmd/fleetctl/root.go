// Package fleetctl implements the operator CLI for a running fleet agent.
package fleetctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	entrypoint "github.com/titanfleet/fleet-agent/internal/platform/cmd"
	"github.com/titanfleet/fleet-agent/internal/platform/discovery"
)

// AppName is the CLI binary name.
const AppName = "fleetctl"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// Config holds fleetctl defaults loaded from the environment.
type Config struct {
	AgentURL   string `env:"TITAN_FLEET_CTL_AGENT_URL"`
	GRPCAddr   string `env:"TITAN_FLEET_CTL_GRPC_ADDR"`
	PushSecret string `env:"TITAN_FLEET_AGENT_PUSH_SECRET"`
	PushIssuer string `env:"TITAN_FLEET_AGENT_PUSH_ISSUER" envDefault:"titan-fleet-push"`
}

// options is the state shared by every subcommand.
type options struct {
	cfg        Config
	jsonOutput bool
	httpClient *http.Client
}

func (o *options) client() *controlClient {
	return newControlClient(o.cfg.AgentURL, o.httpClient)
}

// NewRootCmd builds the fleetctl command tree.
func NewRootCmd(version string) *cobra.Command {
	return newRootCmd(version, nil)
}

func newRootCmd(version string, httpClient *http.Client) *cobra.Command {
	opts := &options{httpClient: httpClient}
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Operate a running Titan Fleet agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var cfg Config
			if err := entrypoint.ParseConfig(&cfg); err != nil {
				return err
			}
			if !cmd.Flags().Changed("agent") {
				opts.cfg.AgentURL = cfg.AgentURL
			}
			if !cmd.Flags().Changed("grpc-addr") {
				opts.cfg.GRPCAddr = cfg.GRPCAddr
			}
			opts.cfg.PushSecret = cfg.PushSecret
			opts.cfg.PushIssuer = cfg.PushIssuer
			opts.cfg.AgentURL = discovery.OrDefaultHTTPBaseURL(opts.cfg.AgentURL, discovery.ServiceAgent)
			opts.cfg.GRPCAddr = discovery.OrDefaultGRPCAddr(opts.cfg.GRPCAddr, discovery.ServiceAgent)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return writeCommandError(c, err)
	})

	cmd.PersistentFlags().StringVar(&opts.cfg.AgentURL, "agent", "", "agent base URL (default http://localhost:8080)")
	cmd.PersistentFlags().StringVar(&opts.cfg.GRPCAddr, "grpc-addr", "", "agent health gRPC address (default localhost:8089)")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	cmd.AddCommand(
		newStatusCmd(opts),
		newSkipWaitingCmd(opts),
		newClearCacheCmd(opts),
		newSyncCmd(opts),
		newQueueCmd(opts),
		newEnqueueCmd(opts),
		newPushCmd(opts),
		newHealthCmd(opts),
	)
	return cmd
}

// Execute runs fleetctl with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd(Version).ExecuteContext(ctx)
}

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
	return err
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
