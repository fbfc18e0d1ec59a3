package grpc

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dialer creates client connections.
type Dialer interface {
	Dial(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)

// Dial implements Dialer for DialerFunc.
func (fn DialerFunc) Dial(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	return fn(addr, opts...)
}

// ProbeStage describes where a health probe failed.
type ProbeStage string

const (
	// ProbeStageConnect indicates the client could not be created.
	ProbeStageConnect ProbeStage = "connect"
	// ProbeStageHealth indicates the health check failed.
	ProbeStageHealth ProbeStage = "health"
)

// ProbeError wraps probe failures with a stage indicator.
type ProbeError struct {
	Stage ProbeStage
	Err   error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e == nil {
		return "gRPC probe error"
	}
	return fmt.Sprintf("gRPC %s error: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DefaultClientDialOptions returns plaintext dial options with OTel client
// instrumentation.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// ProbeOptions controls one health probe.
type ProbeOptions struct {
	Dialer Dialer
	// Wait keeps polling until the service serves or ctx ends.
	Wait bool
	Logf func(string, ...any)
}

// Probe reports service's serving status at addr.
func Probe(ctx context.Context, addr, service string, opts ProbeOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", &ProbeError{Stage: ProbeStageConnect, Err: fmt.Errorf("address is required")}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = DialerFunc(gogrpc.NewClient)
	}
	conn, err := dialer.Dial(addr, DefaultClientDialOptions()...)
	if err != nil {
		return "", &ProbeError{Stage: ProbeStageConnect, Err: err}
	}
	defer conn.Close()

	if opts.Wait {
		if err := WaitForHealth(ctx, conn, service, opts.Logf); err != nil {
			return "", &ProbeError{Stage: ProbeStageHealth, Err: err}
		}
		return "SERVING", nil
	}
	status, err := CheckHealth(ctx, conn, service)
	if err != nil {
		return "", &ProbeError{Stage: ProbeStageHealth, Err: err}
	}
	return status.String(), nil
}
