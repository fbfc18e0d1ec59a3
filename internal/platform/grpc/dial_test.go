package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestProbeReportsStatus(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	defer stop()

	status, err := Probe(context.Background(), addr, testService, ProbeOptions{})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if status != "SERVING" {
		t.Fatalf("status = %q, want SERVING", status)
	}
}

func TestProbeWaitTimesOut(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := Probe(ctx, addr, testService, ProbeOptions{Wait: true})
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) || probeErr.Stage != ProbeStageHealth {
		t.Fatalf("err = %v, want health stage error", err)
	}
}

func TestProbeErrorStages(t *testing.T) {
	t.Run("missing address", func(t *testing.T) {
		_, err := Probe(context.Background(), " ", testService, ProbeOptions{})
		var probeErr *ProbeError
		if !errors.As(err, &probeErr) || probeErr.Stage != ProbeStageConnect {
			t.Fatalf("err = %v, want connect stage error", err)
		}
	})

	t.Run("dial", func(t *testing.T) {
		dialer := DialerFunc(func(string, ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
			return nil, fmt.Errorf("dial failure")
		})
		_, err := Probe(context.Background(), "unused:1", testService, ProbeOptions{Dialer: dialer})
		var probeErr *ProbeError
		if !errors.As(err, &probeErr) || probeErr.Stage != ProbeStageConnect {
			t.Fatalf("err = %v, want connect stage error", err)
		}
		if probeErr.Error() != "gRPC connect error: dial failure" {
			t.Fatalf("message = %q", probeErr.Error())
		}
	})

	t.Run("nil error value", func(t *testing.T) {
		var probeErr *ProbeError
		if probeErr.Error() != "gRPC probe error" || probeErr.Unwrap() != nil {
			t.Fatal("expected nil-safe methods")
		}
	})
}
