// Package timeouts defines shared timeout constants used by the agent host.
//
// Intercepted fetches deliberately carry no timeout of their own; they rely on
// the upstream transport's dial and handshake limits below.
package timeouts

import "time"

// ReadHeader limits how long the agent HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the agent waits for in-flight requests and
// keepalive leases during graceful shutdown.
const Shutdown = 10 * time.Second

// TransportDial caps TCP connection setup to the upstream origin.
const TransportDial = 5 * time.Second

// TransportTLSHandshake caps the TLS handshake with the upstream origin.
const TransportTLSHandshake = 5 * time.Second

// SyncProbe caps the connectivity probe issued before a sync trigger fires.
const SyncProbe = 3 * time.Second

// ControlRequest caps fleetctl calls against the agent control routes.
const ControlRequest = 15 * time.Second
