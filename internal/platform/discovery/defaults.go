// Package discovery centralizes the default addresses of the agent and the
// origin it fronts.
package discovery

import (
	"strconv"
	"strings"
)

const (
	// ServiceAgent is the fleet agent identity.
	ServiceAgent = "agent"
	// ServiceOrigin is the fleet web application the agent fronts.
	ServiceOrigin = "origin"
	// ServiceJaeger is the jaeger HTTP service identity.
	ServiceJaeger = "jaeger"
)

// defaultHost is where the agent expects its peers: it runs on the same
// device as the application.
const defaultHost = "localhost"

var grpcPorts = map[string]int{
	ServiceAgent: 8089,
}

var httpPorts = map[string]int{
	ServiceAgent:  8080,
	ServiceOrigin: 3000,
	ServiceJaeger: 16686,
}

// DefaultGRPCAddr returns the conventional gRPC address for a service.
func DefaultGRPCAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), grpcPorts)
}

// DefaultHTTPAddr returns the conventional HTTP address for a service.
func DefaultHTTPAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), httpPorts)
}

// OrDefaultGRPCAddr returns value when set, otherwise the service convention.
func OrDefaultGRPCAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}

// OrDefaultHTTPBaseURL returns value when set, otherwise http://<host:port>.
func OrDefaultHTTPBaseURL(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return strings.TrimRight(value, "/")
	}
	addr := DefaultHTTPAddr(service)
	if addr == "" {
		return ""
	}
	return "http://" + addr
}

func defaultAddr(service string, ports map[string]int) string {
	port, ok := ports[service]
	if !ok || port <= 0 {
		return ""
	}
	return defaultHost + ":" + strconv.Itoa(port)
}
