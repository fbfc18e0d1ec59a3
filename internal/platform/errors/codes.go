// Package errors provides coded errors for the agent and their HTTP mapping.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Lifecycle errors
	CodeInstallAborted     Code = "INSTALL_ABORTED"
	CodeNothingWaiting     Code = "NOTHING_WAITING"
	CodeInvalidManifest    Code = "INVALID_MANIFEST"
	CodeGenerationNotFound Code = "GENERATION_NOT_FOUND"

	// Fetch errors
	CodeNetworkUnavailable Code = "NETWORK_UNAVAILABLE"
	CodeNotIntercepted     Code = "NOT_INTERCEPTED"

	// Queue errors
	CodeInvalidLocation  Code = "INVALID_LOCATION"
	CodeQueueUnavailable Code = "QUEUE_UNAVAILABLE"
	CodeFlushRejected    Code = "FLUSH_REJECTED"

	// Push and client errors
	CodeInvalidPushToken Code = "INVALID_PUSH_TOKEN"
	CodeNoClients        Code = "NO_CLIENTS"
	CodeClientNotFound   Code = "CLIENT_NOT_FOUND"

	// Control channel errors
	CodeInvalidCommand Code = "INVALID_COMMAND"
	CodeInvalidRequest Code = "INVALID_REQUEST"
)

// HTTPStatus maps the code to the status written by the agent host.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidManifest,
		CodeInvalidLocation,
		CodeInvalidCommand,
		CodeInvalidRequest:
		return http.StatusBadRequest

	case CodeInvalidPushToken:
		return http.StatusUnauthorized

	case CodeGenerationNotFound,
		CodeClientNotFound,
		CodeNotIntercepted:
		return http.StatusNotFound

	case CodeNothingWaiting:
		return http.StatusConflict

	case CodeNetworkUnavailable,
		CodeFlushRejected:
		return http.StatusBadGateway

	case CodeInstallAborted,
		CodeQueueUnavailable,
		CodeNoClients:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
