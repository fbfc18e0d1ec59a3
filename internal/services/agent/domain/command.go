package domain

import (
	"fmt"
	"strings"
)

// CommandType names a control message from the application.
type CommandType string

const (
	// CommandSkipWaiting adopts a waiting version immediately.
	CommandSkipWaiting CommandType = "SKIP_WAITING"
	// CommandClearCache deletes every generation of every kind.
	CommandClearCache CommandType = "CLEAR_CACHE"
)

// Command is a control message.
type Command struct {
	Type CommandType `json:"type"`
}

// ParseCommandType normalizes and validates a command type.
func ParseCommandType(raw string) (CommandType, error) {
	switch value := CommandType(strings.ToUpper(strings.TrimSpace(raw))); value {
	case CommandSkipWaiting, CommandClearCache:
		return value, nil
	default:
		return "", fmt.Errorf("unknown command type %q", raw)
	}
}
