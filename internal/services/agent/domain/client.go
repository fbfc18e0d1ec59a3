package domain

import "time"

// ClientLink is a live connection to a running application instance.
type ClientLink struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Focused     bool      `json:"focused"`
	Controller  string    `json:"controller,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Message types the agent posts to clients.
const (
	MessageVersionChanged = "SW_UPDATED"
	MessageNotification   = "NOTIFICATION"
	MessageFocus          = "FOCUS"
	MessageOpenWindow     = "OPEN_WINDOW"
)

// VersionChanged is broadcast after activation.
type VersionChanged struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// NewVersionChanged builds the activation broadcast for a precache generation.
func NewVersionChanged(generation string) VersionChanged {
	return VersionChanged{Type: MessageVersionChanged, Version: generation}
}

// ClientMessage is a generic typed message to one client.
type ClientMessage struct {
	Type         string                `json:"type"`
	URL          string                `json:"url,omitempty"`
	Notification *PushNotificationSpec `json:"notification,omitempty"`
}
