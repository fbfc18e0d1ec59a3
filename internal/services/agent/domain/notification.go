package domain

import "strings"

// Notification actions understood by the relay.
const (
	ActionOpen    = "open"
	ActionDismiss = "dismiss"
)

// NotificationAction is one button on a displayed notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// PushNotificationSpec is a fully populated notification ready for display.
type PushNotificationSpec struct {
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon"`
	Badge              string               `json:"badge,omitempty"`
	ClickAction        string               `json:"clickAction"`
	Tag                string               `json:"tag"`
	Actions            []NotificationAction `json:"actions"`
	RequireInteraction bool                 `json:"requireInteraction"`
	Data               map[string]any       `json:"data,omitempty"`
}

// IsTelephoneURI reports whether target is a tel: URI.
func IsTelephoneURI(target string) bool {
	target = strings.TrimSpace(target)
	return len(target) > len("tel:") && strings.EqualFold(target[:len("tel:")], "tel:")
}

// IsInAppRoute reports whether target is an absolute in-app path. Protocol
// relative targets ("//host") are rejected.
func IsInAppRoute(target string) bool {
	target = strings.TrimSpace(target)
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//")
}
