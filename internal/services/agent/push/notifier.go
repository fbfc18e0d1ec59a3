package push

import (
	"context"
	"errors"
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
)

// Notifier displays a notification.
type Notifier interface {
	Notify(ctx context.Context, spec domain.PushNotificationSpec) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, spec domain.PushNotificationSpec) error

// Notify implements Notifier.
func (fn NotifierFunc) Notify(ctx context.Context, spec domain.PushNotificationSpec) error {
	return fn(ctx, spec)
}

// Broadcaster posts a message to every connected client.
type Broadcaster interface {
	Broadcast(message any) int
}

// BroadcastNotifier shows notifications inside running application instances.
type BroadcastNotifier struct {
	Clients Broadcaster
}

// Notify sends a NOTIFICATION message to every client.
func (n BroadcastNotifier) Notify(_ context.Context, spec domain.PushNotificationSpec) error {
	if n.Clients == nil {
		return errors.New("broadcast notifier has no clients")
	}
	n.Clients.Broadcast(domain.ClientMessage{Type: domain.MessageNotification, Notification: &spec})
	return nil
}

// DesktopNotifier shows an operating-system notification on the host.
type DesktopNotifier struct {
	// IconPath is a local image file; in-app icon URLs cannot be shown.
	IconPath string
	notify   func(title, message, icon string) error
}

// NewDesktopNotifier builds a DesktopNotifier backed by beeep.
func NewDesktopNotifier(iconPath string) *DesktopNotifier {
	return &DesktopNotifier{IconPath: strings.TrimSpace(iconPath), notify: beeepNotify}
}

// Notify displays spec's title and body.
func (n *DesktopNotifier) Notify(_ context.Context, spec domain.PushNotificationSpec) error {
	notify := n.notify
	if notify == nil {
		notify = beeepNotify
	}
	return notify(spec.Title, truncate(spec.Body, 200), n.IconPath)
}

func beeepNotify(title, message, icon string) error {
	return beeep.Notify(title, message, icon)
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}

// MultiNotifier fans a notification out to every notifier and joins their errors.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, spec domain.PushNotificationSpec) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
