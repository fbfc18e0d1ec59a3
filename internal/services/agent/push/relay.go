package push

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/titanfleet/fleet-agent/internal/platform/keepalive"
	platformotel "github.com/titanfleet/fleet-agent/internal/platform/otel"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
)

// Clients is the part of the client registry notification clicks need.
type Clients interface {
	List() []domain.ClientLink
	Focus(id string) error
	OpenWindow(target string) (domain.ClientLink, error)
}

// ClickOutcome names what a click resolved to.
type ClickOutcome string

const (
	ClickClosed  ClickOutcome = "closed"
	ClickOpened  ClickOutcome = "opened"
	ClickFocused ClickOutcome = "focused"
)

// ClickResult reports how a notification click was handled.
type ClickResult struct {
	Outcome  ClickOutcome `json:"outcome"`
	Target   string       `json:"target,omitempty"`
	ClientID string       `json:"clientId,omitempty"`
}

// Relay displays pushed notifications and routes their clicks.
type Relay struct {
	notifier  Notifier
	clients   Clients
	defaults  func(ctx context.Context) Defaults
	logger    *log.Logger
	keepalive *keepalive.Tracker
	tracer    trace.Tracer
}

// Config wires a Relay.
type Config struct {
	Notifier Notifier
	Clients  Clients
	// Defaults resolves fallback copy, typically localized per request.
	Defaults  func(ctx context.Context) Defaults
	Logger    *log.Logger
	Keepalive *keepalive.Tracker
}

// NewRelay builds a Relay.
func NewRelay(cfg Config) (*Relay, error) {
	if cfg.Notifier == nil {
		return nil, errors.New("push notifier is required")
	}
	if cfg.Clients == nil {
		return nil, errors.New("push clients are required")
	}
	defaults := cfg.Defaults
	if defaults == nil {
		defaults = func(context.Context) Defaults { return DefaultDefaults() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		notifier:  cfg.Notifier,
		clients:   cfg.Clients,
		defaults:  defaults,
		logger:    logger,
		keepalive: cfg.Keepalive,
		tracer:    platformotel.Tracer("push"),
	}, nil
}

// HandlePush decodes raw and displays it. The returned spec is the one shown.
func (r *Relay) HandlePush(ctx context.Context, raw []byte) (domain.PushNotificationSpec, error) {
	release := r.keepalive.Hold("notification")
	defer release()
	spec := Decode(raw, r.defaults(ctx))

	ctx, span := r.tracer.Start(keepalive.Detach(ctx), "push.display", trace.WithAttributes(
		attribute.String("fleet.notification_tag", spec.Tag),
	))
	defer span.End()
	if err := r.notifier.Notify(ctx, spec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "display failed")
		r.logger.Printf("notification display failed tag=%s err=%v", spec.Tag, err)
		return spec, err
	}
	return spec, nil
}

// HandleClick resolves a notification click. Dismiss closes the notification.
// Telephone targets open directly; other targets focus a client already
// showing them or open a new window.
func (r *Relay) HandleClick(ctx context.Context, action string, data map[string]any) (ClickResult, error) {
	if strings.TrimSpace(action) == domain.ActionDismiss {
		return ClickResult{Outcome: ClickClosed}, nil
	}
	fallback := r.defaults(ctx).withFallbacks().ClickAction
	target := fallback
	for _, key := range []string{"clickAction", "click_action", "url"} {
		if value, ok := data[key].(string); ok && strings.TrimSpace(value) != "" {
			target = value
			break
		}
	}
	target = SanitizeClickAction(target, fallback)

	if !domain.IsTelephoneURI(target) {
		for _, client := range r.clients.List() {
			if !clientShows(client.URL, target) {
				continue
			}
			if err := r.clients.Focus(client.ID); err != nil {
				r.logger.Printf("focus client failed id=%s err=%v", client.ID, err)
				break
			}
			return ClickResult{Outcome: ClickFocused, Target: target, ClientID: client.ID}, nil
		}
	}
	opened, err := r.clients.OpenWindow(target)
	if err != nil {
		return ClickResult{Target: target}, err
	}
	return ClickResult{Outcome: ClickOpened, Target: target, ClientID: opened.ID}, nil
}

// clientShows reports whether a client's current URL is target. Client URLs
// may be absolute; targets are in-app routes.
func clientShows(clientURL, target string) bool {
	if clientURL == target {
		return true
	}
	parsed, err := url.Parse(clientURL)
	if err != nil {
		return false
	}
	return parsed.RequestURI() == target
}
