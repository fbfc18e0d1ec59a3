// Package push decodes server push payloads into notifications and routes
// notification clicks back to application instances.
package push

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/titanfleet/fleet-agent/internal/platform/branding"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
)

// Fallback values for fields a payload omits.
const (
	DefaultTag         = "titan-fleet-notification"
	DefaultClickAction = "/"
	DefaultBody        = "You have a new fleet update."
)

// Defaults are the values used when a payload omits a field.
type Defaults struct {
	Title        string
	Body         string
	Icon         string
	Tag          string
	ClickAction  string
	OpenTitle    string
	DismissTitle string
}

// DefaultDefaults returns the untranslated defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Title:        branding.AppName,
		Body:         DefaultBody,
		Icon:         branding.DefaultIcon,
		Tag:          DefaultTag,
		ClickAction:  DefaultClickAction,
		OpenTitle:    "Open",
		DismissTitle: "Dismiss",
	}
}

func (d Defaults) withFallbacks() Defaults {
	base := DefaultDefaults()
	if d.Title == "" {
		d.Title = base.Title
	}
	if d.Body == "" {
		d.Body = base.Body
	}
	if d.Icon == "" {
		d.Icon = base.Icon
	}
	if d.Tag == "" {
		d.Tag = base.Tag
	}
	if d.ClickAction == "" {
		d.ClickAction = base.ClickAction
	}
	if d.OpenTitle == "" {
		d.OpenTitle = base.OpenTitle
	}
	if d.DismissTitle == "" {
		d.DismissTitle = base.DismissTitle
	}
	return d
}

// payload is a loosely typed push body with the nested notification object
// taking precedence over top-level fields.
type payload struct {
	top    map[string]any
	nested map[string]any
}

// Decode builds a fully populated notification from raw push bytes. It never
// fails: an absent payload is an empty object and a payload that is not a
// JSON object becomes the body text.
func Decode(raw []byte, defaults Defaults) domain.PushNotificationSpec {
	defaults = defaults.withFallbacks()
	p := parsePayload(raw, &defaults)

	spec := domain.PushNotificationSpec{
		Title:              p.stringField("title", defaults.Title),
		Body:               p.stringField("body", defaults.Body),
		Icon:               p.stringField("icon", defaults.Icon),
		Badge:              p.stringField("badge", ""),
		Tag:                p.stringField("tag", defaults.Tag),
		RequireInteraction: p.boolField("requireInteraction", false),
		Actions:            p.actions(defaults),
		Data:               p.data(),
	}
	spec.ClickAction = SanitizeClickAction(p.clickAction(spec.Data), defaults.ClickAction)
	spec.Data["clickAction"] = spec.ClickAction
	return spec
}

func parsePayload(raw []byte, defaults *Defaults) payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return payload{top: map[string]any{}}
	}
	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		defaults.Body = string(trimmed)
		return payload{top: map[string]any{}}
	}
	switch value := decoded.(type) {
	case map[string]any:
		p := payload{top: value}
		if nested, ok := value["notification"].(map[string]any); ok {
			p.nested = nested
		}
		return p
	case string:
		if strings.TrimSpace(value) != "" {
			defaults.Body = value
		}
	case nil:
	default:
		defaults.Body = string(trimmed)
	}
	return payload{top: map[string]any{}}
}

func (p payload) lookup(name string) (any, bool) {
	if value, ok := p.nested[name]; ok && value != nil {
		return value, true
	}
	if value, ok := p.top[name]; ok && value != nil {
		return value, true
	}
	return nil, false
}

func (p payload) stringField(name, fallback string) string {
	for _, source := range []map[string]any{p.nested, p.top} {
		if value, ok := source[name].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return fallback
}

func (p payload) boolField(name string, fallback bool) bool {
	value, ok := p.lookup(name)
	if !ok {
		return fallback
	}
	flag, ok := value.(bool)
	if !ok {
		return fallback
	}
	return flag
}

func (p payload) data() map[string]any {
	out := map[string]any{}
	for _, source := range []map[string]any{p.top, p.nested} {
		if data, ok := source["data"].(map[string]any); ok {
			for key, value := range data {
				out[key] = value
			}
		}
	}
	return out
}

func (p payload) clickAction(data map[string]any) string {
	for _, source := range []map[string]any{p.nested, p.top} {
		for _, name := range []string{"clickAction", "click_action"} {
			if value, ok := source[name].(string); ok && strings.TrimSpace(value) != "" {
				return value
			}
		}
	}
	if value, ok := data["url"].(string); ok {
		return value
	}
	return ""
}

func (p payload) actions(defaults Defaults) []domain.NotificationAction {
	value, _ := p.lookup("actions")
	items, _ := value.([]any)
	actions := make([]domain.NotificationAction, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		action, _ := fields["action"].(string)
		action = strings.TrimSpace(action)
		if action == "" {
			continue
		}
		title, _ := fields["title"].(string)
		if strings.TrimSpace(title) == "" {
			title = action
		}
		icon, _ := fields["icon"].(string)
		actions = append(actions, domain.NotificationAction{Action: action, Title: title, Icon: icon})
	}
	if len(actions) == 0 {
		return []domain.NotificationAction{
			{Action: domain.ActionOpen, Title: defaults.OpenTitle},
			{Action: domain.ActionDismiss, Title: defaults.DismissTitle},
		}
	}
	return actions
}

// SanitizeClickAction keeps telephone URIs and in-app routes, replacing
// anything else with fallback.
func SanitizeClickAction(target, fallback string) string {
	target = strings.TrimSpace(target)
	if domain.IsTelephoneURI(target) || domain.IsInAppRoute(target) {
		return target
	}
	if fallback == "" {
		return DefaultClickAction
	}
	return fallback
}
