package push

import (
	"testing"

	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
)

func TestDecodeEmptyPayloadUsesDefaults(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "{}", "null", "   "} {
		spec := Decode([]byte(raw), Defaults{})
		if spec.Title != "Titan Fleet" {
			t.Fatalf("title(%q) = %q, want %q", raw, spec.Title, "Titan Fleet")
		}
		if spec.Body != DefaultBody {
			t.Fatalf("body(%q) = %q, want %q", raw, spec.Body, DefaultBody)
		}
		if spec.Icon != "/icons/icon-192x192.png" {
			t.Fatalf("icon(%q) = %q", raw, spec.Icon)
		}
		if spec.Tag != DefaultTag {
			t.Fatalf("tag(%q) = %q", raw, spec.Tag)
		}
		if spec.ClickAction != "/" {
			t.Fatalf("click action(%q) = %q, want /", raw, spec.ClickAction)
		}
		if len(spec.Actions) != 2 || spec.Actions[0].Action != domain.ActionOpen || spec.Actions[1].Action != domain.ActionDismiss {
			t.Fatalf("actions(%q) = %+v, want open and dismiss", raw, spec.Actions)
		}
		if spec.Data["clickAction"] != "/" {
			t.Fatalf("data clickAction(%q) = %v", raw, spec.Data["clickAction"])
		}
	}
}

func TestDecodeNestedNotificationTakesPrecedence(t *testing.T) {
	t.Parallel()

	raw := `{
		"title": "Top",
		"body": "Top body",
		"tag": "top-tag",
		"data": {"url": "/trips/1", "trip": "1"},
		"notification": {
			"title": "New load",
			"click_action": "/loads/42",
			"requireInteraction": true,
			"data": {"trip": "2"}
		}
	}`
	spec := Decode([]byte(raw), DefaultDefaults())
	if spec.Title != "New load" {
		t.Fatalf("title = %q, want %q", spec.Title, "New load")
	}
	if spec.Body != "Top body" {
		t.Fatalf("body = %q, want %q", spec.Body, "Top body")
	}
	if spec.Tag != "top-tag" {
		t.Fatalf("tag = %q, want %q", spec.Tag, "top-tag")
	}
	if !spec.RequireInteraction {
		t.Fatal("expected require interaction")
	}
	if spec.ClickAction != "/loads/42" {
		t.Fatalf("click action = %q, want %q", spec.ClickAction, "/loads/42")
	}
	if spec.Data["trip"] != "2" {
		t.Fatalf("data trip = %v, want nested value", spec.Data["trip"])
	}
	if spec.Data["url"] != "/trips/1" {
		t.Fatalf("data url = %v", spec.Data["url"])
	}
}

func TestDecodeClickActionFallsBackToDataURL(t *testing.T) {
	t.Parallel()

	spec := Decode([]byte(`{"data":{"url":"tel:+15551234567"}}`), DefaultDefaults())
	if spec.ClickAction != "tel:+15551234567" {
		t.Fatalf("click action = %q", spec.ClickAction)
	}
}

func TestDecodeRejectsExternalClickAction(t *testing.T) {
	t.Parallel()

	tests := []string{
		`{"clickAction":"https://evil.example/"}`,
		`{"clickAction":"//evil.example/"}`,
		`{"clickAction":"javascript:alert(1)"}`,
		`{"clickAction":"tel:"}`,
	}
	for _, raw := range tests {
		spec := Decode([]byte(raw), DefaultDefaults())
		if spec.ClickAction != "/" {
			t.Fatalf("click action(%s) = %q, want /", raw, spec.ClickAction)
		}
	}
}

func TestDecodeNonJSONBecomesBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "Dispatch needs you", want: "Dispatch needs you"},
		{raw: `"quoted text"`, want: "quoted text"},
		{raw: `[1,2]`, want: "[1,2]"},
		{raw: `42`, want: "42"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()
			spec := Decode([]byte(tc.raw), DefaultDefaults())
			if spec.Body != tc.want {
				t.Fatalf("body = %q, want %q", spec.Body, tc.want)
			}
			if spec.Title != "Titan Fleet" {
				t.Fatalf("title = %q", spec.Title)
			}
		})
	}
}

func TestDecodeCustomActions(t *testing.T) {
	t.Parallel()

	raw := `{"actions":[{"action":"accept","title":"Accept"},{"title":"missing action"},{"action":"call"}]}`
	spec := Decode([]byte(raw), DefaultDefaults())
	if len(spec.Actions) != 2 {
		t.Fatalf("actions = %+v, want 2", spec.Actions)
	}
	if spec.Actions[1].Title != "call" {
		t.Fatalf("title = %q, want action name fallback", spec.Actions[1].Title)
	}
}

func TestDecodeLocalizedDefaults(t *testing.T) {
	t.Parallel()

	spec := Decode(nil, Defaults{Body: "Nova atualização", OpenTitle: "Abrir", DismissTitle: "Dispensar"})
	if spec.Body != "Nova atualização" {
		t.Fatalf("body = %q", spec.Body)
	}
	if spec.Actions[0].Title != "Abrir" || spec.Actions[1].Title != "Dispensar" {
		t.Fatalf("actions = %+v", spec.Actions)
	}
	if spec.Title != "Titan Fleet" {
		t.Fatalf("title = %q", spec.Title)
	}
}
