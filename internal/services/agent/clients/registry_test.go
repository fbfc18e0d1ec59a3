package clients

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
)

func newTestRegistry(opts ...Option) *Registry {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	next := 0
	r := NewRegistry(append([]Option{WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})}, opts...)...)
	r.newID = func() string {
		next++
		return fmt.Sprintf("client-%d", next)
	}
	return r
}

func decodeMessage(t *testing.T, raw []byte) domain.ClientMessage {
	t.Helper()
	var msg domain.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func TestConnectListDisconnect(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	first := r.Connect("/", false)
	second := r.Connect("/loads", true)

	clients := r.List()
	if len(clients) != 2 || clients[0].ID != first.ID || clients[1].ID != second.ID {
		t.Fatalf("clients = %+v", clients)
	}
	if r.Count() != 2 {
		t.Fatalf("count = %d, want 2", r.Count())
	}

	r.Disconnect(first.ID)
	r.Disconnect(first.ID)
	select {
	case <-first.Done:
	default:
		t.Fatal("expected done channel closed")
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
}

func TestUpdateMovesFocus(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	a := r.Connect("/", true)
	b := r.Connect("/x", false)
	if err := r.Update(b.ID, "/y", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	for _, client := range r.List() {
		if client.ID == a.ID && client.Focused {
			t.Fatal("expected a to lose focus")
		}
		if client.ID == b.ID && (!client.Focused || client.URL != "/y") {
			t.Fatalf("b = %+v", client)
		}
	}
	if err := r.Update("missing", "/", false); !apperrors.HasCode(err, apperrors.CodeClientNotFound) {
		t.Fatalf("err = %v, want client not found", err)
	}
}

func TestClaimAndBroadcast(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	a := r.Connect("/", false)
	b := r.Connect("/", false)

	claimed := r.Claim("titan-fleet-v9")
	for _, client := range claimed {
		if client.Controller != "titan-fleet-v9" {
			t.Fatalf("controller = %q", client.Controller)
		}
	}
	if n := r.Broadcast(domain.NewVersionChanged("titan-fleet-v9")); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	for _, sub := range []Subscription{a, b} {
		var got domain.VersionChanged
		if err := json.Unmarshal(<-sub.Messages, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != "SW_UPDATED" || got.Version != "titan-fleet-v9" {
			t.Fatalf("message = %+v", got)
		}
	}
}

func TestSlowSubscriberDropsMessages(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(WithBuffer(1))
	sub := r.Connect("/", false)
	if n := r.Broadcast(domain.ClientMessage{Type: domain.MessageFocus}); n != 1 {
		t.Fatalf("first delivered = %d, want 1", n)
	}
	if n := r.Broadcast(domain.ClientMessage{Type: domain.MessageFocus}); n != 0 {
		t.Fatalf("second delivered = %d, want 0", n)
	}
	if err := r.PostMessage(sub.ID, domain.ClientMessage{Type: domain.MessageFocus}); err == nil {
		t.Fatal("expected full outbox error")
	}
}

func TestOpenWindowPrefersFocusedClient(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	if _, err := r.OpenWindow("/"); !apperrors.HasCode(err, apperrors.CodeNoClients) {
		t.Fatalf("err = %v, want no clients", err)
	}

	a := r.Connect("/", false)
	b := r.Connect("/", true)
	chosen, err := r.OpenWindow("/loads/1")
	if err != nil {
		t.Fatalf("open window: %v", err)
	}
	if chosen.ID != b.ID {
		t.Fatalf("chosen = %q, want focused %q", chosen.ID, b.ID)
	}
	msg := decodeMessage(t, <-b.Messages)
	if msg.Type != domain.MessageOpenWindow || msg.URL != "/loads/1" {
		t.Fatalf("message = %+v", msg)
	}
	select {
	case raw := <-a.Messages:
		t.Fatalf("unexpected message for a: %s", raw)
	default:
	}
}

func TestFocusSendsMessage(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	a := r.Connect("/", true)
	b := r.Connect("/", false)
	if err := r.Focus(b.ID); err != nil {
		t.Fatalf("focus: %v", err)
	}
	if msg := decodeMessage(t, <-b.Messages); msg.Type != domain.MessageFocus {
		t.Fatalf("message = %+v", msg)
	}
	for _, client := range r.List() {
		if client.ID == a.ID && client.Focused {
			t.Fatal("expected a to lose focus")
		}
	}
}

func TestEventsHandlerStreamsMessages(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	server := httptest.NewServer(r.EventsHandler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"?url=/loads&focused=true", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readData := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				return strings.TrimSpace(data)
			}
		}
	}
	hello := readData()
	if !strings.Contains(hello, "client-1") {
		t.Fatalf("hello = %q", hello)
	}
	clients := r.List()
	if len(clients) != 1 || clients[0].URL != "/loads" || !clients[0].Focused {
		t.Fatalf("clients = %+v", clients)
	}

	r.Broadcast(domain.NewVersionChanged("titan-fleet-v2"))
	if got := readData(); !strings.Contains(got, `"SW_UPDATED"`) {
		t.Fatalf("data = %q", got)
	}
}

func TestCloseAllEndsSubscriptions(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	a := r.Connect("/", false)
	b := r.Connect("/", false)
	r.CloseAll()
	for _, sub := range []Subscription{a, b} {
		select {
		case <-sub.Done:
		default:
			t.Fatalf("subscription %s still open", sub.ID)
		}
	}
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}
	r.Disconnect(a.ID)
}
