// Package clients tracks the running application instances connected to the
// agent and delivers messages to them.
package clients

import (
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
)

const defaultBuffer = 16

// Registry holds the live client links.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*link
	buffer  int
	logger  *log.Logger
	now     func() time.Time
	newID   func() string
}

type link struct {
	info    domain.ClientLink
	outbox  chan []byte
	closed  chan struct{}
	dropped int
}

// Option configures a Registry.
type Option func(*Registry)

// WithBuffer sets the per-client outbox size.
func WithBuffer(size int) Option {
	return func(r *Registry) {
		if size > 0 {
			r.buffer = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the clock used for connection times.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry builds an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clients: map[string]*link{},
		buffer:  defaultBuffer,
		logger:  log.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscription is one connected client's message stream.
type Subscription struct {
	ID       string
	Messages <-chan []byte
	Done     <-chan struct{}
}

// Connect registers a client currently showing url.
func (r *Registry) Connect(url string, focused bool) Subscription {
	l := &link{
		info: domain.ClientLink{
			ID:          r.newID(),
			URL:         url,
			Focused:     focused,
			ConnectedAt: r.now(),
		},
		outbox: make(chan []byte, r.buffer),
		closed: make(chan struct{}),
	}
	r.mu.Lock()
	if focused {
		r.blurLocked()
	}
	r.clients[l.info.ID] = l
	r.mu.Unlock()
	return Subscription{ID: l.info.ID, Messages: l.outbox, Done: l.closed}
}

// Disconnect removes a client. Unknown ids are ignored.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	l, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
		close(l.closed)
	}
	r.mu.Unlock()
}

// Update records a client's reported location and focus.
func (r *Registry) Update(id, url string, focused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.clients[id]
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeClientNotFound, "client not found", map[string]string{"ClientID": id})
	}
	if url != "" {
		l.info.URL = url
	}
	if focused && !l.info.Focused {
		r.blurLocked()
	}
	l.info.Focused = focused
	return nil
}

func (r *Registry) blurLocked() {
	for _, other := range r.clients {
		other.info.Focused = false
	}
}

// List returns connected clients, oldest first.
func (r *Registry) List() []domain.ClientLink {
	r.mu.RLock()
	out := make([]domain.ClientLink, 0, len(r.clients))
	for _, l := range r.clients {
		out = append(out, l.info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Count reports the number of connected clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Claim makes controller the controlling generation of every client.
func (r *Registry) Claim(controller string) []domain.ClientLink {
	r.mu.Lock()
	for _, l := range r.clients {
		l.info.Controller = controller
	}
	r.mu.Unlock()
	return r.List()
}

// Broadcast posts message to every client and returns how many received it.
func (r *Registry) Broadcast(message any) int {
	payload, err := json.Marshal(message)
	if err != nil {
		r.logger.Printf("client broadcast encode failed err=%v", err)
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delivered := 0
	for _, l := range r.clients {
		if r.sendLocked(l, payload) {
			delivered++
		}
	}
	return delivered
}

// PostMessage posts message to one client.
func (r *Registry) PostMessage(id string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.clients[id]
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeClientNotFound, "client not found", map[string]string{"ClientID": id})
	}
	if !r.sendLocked(l, payload) {
		return errors.New("client outbox full")
	}
	return nil
}

// sendLocked never blocks; a full outbox drops the message.
func (r *Registry) sendLocked(l *link, payload []byte) bool {
	select {
	case l.outbox <- payload:
		return true
	default:
		l.dropped++
		r.logger.Printf("client message dropped id=%s dropped=%d", l.info.ID, l.dropped)
		return false
	}
}

// Focus asks a client to bring itself to the foreground.
func (r *Registry) Focus(id string) error {
	if err := r.PostMessage(id, domain.ClientMessage{Type: domain.MessageFocus}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.clients[id]; ok {
		r.blurLocked()
		l.info.Focused = true
	}
	return nil
}

// OpenWindow asks the focused client, or the oldest one, to open target.
func (r *Registry) OpenWindow(target string) (domain.ClientLink, error) {
	clients := r.List()
	if len(clients) == 0 {
		return domain.ClientLink{}, apperrors.New(apperrors.CodeNoClients, "no clients connected")
	}
	chosen := clients[0]
	for _, client := range clients {
		if client.Focused {
			chosen = client
			break
		}
	}
	if err := r.PostMessage(chosen.ID, domain.ClientMessage{Type: domain.MessageOpenWindow, URL: target}); err != nil {
		return domain.ClientLink{}, err
	}
	return chosen, nil
}

// CloseAll disconnects every client.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	for id, l := range r.clients {
		delete(r.clients, id)
		close(l.closed)
	}
	r.mu.Unlock()
}
