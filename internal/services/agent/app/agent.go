// Package app hosts the agent: it turns HTTP requests, timers, and file
// events into dispatcher calls and owns process startup and shutdown.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"github.com/titanfleet/fleet-agent/internal/platform/keepalive"
	"github.com/titanfleet/fleet-agent/internal/services/agent/clients"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
	"github.com/titanfleet/fleet-agent/internal/services/agent/lifecycle"
	"github.com/titanfleet/fleet-agent/internal/services/agent/manifest"
	"github.com/titanfleet/fleet-agent/internal/services/agent/push"
	"github.com/titanfleet/fleet-agent/internal/services/agent/router"
	"github.com/titanfleet/fleet-agent/internal/services/agent/storage"
	"github.com/titanfleet/fleet-agent/internal/services/agent/syncqueue"
)

// Dispatcher receives every event the host delivers. Each call returns once
// the event is settled.
type Dispatcher interface {
	OnInstall(ctx context.Context, m manifest.Manifest) error
	OnActivate(ctx context.Context) error
	OnFetch(ctx context.Context, r *http.Request) (router.Response, error)
	OnSyncTrigger(ctx context.Context, tag string) (syncqueue.FlushResult, error)
	OnPush(ctx context.Context, payload []byte) (domain.PushNotificationSpec, error)
	OnNotificationClick(ctx context.Context, action string, data map[string]any) (push.ClickResult, error)
	OnMessage(ctx context.Context, command domain.Command) (CommandResult, error)
}

// CommandResult reports the outcome of a control command.
type CommandResult struct {
	Type    domain.CommandType `json:"type"`
	Cleared int                `json:"cleared,omitempty"`
	Status  lifecycle.Status   `json:"status"`
}

// Status is the agent snapshot served to operators.
type Status struct {
	Lifecycle   lifecycle.Status          `json:"lifecycle"`
	Generations []storage.GenerationStats `json:"generations"`
	QueueTag    string                    `json:"queueTag"`
	QueueLength int                       `json:"queueLength"`
	PendingSync []string                  `json:"pendingSync"`
	Clients     []domain.ClientLink       `json:"clients"`
	Keepalive   map[string]int            `json:"keepalive"`
}

// AgentConfig wires an Agent.
type AgentConfig struct {
	Controller *lifecycle.Controller
	Router     *router.Router
	Queue      *syncqueue.Queue
	Relay      *push.Relay
	Clients    *clients.Registry
	Store      storage.CacheStore
	Scheduler  *SyncScheduler
	Keepalive  *keepalive.Tracker
	Logger     *log.Logger
}

// Agent is the Dispatcher backed by the lifecycle controller, router,
// queue, and push relay.
type Agent struct {
	controller *lifecycle.Controller
	router     *router.Router
	queue      *syncqueue.Queue
	relay      *push.Relay
	clients    *clients.Registry
	store      storage.CacheStore
	scheduler  *SyncScheduler
	keepalive  *keepalive.Tracker
	logger     *log.Logger
}

var _ Dispatcher = (*Agent)(nil)

// NewAgent builds an Agent.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	switch {
	case cfg.Controller == nil:
		return nil, errors.New("agent lifecycle controller is required")
	case cfg.Router == nil:
		return nil, errors.New("agent router is required")
	case cfg.Queue == nil:
		return nil, errors.New("agent queue is required")
	case cfg.Relay == nil:
		return nil, errors.New("agent push relay is required")
	case cfg.Clients == nil:
		return nil, errors.New("agent client registry is required")
	case cfg.Store == nil:
		return nil, errors.New("agent store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Agent{
		controller: cfg.Controller,
		router:     cfg.Router,
		queue:      cfg.Queue,
		relay:      cfg.Relay,
		clients:    cfg.Clients,
		store:      cfg.Store,
		scheduler:  cfg.Scheduler,
		keepalive:  cfg.Keepalive,
		logger:     logger,
	}, nil
}

// OnInstall installs m as the next version.
func (a *Agent) OnInstall(ctx context.Context, m manifest.Manifest) error {
	return a.controller.Install(ctx, m)
}

// OnActivate adopts the waiting version. Nothing waiting is not an error.
func (a *Agent) OnActivate(ctx context.Context) error {
	err := a.controller.SkipWaiting(ctx)
	if apperrors.HasCode(err, apperrors.CodeNothingWaiting) {
		return nil
	}
	return err
}

// OnFetch routes an intercepted request.
func (a *Agent) OnFetch(ctx context.Context, r *http.Request) (router.Response, error) {
	return a.router.Route(ctx, r)
}

// OnSyncTrigger flushes the queue for tag.
func (a *Agent) OnSyncTrigger(ctx context.Context, tag string) (syncqueue.FlushResult, error) {
	return a.queue.HandleTrigger(ctx, tag)
}

// OnPush displays a pushed notification.
func (a *Agent) OnPush(ctx context.Context, payload []byte) (domain.PushNotificationSpec, error) {
	return a.relay.HandlePush(ctx, payload)
}

// OnNotificationClick routes a notification click.
func (a *Agent) OnNotificationClick(ctx context.Context, action string, data map[string]any) (push.ClickResult, error) {
	return a.relay.HandleClick(ctx, action, data)
}

// OnMessage applies a control command.
func (a *Agent) OnMessage(ctx context.Context, command domain.Command) (CommandResult, error) {
	commandType, err := domain.ParseCommandType(string(command.Type))
	if err != nil {
		return CommandResult{}, apperrors.Wrap(apperrors.CodeInvalidCommand, "unknown control command", err)
	}
	result := CommandResult{Type: commandType}
	switch commandType {
	case domain.CommandSkipWaiting:
		if err := a.controller.SkipWaiting(ctx); err != nil {
			return result, err
		}
	case domain.CommandClearCache:
		cleared, err := a.controller.ClearAll(ctx)
		result.Cleared = cleared
		if err != nil {
			return result, err
		}
		a.logger.Printf("caches cleared generations=%d", cleared)
	}
	result.Status = a.controller.Status()
	return result, nil
}

// Enqueue stores a location record and registers the flush tag.
func (a *Agent) Enqueue(ctx context.Context, record domain.LocationRecord) (int, error) {
	return a.queue.Enqueue(ctx, record)
}

// Pending returns the queued location records.
func (a *Agent) Pending(ctx context.Context) []domain.LocationRecord {
	return a.queue.Pending(ctx)
}

// Status reports the agent's state.
func (a *Agent) Status(ctx context.Context) Status {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		a.logger.Printf("generation stats failed err=%v", err)
	}
	if stats == nil {
		stats = []storage.GenerationStats{}
	}
	pending := []string{}
	if a.scheduler != nil {
		pending = a.scheduler.Pending()
	}
	return Status{
		Lifecycle:   a.controller.Status(),
		Generations: stats,
		QueueTag:    a.queue.Tag(),
		QueueLength: a.queue.Len(ctx),
		PendingSync: pending,
		Clients:     a.clients.List(),
		Keepalive:   a.keepalive.Outstanding(),
	}
}
