package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/titanfleet/fleet-agent/internal/platform/keepalive"
	"github.com/titanfleet/fleet-agent/internal/platform/requestctx"
	"github.com/titanfleet/fleet-agent/internal/platform/timeouts"
	"github.com/titanfleet/fleet-agent/internal/services/agent/clients"
	"github.com/titanfleet/fleet-agent/internal/services/agent/lifecycle"
	"github.com/titanfleet/fleet-agent/internal/services/agent/manifest"
	"github.com/titanfleet/fleet-agent/internal/services/agent/push"
	"github.com/titanfleet/fleet-agent/internal/services/agent/render"
	"github.com/titanfleet/fleet-agent/internal/services/agent/router"
	agentsqlite "github.com/titanfleet/fleet-agent/internal/services/agent/storage/sqlite"
	"github.com/titanfleet/fleet-agent/internal/services/agent/syncqueue"
)

// HealthService is the gRPC health service that serves while a version is active.
const HealthService = "agent.lifecycle"

// RuntimeConfig controls agent startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	HTTPAddr       string
	GRPCPort       int
	UpstreamURL    string
	DBPath         string
	ManifestPath   string
	CachePrefix    string
	APIPrefixes    []string
	StaticPatterns []string
	AppName        string

	TelemetryEndpoint string
	TelemetryToken    string
	SyncInterval      time.Duration

	PushSecret string
	PushIssuer string

	DesktopNotifications bool
	DesktopIcon          string

	Logger *log.Logger
}

const (
	defaultHTTPAddr = ":8080"
	defaultGRPCPort = 8089
	defaultAgentDB  = "data/agent.db"
)

// Run starts the agent and serves until ctx ends. Shutdown waits for
// keepalive leases before closing the store.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.UpstreamURL) == "" {
		return fmt.Errorf("upstream url is required")
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.GRPCPort <= 0 {
		cfg.GRPCPort = defaultGRPCPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultAgentDB
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create agent storage dir: %w", err)
		}
	}
	store, err := agentsqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open agent sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Printf("close agent sqlite store: %v", closeErr)
		}
	}()

	current, err := loadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}
	parts, err := assemble(cfg, store, logger)
	if err != nil {
		return err
	}
	if err := bootstrap(ctx, parts.controller, parts.agent, current, logger); err != nil {
		return err
	}
	if parts.queue.Len(ctx) > 0 {
		parts.scheduler.Register(parts.queue.Tag())
	}
	server, err := NewServer(cfg.HTTPAddr, parts.handler, logger)
	if err != nil {
		return fmt.Errorf("init agent server: %w", err)
	}
	server.OnShutdown(parts.registry.CloseAll)

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on agent http addr %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on agent grpc port %d: %w", cfg.GRPCPort, err)
	}
	defer grpcListener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpc_health_v1.RegisterHealthServer(grpcServer, parts.health)
	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- grpcServer.Serve(grpcListener)
	}()
	defer func() {
		parts.health.Shutdown()
		grpcServer.GracefulStop()
		<-grpcErr
	}()
	logger.Printf("agent health server listening at %v", grpcListener.Addr())

	loopCtx, stopLoops := context.WithCancel(ctx)
	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		if err := parts.scheduler.Run(loopCtx); err != nil {
			logger.Printf("sync scheduler stopped: %v", err)
		}
	}()
	if strings.TrimSpace(cfg.ManifestPath) != "" {
		watcher := manifest.NewWatcher(cfg.ManifestPath, current.Version, parts.agent.OnInstall, manifest.WithLogger(logger))
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := watcher.Run(loopCtx); err != nil {
				logger.Printf("manifest watcher stopped: %v", err)
			}
		}()
	}

	serveErr := server.Serve(ctx, httpListener)
	stopLoops()
	loops.Wait()

	waitCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := parts.tracker.Wait(waitCtx); err != nil {
		logger.Printf("shutdown with outstanding work leases=%v err=%v", parts.tracker.Outstanding(), err)
	}
	return serveErr
}

// components is the wired agent, ready to serve.
type components struct {
	agent      *Agent
	controller *lifecycle.Controller
	queue      *syncqueue.Queue
	registry   *clients.Registry
	scheduler  *SyncScheduler
	tracker    *keepalive.Tracker
	health     *health.Server
	handler    http.Handler
}

func assemble(cfg RuntimeConfig, store *agentsqlite.Store, logger *log.Logger) (*components, error) {
	upstream, err := router.NewUpstream(cfg.UpstreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("configure upstream: %w", err)
	}
	registry := clients.NewRegistry(clients.WithLogger(logger))
	tracker := &keepalive.Tracker{}
	renderer := render.New(cfg.AppName)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	controller, err := lifecycle.New(lifecycle.Config{
		Store:     store,
		Fetcher:   upstream,
		Clients:   registry,
		Prefix:    cfg.CachePrefix,
		Logger:    logger,
		Keepalive: tracker,
		Observer: func(status lifecycle.Status) {
			healthServer.SetServingStatus(HealthService, lifecycleServingStatus(status))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init lifecycle controller: %w", err)
	}

	classifier, err := router.NewClassifier(cfg.APIPrefixes, cfg.StaticPatterns)
	if err != nil {
		return nil, fmt.Errorf("init request classifier: %w", err)
	}
	requestRouter, err := router.New(router.Config{
		Classifier:  classifier,
		Network:     upstream,
		Store:       store,
		Generations: controller,
		Offline:     renderer,
		OfflinePath: manifest.OfflinePath,
		Prefix:      cfg.CachePrefix,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init request router: %w", err)
	}

	telemetry, err := syncqueue.NewClient(upstream.BaseURL().String(), cfg.TelemetryEndpoint, cfg.TelemetryToken, upstream.Client())
	if err != nil {
		return nil, fmt.Errorf("init telemetry client: %w", err)
	}
	var agent *Agent
	scheduler, err := NewSyncScheduler(SchedulerConfig{
		Probe: upstream.Probe,
		Trigger: func(ctx context.Context, tag string) error {
			_, err := agent.OnSyncTrigger(ctx, tag)
			return err
		},
		Interval: cfg.SyncInterval,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init sync scheduler: %w", err)
	}
	queue, err := syncqueue.New(syncqueue.Config{
		Store:     store,
		Submitter: telemetry,
		Logger:    logger,
		Keepalive: tracker,
		OnEnqueue: scheduler.Register,
	})
	if err != nil {
		return nil, fmt.Errorf("init offline queue: %w", err)
	}

	notifiers := push.MultiNotifier{push.BroadcastNotifier{Clients: registry}}
	if cfg.DesktopNotifications {
		notifiers = append(notifiers, push.NewDesktopNotifier(cfg.DesktopIcon))
	}
	relay, err := push.NewRelay(push.Config{
		Notifier:  notifiers,
		Clients:   registry,
		Defaults:  notificationDefaults(renderer),
		Logger:    logger,
		Keepalive: tracker,
	})
	if err != nil {
		return nil, fmt.Errorf("init push relay: %w", err)
	}

	agent, err = NewAgent(AgentConfig{
		Controller: controller,
		Router:     requestRouter,
		Queue:      queue,
		Relay:      relay,
		Clients:    registry,
		Store:      store,
		Scheduler:  scheduler,
		Keepalive:  tracker,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init agent: %w", err)
	}

	handler, err := NewHandler(HandlerConfig{
		Host:      agent,
		Proxy:     upstream.Proxy(logger),
		Clients:   registry,
		Scheduler: scheduler,
		PushAuth:  push.TokenConfig{Secret: []byte(cfg.PushSecret), Issuer: cfg.PushIssuer},
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init agent handler: %w", err)
	}
	return &components{
		agent:      agent,
		controller: controller,
		queue:      queue,
		registry:   registry,
		scheduler:  scheduler,
		tracker:    tracker,
		health:     healthServer,
		handler:    handler,
	}, nil
}

func loadManifest(path string) (manifest.Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return manifest.Default(), nil
	}
	m, err := manifest.Load(path)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("load manifest: %w", err)
	}
	return m, nil
}

// bootstrap restores the persisted version and installs current when it is
// newer. A failed install leaves the agent serving the previous version.
func bootstrap(ctx context.Context, controller *lifecycle.Controller, dispatcher Dispatcher, current manifest.Manifest, logger *log.Logger) error {
	restored, err := controller.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore lifecycle: %w", err)
	}
	if restored && controller.Status().ActiveVersion >= current.Version {
		return nil
	}
	if err := dispatcher.OnInstall(ctx, current); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		logger.Printf("install failed version=%d err=%v", current.Version, err)
	}
	return nil
}

func lifecycleServingStatus(status lifecycle.Status) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if status.ActiveVersion > 0 {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

// notificationDefaults resolves notification copy in the request's language.
func notificationDefaults(renderer *render.Renderer) func(ctx context.Context) push.Defaults {
	return func(ctx context.Context) push.Defaults {
		tag, ok := requestctx.LanguageFromContext(ctx)
		if !ok {
			tag = render.MatchLanguage("")
		}
		text := renderer.NotificationDefaults(tag)
		defaults := push.DefaultDefaults()
		defaults.Title = text.Title
		defaults.Body = text.Body
		defaults.OpenTitle = text.Open
		defaults.DismissTitle = text.Dismiss
		return defaults
	}
}
