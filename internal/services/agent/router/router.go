// Package router intercepts GET requests and serves them through one of four
// caching strategies backed by the active generations.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"github.com/titanfleet/fleet-agent/internal/platform/keepalive"
	platformotel "github.com/titanfleet/fleet-agent/internal/platform/otel"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
	"github.com/titanfleet/fleet-agent/internal/services/agent/storage"
)

// Response headers describing how a response was produced.
const (
	HeaderStrategy = "X-Fleet-Agent-Strategy"
	HeaderSource   = "X-Fleet-Agent-Source"
)

// Source says where a routed response came from.
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
)

// Network fetches a request from the origin.
type Network interface {
	Fetch(ctx context.Context, r *http.Request) (domain.Snapshot, error)
}

// Generations reports the generations requests are served from.
type Generations interface {
	ActiveNames() (domain.GenerationNames, bool)
}

// OfflineRenderer synthesizes responses when neither network nor cache can.
type OfflineRenderer interface {
	OfflineDocument(r *http.Request) domain.Snapshot
	OfflinePlaceholder(r *http.Request) domain.Snapshot
}

// Config wires a Router.
type Config struct {
	Classifier  *Classifier
	Network     Network
	Store       storage.CacheStore
	Generations Generations
	Offline     OfflineRenderer
	// OfflinePath is the precached document served to failed navigations.
	OfflinePath string
	Prefix      string
	Logger      *log.Logger
}

// Router applies a strategy per request class.
type Router struct {
	classifier  *Classifier
	network     Network
	store       storage.CacheStore
	generations Generations
	offline     OfflineRenderer
	offlineKey  domain.RequestKey
	prefix      string
	logger      *log.Logger
	tracer      trace.Tracer
}

// Response is a routed response and its provenance.
type Response struct {
	Snapshot domain.Snapshot
	Class    Class
	Source   Source
}

// New builds a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Network == nil {
		return nil, errors.New("router network is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("router store is required")
	}
	if cfg.Generations == nil {
		return nil, errors.New("router generations are required")
	}
	if cfg.Offline == nil {
		return nil, errors.New("router offline renderer is required")
	}
	classifier := cfg.Classifier
	if classifier == nil {
		var err error
		classifier, err = NewClassifier(nil, nil)
		if err != nil {
			return nil, err
		}
	}
	offlinePath := cfg.OfflinePath
	if offlinePath == "" {
		offlinePath = "/offline.html"
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = domain.DefaultCachePrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		classifier:  classifier,
		network:     cfg.Network,
		store:       cfg.Store,
		generations: cfg.Generations,
		offline:     cfg.Offline,
		offlineKey:  domain.KeyForPath(offlinePath),
		prefix:      prefix,
		logger:      logger,
		tracer:      platformotel.Tracer("router"),
	}, nil
}

// Classify exposes the router's classification of r.
func (rt *Router) Classify(r *http.Request) Class {
	return rt.classifier.Classify(r)
}

// Route serves r. It returns a NOT_INTERCEPTED error for requests that must be
// passed through, and NETWORK_UNAVAILABLE when an API request has neither a
// network nor a cached response.
func (rt *Router) Route(ctx context.Context, r *http.Request) (Response, error) {
	class := rt.classifier.Classify(r)
	if class == ClassPassthrough {
		return Response{Class: class}, apperrors.New(apperrors.CodeNotIntercepted, "request is not intercepted")
	}
	key, err := domain.NewRequestKey(r.Method, r.URL)
	if err != nil {
		return Response{Class: class}, apperrors.Wrap(apperrors.CodeNotIntercepted, "request is not cacheable", err)
	}

	ctx, span := rt.tracer.Start(ctx, "router."+string(class), trace.WithAttributes(
		attribute.String("fleet.request_key", string(key)),
	))
	defer span.End()

	var resp Response
	switch class {
	case ClassNavigation:
		resp = rt.navigation(ctx, r)
	case ClassAPI:
		resp, err = rt.networkFirst(ctx, r, key)
	case ClassStatic:
		resp = rt.static(ctx, r, key)
	default:
		resp = rt.cacheFirst(ctx, r, key)
	}
	resp.Class = class
	span.SetAttributes(attribute.String("fleet.source", string(resp.Source)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no response available")
	}
	return resp, err
}

func (rt *Router) navigation(ctx context.Context, r *http.Request) Response {
	snapshot, err := rt.network.Fetch(ctx, r)
	if err == nil {
		return Response{Snapshot: snapshot, Source: SourceNetwork}
	}
	rt.logger.Printf("navigation offline path=%s err=%v", r.URL.Path, err)
	if entry, ok := rt.lookup(ctx, rt.offlineKey, domain.KindPrecache, domain.KindRuntime); ok {
		return Response{Snapshot: entry.Response, Source: SourceCache}
	}
	return Response{Snapshot: rt.offline.OfflineDocument(r), Source: SourceOffline}
}

func (rt *Router) networkFirst(ctx context.Context, r *http.Request, key domain.RequestKey) (Response, error) {
	snapshot, err := rt.network.Fetch(ctx, r)
	if err == nil {
		rt.remember(ctx, key, snapshot)
		return Response{Snapshot: snapshot, Source: SourceNetwork}, nil
	}
	if entry, ok := rt.lookup(ctx, key, domain.KindRuntime); ok {
		return Response{Snapshot: entry.Response, Source: SourceCache}, nil
	}
	return Response{}, apperrors.Wrap(apperrors.CodeNetworkUnavailable, fmt.Sprintf("%s unavailable offline", r.URL.Path), err)
}

func (rt *Router) static(ctx context.Context, r *http.Request, key domain.RequestKey) Response {
	snapshot, err := rt.network.Fetch(ctx, r)
	if err == nil {
		if snapshot.OK() {
			rt.remember(ctx, key, snapshot)
		}
		return Response{Snapshot: snapshot, Source: SourceNetwork}
	}
	if entry, ok := rt.lookup(ctx, key, domain.KindRuntime, domain.KindPrecache); ok {
		return Response{Snapshot: entry.Response, Source: SourceCache}
	}
	return Response{Snapshot: rt.offline.OfflinePlaceholder(r), Source: SourceOffline}
}

func (rt *Router) cacheFirst(ctx context.Context, r *http.Request, key domain.RequestKey) Response {
	if entry, ok := rt.lookup(ctx, key, domain.KindRuntime, domain.KindPrecache); ok {
		return Response{Snapshot: entry.Response, Source: SourceCache}
	}
	snapshot, err := rt.network.Fetch(ctx, r)
	if err != nil {
		return Response{Snapshot: rt.offline.OfflinePlaceholder(r), Source: SourceOffline}
	}
	if snapshot.Status == http.StatusOK {
		rt.remember(ctx, key, snapshot)
	}
	return Response{Snapshot: snapshot, Source: SourceNetwork}
}

// lookup searches the active generations of the given kinds in order. Store
// failures count as misses.
func (rt *Router) lookup(ctx context.Context, key domain.RequestKey, kinds ...domain.GenerationKind) (domain.CacheEntry, bool) {
	names, ok := rt.generations.ActiveNames()
	if !ok {
		return domain.CacheEntry{}, false
	}
	// A canceled fetch still falls through to the cache.
	ctx = keepalive.Detach(ctx)
	for _, kind := range kinds {
		name := names.Precache
		if kind == domain.KindRuntime {
			name = names.Runtime
		}
		entry, err := rt.store.Match(ctx, name, key)
		if err == nil {
			return entry, true
		}
		if !errors.Is(err, storage.ErrNotFound) {
			rt.logger.Printf("cache read failed generation=%s key=%q err=%v", name, key, err)
		}
	}
	return domain.CacheEntry{}, false
}

// remember stores a copy of snapshot in the active runtime generation. The
// write outlives a canceled request.
func (rt *Router) remember(ctx context.Context, key domain.RequestKey, snapshot domain.Snapshot) {
	names, ok := rt.generations.ActiveNames()
	if !ok {
		return
	}
	ctx = keepalive.Detach(ctx)
	gen := domain.Generation{Name: names.Runtime, Kind: domain.KindRuntime}
	if parsed, ok := domain.ParseGenerationName(rt.prefix, names.Runtime); ok {
		gen = parsed
	}
	if err := rt.store.OpenGeneration(ctx, gen); err != nil {
		rt.logger.Printf("cache write failed generation=%s key=%q err=%v", names.Runtime, key, err)
		return
	}
	if err := rt.store.Put(ctx, names.Runtime, key, snapshot.Clone()); err != nil {
		rt.logger.Printf("cache write failed generation=%s key=%q err=%v", names.Runtime, key, err)
	}
}
