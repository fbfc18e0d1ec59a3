// Package lifecycle drives generation install, activation, and cleanup.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"github.com/titanfleet/fleet-agent/internal/platform/keepalive"
	platformotel "github.com/titanfleet/fleet-agent/internal/platform/otel"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
	"github.com/titanfleet/fleet-agent/internal/services/agent/manifest"
	"github.com/titanfleet/fleet-agent/internal/services/agent/storage"
)

// Phase is the controller's position in the install/activate cycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseInstalling Phase = "installing"
	PhaseWaiting    Phase = "waiting"
	PhaseActive     Phase = "active"
)

// Status is a snapshot of the lifecycle state.
type Status struct {
	Phase          Phase                  `json:"phase"`
	ActiveVersion  int                    `json:"activeVersion,omitempty"`
	Active         domain.GenerationNames `json:"active"`
	WaitingVersion int                    `json:"waitingVersion,omitempty"`
	Waiting        domain.GenerationNames `json:"waiting"`
	Superseded     domain.GenerationNames `json:"superseded"`
	ActivatedAt    time.Time              `json:"activatedAt,omitempty"`
}

// Fetcher retrieves one precache resource from the network.
type Fetcher interface {
	FetchPath(ctx context.Context, path string) (domain.Snapshot, error)
}

// Clients is the set of connected application instances.
type Clients interface {
	Count() int
	Claim(controller string) []domain.ClientLink
	Broadcast(message any) int
}

// Store is the persistence the controller needs.
type Store interface {
	storage.CacheStore
	storage.KeyValueStore
}

// Config wires a Controller.
type Config struct {
	Store   Store
	Fetcher Fetcher
	Clients Clients
	Prefix  string
	Logger  *log.Logger
	// Keepalive holds leases for install and cleanup work.
	Keepalive *keepalive.Tracker
	// Observer is told about every phase change.
	Observer func(Status)
}

// Controller owns the active and waiting generations.
type Controller struct {
	store     Store
	fetcher   Fetcher
	clients   Clients
	prefix    string
	logger    *log.Logger
	keepalive *keepalive.Tracker
	observer  func(Status)
	tracer    trace.Tracer
	now       func() time.Time

	installMu sync.Mutex

	mu             sync.Mutex
	phase          Phase
	activeVersion  int
	waitingVersion int
	superseded     domain.GenerationNames
	activatedAt    time.Time
}

type persistedState struct {
	Version     int       `json:"version"`
	Precache    string    `json:"precache"`
	Runtime     string    `json:"runtime"`
	ActivatedAt time.Time `json:"activatedAt"`
}

// New builds a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errors.New("lifecycle store is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("lifecycle fetcher is required")
	}
	if cfg.Clients == nil {
		return nil, errors.New("lifecycle clients are required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = domain.DefaultCachePrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		clients:   cfg.Clients,
		prefix:    prefix,
		logger:    logger,
		keepalive: cfg.Keepalive,
		observer:  cfg.Observer,
		tracer:    platformotel.Tracer("lifecycle"),
		now:       time.Now,
		phase:     PhaseIdle,
	}, nil
}

func (c *Controller) stateKey() string {
	return c.prefix + "-lifecycle"
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	status := Status{
		Phase:          c.phase,
		ActiveVersion:  c.activeVersion,
		WaitingVersion: c.waitingVersion,
		Superseded:     c.superseded,
		ActivatedAt:    c.activatedAt,
	}
	if c.activeVersion > 0 {
		status.Active = domain.NamesFor(c.prefix, c.activeVersion)
	}
	if c.waitingVersion > 0 {
		status.Waiting = domain.NamesFor(c.prefix, c.waitingVersion)
	}
	return status
}

// ActiveNames returns the generations requests are served from.
func (c *Controller) ActiveNames() (domain.GenerationNames, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeVersion == 0 {
		return domain.GenerationNames{}, false
	}
	return domain.NamesFor(c.prefix, c.activeVersion), true
}

// settledPhaseLocked derives the resting phase from the recorded versions.
func (c *Controller) settledPhaseLocked() Phase {
	switch {
	case c.waitingVersion > 0:
		return PhaseWaiting
	case c.activeVersion > 0:
		return PhaseActive
	default:
		return PhaseIdle
	}
}

func (c *Controller) setPhase(phase Phase) {
	c.mu.Lock()
	c.phase = phase
	status := c.statusLocked()
	c.mu.Unlock()
	c.notify(status)
}

func (c *Controller) notify(status Status) {
	if c.observer != nil {
		c.observer(status)
	}
}

// Restore adopts the persisted active version when both of its generations
// still exist. It reports whether a version was restored.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	raw, err := c.store.Get(ctx, c.stateKey())
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load lifecycle state: %w", err)
	}
	var state persistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		c.logger.Printf("lifecycle state unreadable, reinstalling: %v", err)
		return false, nil
	}
	names := domain.NamesFor(c.prefix, state.Version)
	if state.Version <= 0 || names.Precache != state.Precache || names.Runtime != state.Runtime {
		c.logger.Printf("lifecycle state does not match prefix %s, reinstalling", c.prefix)
		return false, nil
	}
	generations, err := c.store.ListGenerations(ctx)
	if err != nil {
		return false, fmt.Errorf("list generations: %w", err)
	}
	found := 0
	for _, gen := range generations {
		if names.Contains(gen.Name) {
			found++
		}
	}
	if found != 2 {
		return false, nil
	}

	c.mu.Lock()
	c.activeVersion = state.Version
	c.activatedAt = state.ActivatedAt
	c.phase = PhaseActive
	status := c.statusLocked()
	c.mu.Unlock()
	c.notify(status)
	c.logger.Printf("lifecycle restored version=%d precache=%s", state.Version, names.Precache)
	return true, nil
}

// Install populates the precache generation for m. Any failure removes the
// partially written generation and leaves the active one untouched.
func (c *Controller) Install(ctx context.Context, m manifest.Manifest) error {
	m, err := m.Normalize()
	if err != nil {
		return err
	}

	c.installMu.Lock()
	defer c.installMu.Unlock()

	c.mu.Lock()
	active, waiting := c.activeVersion, c.waitingVersion
	c.mu.Unlock()
	if m.Version == active || m.Version == waiting {
		return nil
	}
	if m.Version < active {
		return apperrors.WithMetadata(apperrors.CodeInstallAborted, "manifest version is older than the active version", map[string]string{
			"version": fmt.Sprint(m.Version),
			"active":  fmt.Sprint(active),
		})
	}

	release := c.keepalive.Hold("install")
	defer release()
	ctx, span := c.tracer.Start(ctx, "lifecycle.install", trace.WithAttributes(attribute.Int("fleet.version", m.Version)))
	defer span.End()

	c.setPhase(PhaseInstalling)
	gen := domain.PrecacheGeneration(c.prefix, m.Version)
	gen.CreatedAt = c.now()
	if err := c.populate(ctx, gen, m.Precache); err != nil {
		// The install context may already be canceled; cleanup must still run.
		if delErr := c.store.DeleteGeneration(keepalive.Detach(ctx), gen.Name); delErr != nil {
			c.logger.Printf("install cleanup failed generation=%s err=%v", gen.Name, delErr)
		}
		c.mu.Lock()
		c.phase = c.settledPhaseLocked()
		status := c.statusLocked()
		c.mu.Unlock()
		c.notify(status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "install aborted")
		c.logger.Printf("install aborted version=%d err=%v", m.Version, err)
		return apperrors.Wrap(apperrors.CodeInstallAborted, fmt.Sprintf("install of version %d aborted", m.Version), err)
	}

	c.mu.Lock()
	c.waitingVersion = m.Version
	c.phase = PhaseWaiting
	status := c.statusLocked()
	c.mu.Unlock()
	c.notify(status)
	c.logger.Printf("install complete version=%d entries=%d", m.Version, len(m.Precache))

	if active == 0 || c.clients.Count() == 0 {
		return c.activate(ctx)
	}
	return nil
}

func (c *Controller) populate(ctx context.Context, gen domain.Generation, paths []string) error {
	if err := c.store.OpenGeneration(ctx, gen); err != nil {
		return fmt.Errorf("open %s: %w", gen.Name, err)
	}
	entries := make([]domain.CacheEntry, 0, len(paths))
	for _, path := range paths {
		snapshot, err := c.fetcher.FetchPath(ctx, path)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", path, err)
		}
		if !snapshot.OK() {
			return fmt.Errorf("fetch %s: status %d", path, snapshot.Status)
		}
		entries = append(entries, domain.CacheEntry{
			Generation: gen.Name,
			Key:        domain.KeyForPath(path),
			Response:   snapshot,
			StoredAt:   c.now(),
		})
	}
	if err := c.store.PutAll(ctx, gen.Name, entries); err != nil {
		return fmt.Errorf("store precache: %w", err)
	}
	return nil
}

// SkipWaiting activates the waiting version immediately. It waits for an
// install in progress to finish first.
func (c *Controller) SkipWaiting(ctx context.Context) error {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	c.mu.Lock()
	waiting := c.waitingVersion
	c.mu.Unlock()
	if waiting == 0 {
		return apperrors.New(apperrors.CodeNothingWaiting, "no version is waiting to activate")
	}
	return c.activate(ctx)
}

func (c *Controller) activate(ctx context.Context) error {
	release := c.keepalive.Hold("activate")
	defer release()
	ctx = keepalive.Detach(ctx)

	c.mu.Lock()
	version := c.waitingVersion
	if version == 0 {
		c.mu.Unlock()
		return apperrors.New(apperrors.CodeNothingWaiting, "no version is waiting to activate")
	}
	previous := c.activeVersion
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "lifecycle.activate", trace.WithAttributes(attribute.Int("fleet.version", version)))
	defer span.End()

	names := domain.NamesFor(c.prefix, version)
	runtime := domain.RuntimeGeneration(c.prefix, version)
	runtime.CreatedAt = c.now()
	if err := c.store.OpenGeneration(ctx, runtime); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open runtime generation")
		return fmt.Errorf("open %s: %w", runtime.Name, err)
	}

	activatedAt := c.now().UTC()
	state, err := json.Marshal(persistedState{Version: version, Precache: names.Precache, Runtime: names.Runtime, ActivatedAt: activatedAt})
	if err != nil {
		return fmt.Errorf("encode lifecycle state: %w", err)
	}
	if err := c.store.Update(ctx, c.stateKey(), func([]byte) ([]byte, error) { return state, nil }); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist lifecycle state")
		return fmt.Errorf("persist lifecycle state: %w", err)
	}

	c.mu.Lock()
	c.activeVersion = version
	c.waitingVersion = 0
	c.activatedAt = activatedAt
	c.phase = PhaseActive
	if previous > 0 && previous != version {
		c.superseded = domain.NamesFor(c.prefix, previous)
	}
	status := c.statusLocked()
	c.mu.Unlock()
	c.notify(status)

	deleted := c.cleanup(ctx, names)
	claimed := c.clients.Claim(names.Precache)
	notified := c.clients.Broadcast(domain.NewVersionChanged(names.Precache))
	span.SetAttributes(
		attribute.Int("fleet.generations_deleted", deleted),
		attribute.Int("fleet.clients_claimed", len(claimed)),
	)
	c.logger.Printf("activated version=%d precache=%s deleted=%d claimed=%d notified=%d", version, names.Precache, deleted, len(claimed), notified)
	return nil
}

// cleanup deletes every generation not in keep. Failures are logged only.
func (c *Controller) cleanup(ctx context.Context, keep domain.GenerationNames) int {
	generations, err := c.store.ListGenerations(ctx)
	if err != nil {
		c.logger.Printf("cleanup list failed: %v", err)
		return 0
	}
	deleted := 0
	for _, gen := range generations {
		if keep.Contains(gen.Name) {
			continue
		}
		if err := c.store.DeleteGeneration(ctx, gen.Name); err != nil {
			c.logger.Printf("cleanup delete failed generation=%s err=%v", gen.Name, err)
			continue
		}
		deleted++
	}
	return deleted
}

// ClearAll deletes every generation of every kind. The lifecycle phase is
// unchanged; the runtime generation is recreated on the next cache write.
func (c *Controller) ClearAll(ctx context.Context) (int, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	release := c.keepalive.Hold("clear-cache")
	defer release()
	ctx = keepalive.Detach(ctx)

	generations, err := c.store.ListGenerations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list generations: %w", err)
	}
	deleted := 0
	var failures []error
	for _, gen := range generations {
		if err := c.store.DeleteGeneration(ctx, gen.Name); err != nil {
			failures = append(failures, fmt.Errorf("delete %s: %w", gen.Name, err))
			continue
		}
		deleted++
	}
	c.logger.Printf("cleared caches deleted=%d failed=%d", deleted, len(failures))
	return deleted, errors.Join(failures...)
}
