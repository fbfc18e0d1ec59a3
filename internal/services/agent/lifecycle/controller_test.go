package lifecycle

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
	"github.com/titanfleet/fleet-agent/internal/services/agent/manifest"
	"github.com/titanfleet/fleet-agent/internal/services/agent/storage"
	"github.com/titanfleet/fleet-agent/internal/services/agent/storage/sqlite"
)

type fakeFetcher struct {
	mu       sync.Mutex
	statuses map[string]int
	failing  map[string]error
	calls    []string
}

func (f *fakeFetcher) FetchPath(_ context.Context, path string) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if err := f.failing[path]; err != nil {
		return domain.Snapshot{}, err
	}
	status := 200
	if code, ok := f.statuses[path]; ok {
		status = code
	}
	return domain.Snapshot{Status: status, Body: []byte("body of " + path)}, nil
}

type fakeClients struct {
	mu        sync.Mutex
	count     int
	claimedBy []string
	messages  []any
}

func (f *fakeClients) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeClients) Claim(controller string) []domain.ClientLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimedBy = append(f.claimedBy, controller)
	return make([]domain.ClientLink, f.count)
}

func (f *fakeClients) Broadcast(message any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return f.count
}

type harness struct {
	store      *sqlite.Store
	fetcher    *fakeFetcher
	clients    *fakeClients
	controller *Controller
	phases     []Phase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	h := &harness{
		store:   store,
		fetcher: &fakeFetcher{statuses: map[string]int{}, failing: map[string]error{}},
		clients: &fakeClients{},
	}
	h.controller = h.newController(t)
	return h
}

func (h *harness) newController(t *testing.T) *Controller {
	t.Helper()
	controller, err := New(Config{
		Store:    h.store,
		Fetcher:  h.fetcher,
		Clients:  h.clients,
		Logger:   log.New(io.Discard, "", 0),
		Observer: func(s Status) { h.phases = append(h.phases, s.Phase) },
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return controller
}

func (h *harness) generationNames(t *testing.T) []string {
	t.Helper()
	generations, err := h.store.ListGenerations(context.Background())
	if err != nil {
		t.Fatalf("list generations: %v", err)
	}
	names := make([]string, 0, len(generations))
	for _, gen := range generations {
		names = append(names, gen.Name)
	}
	sort.Strings(names)
	return names
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestInstallAbortsOnMissingResource(t *testing.T) {
	h := newHarness(t)
	h.fetcher.statuses["/manifest.json"] = 404

	err := h.controller.Install(context.Background(), manifest.Manifest{
		Version:  1,
		Precache: []string{"/offline.html", "/manifest.json"},
	})
	if !apperrors.HasCode(err, apperrors.CodeInstallAborted) {
		t.Fatalf("install err = %v, want %s", err, apperrors.CodeInstallAborted)
	}
	if names := h.generationNames(t); len(names) != 0 {
		t.Fatalf("generations = %v, want none", names)
	}
	if _, ok := h.controller.ActiveNames(); ok {
		t.Fatal("expected no active generation")
	}
	if status := h.controller.Status(); status.Phase != PhaseIdle {
		t.Fatalf("phase = %q, want %q", status.Phase, PhaseIdle)
	}
}

func TestInstallFailureKeepsPreviousVersionActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.controller.Install(ctx, manifest.Manifest{Version: 8, Precache: []string{"/offline.html"}}); err != nil {
		t.Fatalf("install v8: %v", err)
	}

	h.fetcher.failing["/app.js"] = errors.New("connection reset")
	err := h.controller.Install(ctx, manifest.Manifest{Version: 9, Precache: []string{"/offline.html", "/app.js"}})
	if !apperrors.HasCode(err, apperrors.CodeInstallAborted) {
		t.Fatalf("install v9 err = %v, want %s", err, apperrors.CodeInstallAborted)
	}
	names, ok := h.controller.ActiveNames()
	if !ok || names.Precache != "titan-fleet-v8" {
		t.Fatalf("active = %+v, want titan-fleet-v8", names)
	}
	entry, err := h.store.Match(ctx, "titan-fleet-v8", domain.KeyForPath("/offline.html"))
	if err != nil {
		t.Fatalf("v8 entry lost: %v", err)
	}
	if string(entry.Response.Body) != "body of /offline.html" {
		t.Fatalf("body = %q", entry.Response.Body)
	}
	want := []string{"titan-fleet-runtime-v8", "titan-fleet-v8"}
	if got := h.generationNames(t); !equalStrings(got, want) {
		t.Fatalf("generations = %v, want %v", got, want)
	}
}

func TestActivationRemovesSupersededGenerations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clients.count = 2

	if err := h.controller.Install(ctx, manifest.Manifest{Version: 8, Precache: []string{"/offline.html"}}); err != nil {
		t.Fatalf("install v8: %v", err)
	}
	// A foreign leftover from an older build is removed as well.
	if err := h.store.OpenGeneration(ctx, domain.RuntimeGeneration("titan-fleet", 3)); err != nil {
		t.Fatalf("open leftover: %v", err)
	}

	if err := h.controller.Install(ctx, manifest.Manifest{Version: 9, Precache: []string{"/offline.html"}}); err != nil {
		t.Fatalf("install v9: %v", err)
	}
	status := h.controller.Status()
	if status.Phase != PhaseWaiting || status.WaitingVersion != 9 {
		t.Fatalf("status = %+v, want waiting v9", status)
	}
	// v8 stays readable while v9 waits.
	if _, err := h.store.Match(ctx, "titan-fleet-v8", domain.KeyForPath("/offline.html")); err != nil {
		t.Fatalf("v8 entry unreadable while v9 waits: %v", err)
	}

	if err := h.controller.SkipWaiting(ctx); err != nil {
		t.Fatalf("skip waiting: %v", err)
	}
	want := []string{"titan-fleet-runtime-v9", "titan-fleet-v9"}
	if got := h.generationNames(t); !equalStrings(got, want) {
		t.Fatalf("generations = %v, want %v", got, want)
	}
	if _, err := h.store.Match(ctx, "titan-fleet-v8", domain.KeyForPath("/offline.html")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("v8 entry err = %v, want ErrNotFound", err)
	}

	status = h.controller.Status()
	if status.Phase != PhaseActive || status.Active.Precache != "titan-fleet-v9" {
		t.Fatalf("status = %+v, want active v9", status)
	}
	if status.Superseded.Precache != "titan-fleet-v8" {
		t.Fatalf("superseded = %+v, want v8", status.Superseded)
	}
	last := h.clients.messages[len(h.clients.messages)-1]
	msg, ok := last.(domain.VersionChanged)
	if !ok || msg.Type != "SW_UPDATED" || msg.Version != "titan-fleet-v9" {
		t.Fatalf("broadcast = %#v", last)
	}
	if got := h.clients.claimedBy[len(h.clients.claimedBy)-1]; got != "titan-fleet-v9" {
		t.Fatalf("claimed by %q, want titan-fleet-v9", got)
	}
}

func TestInstallAutoActivatesWithoutClients(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.controller.Install(ctx, manifest.Manifest{Version: 1, Precache: []string{"/"}}); err != nil {
		t.Fatalf("install v1: %v", err)
	}
	if err := h.controller.Install(ctx, manifest.Manifest{Version: 2, Precache: []string{"/"}}); err != nil {
		t.Fatalf("install v2: %v", err)
	}
	if status := h.controller.Status(); status.Phase != PhaseActive || status.ActiveVersion != 2 {
		t.Fatalf("status = %+v, want active v2", status)
	}
	wantPhases := []Phase{PhaseInstalling, PhaseWaiting, PhaseActive, PhaseInstalling, PhaseWaiting, PhaseActive}
	if !equalPhases(h.phases, wantPhases) {
		t.Fatalf("phases = %v, want %v", h.phases, wantPhases)
	}
}

func TestInstallSameVersionIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := manifest.Manifest{Version: 5, Precache: []string{"/"}}
	if err := h.controller.Install(ctx, m); err != nil {
		t.Fatalf("install: %v", err)
	}
	calls := len(h.fetcher.calls)
	if err := h.controller.Install(ctx, m); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if len(h.fetcher.calls) != calls {
		t.Fatalf("fetch calls = %d, want %d", len(h.fetcher.calls), calls)
	}
}

func TestInstallRejectsOlderVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.controller.Install(ctx, manifest.Manifest{Version: 5, Precache: []string{"/"}}); err != nil {
		t.Fatalf("install: %v", err)
	}
	err := h.controller.Install(ctx, manifest.Manifest{Version: 4, Precache: []string{"/"}})
	if !apperrors.HasCode(err, apperrors.CodeInstallAborted) {
		t.Fatalf("err = %v, want %s", err, apperrors.CodeInstallAborted)
	}
}

func TestSkipWaitingWithoutWaitingVersion(t *testing.T) {
	h := newHarness(t)
	err := h.controller.SkipWaiting(context.Background())
	if !apperrors.HasCode(err, apperrors.CodeNothingWaiting) {
		t.Fatalf("err = %v, want %s", err, apperrors.CodeNothingWaiting)
	}
}

// gatedFetcher blocks fetches of one path until release is closed.
type gatedFetcher struct {
	*fakeFetcher
	path    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *gatedFetcher) FetchPath(ctx context.Context, path string) (domain.Snapshot, error) {
	if path == f.path {
		f.once.Do(func() { close(f.entered) })
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.Snapshot{}, ctx.Err()
		}
	}
	return f.fakeFetcher.FetchPath(ctx, path)
}

func TestSkipWaitingDuringInstallKeepsNewGeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clients.count = 1
	gate := &gatedFetcher{
		fakeFetcher: h.fetcher,
		path:        "/v10.js",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	controller, err := New(Config{Store: h.store, Fetcher: gate, Clients: h.clients, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := controller.Install(ctx, manifest.Manifest{Version: 8, Precache: []string{"/"}}); err != nil {
		t.Fatalf("install v8: %v", err)
	}
	if err := controller.Install(ctx, manifest.Manifest{Version: 9, Precache: []string{"/"}}); err != nil {
		t.Fatalf("install v9: %v", err)
	}

	installErr := make(chan error, 1)
	go func() {
		installErr <- controller.Install(ctx, manifest.Manifest{Version: 10, Precache: []string{"/", "/v10.js"}})
	}()
	<-gate.entered

	skipErr := make(chan error, 1)
	go func() { skipErr <- controller.SkipWaiting(ctx) }()
	close(gate.release)

	if err := <-installErr; err != nil {
		t.Fatalf("install v10: %v", err)
	}
	if err := <-skipErr; err != nil {
		t.Fatalf("skip waiting: %v", err)
	}
	status := controller.Status()
	if status.Phase != PhaseActive || status.ActiveVersion != 10 || status.WaitingVersion != 0 {
		t.Fatalf("status = %+v, want active v10 with nothing waiting", status)
	}
	want := []string{"titan-fleet-runtime-v10", "titan-fleet-v10"}
	if got := h.generationNames(t); !equalStrings(got, want) {
		t.Fatalf("generations = %v, want %v", got, want)
	}
	if _, err := h.store.Match(ctx, "titan-fleet-v10", domain.KeyForPath("/v10.js")); err != nil {
		t.Fatalf("v10 entry: %v", err)
	}
}

func TestInstallFailureSettlesPhaseFromVersions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clients.count = 1
	if err := h.controller.Install(ctx, manifest.Manifest{Version: 1, Precache: []string{"/"}}); err != nil {
		t.Fatalf("install v1: %v", err)
	}
	if err := h.controller.Install(ctx, manifest.Manifest{Version: 2, Precache: []string{"/"}}); err != nil {
		t.Fatalf("install v2: %v", err)
	}
	if err := h.controller.SkipWaiting(ctx); err != nil {
		t.Fatalf("skip waiting: %v", err)
	}

	h.fetcher.failing["/broken.js"] = errors.New("connection reset")
	err := h.controller.Install(ctx, manifest.Manifest{Version: 3, Precache: []string{"/broken.js"}})
	if !apperrors.HasCode(err, apperrors.CodeInstallAborted) {
		t.Fatalf("install v3 err = %v, want %s", err, apperrors.CodeInstallAborted)
	}
	status := h.controller.Status()
	if status.Phase != PhaseActive || status.ActiveVersion != 2 || status.WaitingVersion != 0 {
		t.Fatalf("status = %+v, want active v2", status)
	}
	if last := h.phases[len(h.phases)-1]; last != PhaseActive {
		t.Fatalf("last observed phase = %s, want %s", last, PhaseActive)
	}
}

func TestRestoreAdoptsPersistedVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.controller.Install(ctx, manifest.Manifest{Version: 7, Precache: []string{"/"}}); err != nil {
		t.Fatalf("install: %v", err)
	}

	restarted := h.newController(t)
	ok, err := restarted.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !ok {
		t.Fatal("expected restore to adopt v7")
	}
	if names, _ := restarted.ActiveNames(); names.Precache != "titan-fleet-v7" {
		t.Fatalf("active = %+v, want v7", names)
	}
}

func TestRestoreAfterClearAllRequiresReinstall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.controller.Install(ctx, manifest.Manifest{Version: 7, Precache: []string{"/"}}); err != nil {
		t.Fatalf("install: %v", err)
	}
	deleted, err := h.controller.ClearAll(ctx)
	if err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	if names := h.generationNames(t); len(names) != 0 {
		t.Fatalf("generations = %v, want none", names)
	}

	restarted := h.newController(t)
	ok, err := restarted.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if ok {
		t.Fatal("expected restore to require reinstall")
	}
}

func TestRestoreWithoutState(t *testing.T) {
	h := newHarness(t)
	ok, err := h.controller.Restore(context.Background())
	if err != nil || ok {
		t.Fatalf("restore = %v, %v; want false, nil", ok, err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalPhases(a, b []Phase) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
