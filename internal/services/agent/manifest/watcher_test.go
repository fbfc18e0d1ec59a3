package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDeliversNewerVersions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "precache.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nprecache: [/]\n"), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	changes := make(chan Manifest, 4)
	watcher := NewWatcher(path, 1, func(_ context.Context, m Manifest) error {
		changes <- m
		return nil
	}, WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("version: 1\nprecache: [/, /offline.html]\n"), 0o600); err != nil {
		t.Fatalf("rewrite same version: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	select {
	case m := <-changes:
		t.Fatalf("unexpected change for version %d", m.Version)
	default:
	}

	if err := os.WriteFile(path, []byte("version: 2\nprecache: [/, /offline.html]\n"), 0o600); err != nil {
		t.Fatalf("write new version: %v", err)
	}
	select {
	case m := <-changes:
		if m.Version != 2 {
			t.Fatalf("version = %d, want 2", m.Version)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for manifest change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherRequiresHandler(t *testing.T) {
	watcher := NewWatcher(filepath.Join(t.TempDir(), "m.yaml"), 0, nil)
	if err := watcher.Run(context.Background()); err == nil {
		t.Fatal("expected error without handler")
	}
}
