// Package keepalive tracks units of work that must finish before the agent
// process is allowed to stop.
package keepalive

import (
	"context"
	"sync"
)

// Tracker counts outstanding leases. The zero value is ready to use.
type Tracker struct {
	mu     sync.Mutex
	total  int
	idle   chan struct{}
	active map[string]int
}

// Hold marks the start of a unit of work named name and returns the release
// function. Release is idempotent.
func (t *Tracker) Hold(name string) (release func()) {
	if t == nil {
		return func() {}
	}
	t.mu.Lock()
	if t.active == nil {
		t.active = map[string]int{}
	}
	t.active[name]++
	if t.total == 0 {
		t.idle = make(chan struct{})
	}
	t.total++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.active[name]--
			if t.active[name] <= 0 {
				delete(t.active, name)
			}
			t.total--
			if t.total == 0 {
				close(t.idle)
			}
			t.mu.Unlock()
		})
	}
}

// Outstanding reports the held leases by name.
func (t *Tracker) Outstanding() map[string]int {
	out := map[string]int{}
	if t == nil {
		return out
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, count := range t.active {
		out[name] = count
	}
	return out
}

// Wait blocks until every lease is released or ctx ends.
func (t *Tracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.total == 0 {
		t.mu.Unlock()
		return nil
	}
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Detach returns a context that keeps ctx's values but is not cancelled when
// ctx is, so a held unit of work survives its triggering request going away.
func Detach(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
