// Package storage defines the persistence contracts of the agent.
package storage

import (
	"context"
	"errors"

	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
)

// ErrNotFound is returned when a generation, entry, or key does not exist.
var ErrNotFound = errors.New("record not found")

// GenerationStats summarizes one generation's contents.
type GenerationStats struct {
	Generation domain.Generation `json:"generation"`
	Entries    int               `json:"entries"`
	Bytes      int64             `json:"bytes"`
}

// CacheStore persists cache generations and their entries.
type CacheStore interface {
	// OpenGeneration creates the generation if it does not exist.
	OpenGeneration(ctx context.Context, gen domain.Generation) error
	ListGenerations(ctx context.Context) ([]domain.Generation, error)
	// DeleteGeneration removes the generation and all of its entries.
	DeleteGeneration(ctx context.Context, name string) error
	// Put replaces the whole entry for key.
	Put(ctx context.Context, generation string, key domain.RequestKey, response domain.Snapshot) error
	// PutAll stores entries in one transaction; nothing is stored on failure.
	PutAll(ctx context.Context, generation string, entries []domain.CacheEntry) error
	// Match returns ErrNotFound on a miss.
	Match(ctx context.Context, generation string, key domain.RequestKey) (domain.CacheEntry, error)
	Stats(ctx context.Context) ([]GenerationStats, error)
}

// KeyValueStore persists small named values.
type KeyValueStore interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Update runs fn with the current value (nil when absent) and stores
	// its result atomically. Returning nil deletes the key.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
	Delete(ctx context.Context, key string) error
}
