package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
	"github.com/titanfleet/fleet-agent/internal/services/agent/storage"
)

// OpenGeneration creates the generation row if missing.
func (s *Store) OpenGeneration(ctx context.Context, gen domain.Generation) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	gen.Name = strings.TrimSpace(gen.Name)
	if gen.Name == "" {
		return fmt.Errorf("generation name is required")
	}
	if gen.Kind != domain.KindPrecache && gen.Kind != domain.KindRuntime {
		return fmt.Errorf("generation kind %q is invalid", gen.Kind)
	}
	createdAt := s.timestamp()
	if !gen.CreatedAt.IsZero() {
		createdAt = gen.CreatedAt.UTC().UnixMilli()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO cache_generations (name, kind, version, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO NOTHING
`, gen.Name, string(gen.Kind), gen.Version, createdAt)
	if err != nil {
		return fmt.Errorf("open generation %s: %w", gen.Name, err)
	}
	return nil
}

// ListGenerations lists generations oldest first.
func (s *Store) ListGenerations(ctx context.Context) ([]domain.Generation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT name, kind, version, created_at
FROM cache_generations
ORDER BY created_at ASC, name ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var generations []domain.Generation
	for rows.Next() {
		var gen domain.Generation
		var kind string
		var createdAt int64
		if err := rows.Scan(&gen.Name, &kind, &gen.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		gen.Kind = domain.GenerationKind(kind)
		gen.CreatedAt = time.UnixMilli(createdAt).UTC()
		generations = append(generations, gen)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return generations, nil
}

// DeleteGeneration removes a generation and its entries. Deleting a missing
// generation is not an error.
func (s *Store) DeleteGeneration(ctx context.Context, name string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE generation = ?`, name); err != nil {
			return fmt.Errorf("delete entries of %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_generations WHERE name = ?`, name); err != nil {
			return fmt.Errorf("delete generation %s: %w", name, err)
		}
		return nil
	})
}

// Put replaces the entry for key in generation.
func (s *Store) Put(ctx context.Context, generation string, key domain.RequestKey, response domain.Snapshot) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.putTx(ctx, tx, domain.CacheEntry{Generation: generation, Key: key, Response: response})
	})
}

// PutAll stores every entry in one transaction.
func (s *Store) PutAll(ctx context.Context, generation string, entries []domain.CacheEntry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, entry := range entries {
			entry.Generation = generation
			if err := s.putTx(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) putTx(ctx context.Context, tx *sql.Tx, entry domain.CacheEntry) error {
	if strings.TrimSpace(string(entry.Key)) == "" {
		return fmt.Errorf("request key is required")
	}
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM cache_generations WHERE name = ?`, entry.Generation).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("generation %s: %w", entry.Generation, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup generation %s: %w", entry.Generation, err)
	}

	header := entry.Response.Header
	if header == nil {
		header = http.Header{}
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	storedAt := s.timestamp()
	if !entry.StoredAt.IsZero() {
		storedAt = entry.StoredAt.UTC().UnixMilli()
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO cache_entries (generation, request_key, status, header_json, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(generation, request_key) DO UPDATE SET
	status = excluded.status,
	header_json = excluded.header_json,
	body = excluded.body,
	stored_at = excluded.stored_at
`,
		entry.Generation,
		string(entry.Key),
		entry.Response.Status,
		string(headerJSON),
		entry.Response.Body,
		storedAt,
	)
	if err != nil {
		return fmt.Errorf("put %s in %s: %w", entry.Key, entry.Generation, err)
	}
	return nil
}

// Match loads the entry for key in generation.
func (s *Store) Match(ctx context.Context, generation string, key domain.RequestKey) (domain.CacheEntry, error) {
	if err := s.ready(ctx); err != nil {
		return domain.CacheEntry{}, err
	}
	var (
		status     int
		headerJSON string
		body       []byte
		storedAt   int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT status, header_json, body, stored_at
FROM cache_entries
WHERE generation = ? AND request_key = ?
`, generation, string(key)).Scan(&status, &headerJSON, &body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("match %s in %s: %w", key, generation, err)
	}
	header := http.Header{}
	if err := json.Unmarshal([]byte(headerJSON), &header); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("decode header for %s: %w", key, err)
	}
	return domain.CacheEntry{
		Generation: generation,
		Key:        key,
		Response:   domain.Snapshot{Status: status, Header: header, Body: body},
		StoredAt:   time.UnixMilli(storedAt).UTC(),
	}, nil
}

// Stats reports entry counts and body sizes per generation.
func (s *Store) Stats(ctx context.Context) ([]storage.GenerationStats, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT g.name, g.kind, g.version, g.created_at,
	COUNT(e.request_key), COALESCE(SUM(LENGTH(e.body)), 0)
FROM cache_generations g
LEFT JOIN cache_entries e ON e.generation = g.name
GROUP BY g.name, g.kind, g.version, g.created_at
ORDER BY g.created_at ASC, g.name ASC
`)
	if err != nil {
		return nil, fmt.Errorf("generation stats: %w", err)
	}
	defer rows.Close()

	var stats []storage.GenerationStats
	for rows.Next() {
		var item storage.GenerationStats
		var kind string
		var createdAt int64
		if err := rows.Scan(&item.Generation.Name, &kind, &item.Generation.Version, &createdAt, &item.Entries, &item.Bytes); err != nil {
			return nil, fmt.Errorf("scan generation stats: %w", err)
		}
		item.Generation.Kind = domain.GenerationKind(kind)
		item.Generation.CreatedAt = time.UnixMilli(createdAt).UTC()
		stats = append(stats, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generation stats: %w", err)
	}
	return stats, nil
}
