// Package syncqueue keeps location records captured offline and flushes them
// as one batch when a sync trigger fires.
package syncqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"github.com/titanfleet/fleet-agent/internal/platform/keepalive"
	platformotel "github.com/titanfleet/fleet-agent/internal/platform/otel"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
	"github.com/titanfleet/fleet-agent/internal/services/agent/storage"
)

// Defaults for the queue key and its sync tag.
const (
	DefaultKey = "titan-fleet-offline-locations"
	DefaultTag = "sync-locations"
)

// Submitter delivers one batch of queued records.
type Submitter interface {
	SubmitLocations(ctx context.Context, batch []json.RawMessage) error
}

// Config wires a Queue.
type Config struct {
	Store     storage.KeyValueStore
	Submitter Submitter
	Key       string
	Tag       string
	Logger    *log.Logger
	Keepalive *keepalive.Tracker
	// OnEnqueue is called with the sync tag after a record is stored.
	OnEnqueue func(tag string)
}

// Queue is the durable offline location queue.
type Queue struct {
	store     storage.KeyValueStore
	submitter Submitter
	key       string
	tag       string
	logger    *log.Logger
	keepalive *keepalive.Tracker
	onEnqueue func(string)
	tracer    trace.Tracer
}

// FlushResult describes one trigger.
type FlushResult struct {
	Tag       string `json:"tag"`
	Ignored   bool   `json:"ignored,omitempty"`
	Submitted int    `json:"submitted"`
	Remaining int    `json:"remaining"`
}

// New builds a Queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errors.New("queue store is required")
	}
	if cfg.Submitter == nil {
		return nil, errors.New("queue submitter is required")
	}
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}
	tag := cfg.Tag
	if tag == "" {
		tag = DefaultTag
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{
		store:     cfg.Store,
		submitter: cfg.Submitter,
		key:       key,
		tag:       tag,
		logger:    logger,
		keepalive: cfg.Keepalive,
		onEnqueue: cfg.OnEnqueue,
		tracer:    platformotel.Tracer("syncqueue"),
	}, nil
}

// Tag returns the sync tag that flushes this queue.
func (q *Queue) Tag() string {
	return q.tag
}

// Enqueue validates and appends record, returning the new queue length.
// Storage failures are logged and reported as a zero length, not an error.
func (q *Queue) Enqueue(ctx context.Context, record domain.LocationRecord) (int, error) {
	if err := record.Validate(); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidLocation, "invalid location record", err)
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidLocation, "encode location record", err)
	}
	length := 0
	err = q.store.Update(keepalive.Detach(ctx), q.key, func(current []byte) ([]byte, error) {
		entries, err := decodeEntries(current)
		if err != nil {
			return nil, err
		}
		entries = append(entries, encoded)
		length = len(entries)
		return json.Marshal(entries)
	})
	if err != nil {
		q.logger.Printf("enqueue dropped key=%s err=%v", q.key, err)
		return 0, nil
	}
	if q.onEnqueue != nil {
		q.onEnqueue(q.tag)
	}
	return length, nil
}

// Pending returns the queued records, or none when the queue is unreadable.
func (q *Queue) Pending(ctx context.Context) []domain.LocationRecord {
	entries, err := q.read(ctx)
	if err != nil {
		q.logger.Printf("queue unreadable key=%s err=%v", q.key, err)
		return []domain.LocationRecord{}
	}
	records := make([]domain.LocationRecord, 0, len(entries))
	for _, entry := range entries {
		var record domain.LocationRecord
		if err := json.Unmarshal(entry, &record); err != nil {
			q.logger.Printf("queue entry unreadable key=%s err=%v", q.key, err)
			continue
		}
		records = append(records, record)
	}
	return records
}

// Len returns the number of queued records, zero when unreadable.
func (q *Queue) Len(ctx context.Context) int {
	entries, err := q.read(ctx)
	if err != nil {
		return 0
	}
	return len(entries)
}

// HandleTrigger flushes the queue for a matching tag. On submission failure
// the queue is left untouched and the error is returned so the trigger is
// delivered again.
func (q *Queue) HandleTrigger(ctx context.Context, tag string) (FlushResult, error) {
	result := FlushResult{Tag: tag}
	if tag != q.tag {
		result.Ignored = true
		return result, nil
	}
	release := q.keepalive.Hold("flush")
	defer release()
	ctx, span := q.tracer.Start(ctx, "syncqueue.flush", trace.WithAttributes(attribute.String("fleet.sync_tag", tag)))
	defer span.End()

	batch, err := q.read(ctx)
	if err != nil {
		q.logger.Printf("flush skipped, queue unreadable key=%s err=%v", q.key, err)
		return result, nil
	}
	if len(batch) == 0 {
		return result, nil
	}
	span.SetAttributes(attribute.Int("fleet.batch_size", len(batch)))

	if err := q.submitter.SubmitLocations(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		q.logger.Printf("flush failed tag=%s batch=%d err=%v", tag, len(batch), err)
		result.Remaining = len(batch)
		return result, apperrors.Wrap(apperrors.CodeFlushRejected, "location batch not accepted", err)
	}
	result.Submitted = len(batch)

	err = q.store.Update(keepalive.Detach(ctx), q.key, func(current []byte) ([]byte, error) {
		entries, err := decodeEntries(current)
		if err != nil {
			return nil, err
		}
		remaining := removeBatch(entries, batch)
		result.Remaining = len(remaining)
		if len(remaining) == 0 {
			return nil, nil
		}
		return json.Marshal(remaining)
	})
	if err != nil {
		q.logger.Printf("flush clear failed key=%s err=%v", q.key, err)
	}
	q.logger.Printf("flush complete tag=%s submitted=%d remaining=%d", tag, result.Submitted, result.Remaining)
	return result, nil
}

func (q *Queue) read(ctx context.Context) ([]json.RawMessage, error) {
	raw, err := q.store.Get(ctx, q.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeEntries(raw)
}

func decodeEntries(raw []byte) ([]json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return entries, nil
}

// removeBatch drops the submitted batch from the front of entries. Records
// appended while the batch was in flight are kept. If the stored queue no
// longer starts with the batch it was rewritten elsewhere and is kept as is.
func removeBatch(entries, batch []json.RawMessage) []json.RawMessage {
	if len(entries) < len(batch) {
		return entries
	}
	for i := range batch {
		if !bytes.Equal(entries[i], batch[i]) {
			return entries
		}
	}
	return entries[len(batch):]
}
