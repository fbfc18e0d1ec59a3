package app

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/titanfleet/fleet-agent/internal/platform/timeouts"
)

const defaultSyncInterval = 30 * time.Second

// SchedulerConfig wires a SyncScheduler.
type SchedulerConfig struct {
	// Probe reports whether the network is reachable.
	Probe func(ctx context.Context) error
	// Trigger fires one registered tag. A failure keeps the tag registered.
	Trigger  func(ctx context.Context, tag string) error
	Interval time.Duration
	Logger   *log.Logger
}

// SyncScheduler redelivers registered sync tags once connectivity returns.
type SyncScheduler struct {
	probe    func(ctx context.Context) error
	trigger  func(ctx context.Context, tag string) error
	interval time.Duration
	logger   *log.Logger
	wake     chan struct{}

	mu      sync.Mutex
	pending map[string]*pendingTag
}

// pendingTag tracks one registered tag. serial grows on every Register so a
// registration made while the tag is being delivered is not lost.
type pendingTag struct {
	attempts int
	serial   uint64
}

// NewSyncScheduler builds a SyncScheduler.
func NewSyncScheduler(cfg SchedulerConfig) (*SyncScheduler, error) {
	if cfg.Trigger == nil {
		return nil, errors.New("sync trigger is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SyncScheduler{
		probe:    cfg.Probe,
		trigger:  cfg.Trigger,
		interval: interval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		pending:  map[string]*pendingTag{},
	}, nil
}

// Register schedules tag for delivery and wakes the loop.
func (s *SyncScheduler) Register(tag string) {
	if tag == "" {
		return
	}
	s.mu.Lock()
	entry, ok := s.pending[tag]
	if !ok {
		entry = &pendingTag{}
		s.pending[tag] = entry
	}
	entry.serial++
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending lists the registered tags.
func (s *SyncScheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := make([]string, 0, len(s.pending))
	for tag := range s.pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Run delivers pending tags on every interval and registration until ctx ends.
func (s *SyncScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.wake:
		}
		s.RunOnce(ctx)
	}
}

// RunOnce probes the network and fires every pending tag if it is reachable.
func (s *SyncScheduler) RunOnce(ctx context.Context) {
	tags := s.Pending()
	if len(tags) == 0 {
		return
	}
	if s.probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, timeouts.SyncProbe)
		err := s.probe(probeCtx)
		cancel()
		if err != nil {
			s.logger.Printf("sync deferred tags=%v err=%v", tags, err)
			return
		}
	}
	for _, tag := range tags {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		var serial uint64
		if entry, ok := s.pending[tag]; ok {
			serial = entry.serial
		}
		s.mu.Unlock()

		err := s.trigger(ctx, tag)

		s.mu.Lock()
		attempts, rearmed := 0, false
		if entry, ok := s.pending[tag]; ok {
			switch {
			case err != nil:
				entry.attempts++
				attempts = entry.attempts
			case entry.serial != serial:
				entry.attempts = 0
				rearmed = true
			default:
				delete(s.pending, tag)
			}
		}
		s.mu.Unlock()
		switch {
		case err != nil:
			s.logger.Printf("sync trigger failed tag=%s attempts=%d err=%v", tag, attempts, err)
		case rearmed:
			s.logger.Printf("sync trigger delivered tag=%s rearmed=true", tag)
		default:
			s.logger.Printf("sync trigger delivered tag=%s", tag)
		}
	}
}
