// Package scheduler drives periodic metric collection. The collection
// interval is split into equal buckets; every running conversation is
// placed in one bucket at the start of a cycle and each tick sends
// collect_metrics for the current bucket only.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
	"github.com/mattjoyce/switchboard/internal/worker"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultGranularity = 5 * time.Second
)

// Config controls the collection cycle.
type Config struct {
	Interval    time.Duration
	Granularity time.Duration
}

// NumBuckets returns interval / granularity, at least 1.
func (c Config) NumBuckets() int {
	interval, granularity := c.Interval, c.Granularity
	if interval <= 0 {
		interval = DefaultInterval
	}
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	n := int(interval / granularity)
	if n < 1 {
		return 1
	}
	return n
}

// Target is one scheduled collect_metrics recipient.
type Target struct {
	AccountKey      string
	ConversationKey string
	WorkerName      string
}

func (t Target) key() string {
	return t.AccountKey + "/" + t.ConversationKey
}

// Scheduler manages the bucketed collection cycle.
type Scheduler struct {
	source  Source
	workers WorkerResolver
	sender  CommandSender
	events  *events.Hub
	logger  *slog.Logger

	granularity time.Duration
	numBuckets  int

	mu      sync.Mutex
	current int
	cycle   int64
	buckets [][]Target

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler. hub and logger may be nil.
func New(cfg Config, src Source, workers WorkerResolver, sender CommandSender, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if hub == nil {
		hub = events.NewHub(128)
	}
	if logger == nil {
		logger = log.WithComponent("scheduler")
	} else {
		logger = logger.With("component", "scheduler")
	}
	granularity := cfg.Granularity
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	return &Scheduler{
		source:      src,
		workers:     workers,
		sender:      sender,
		events:      hub,
		logger:      logger,
		granularity: granularity,
		numBuckets:  cfg.NumBuckets(),
		stopCh:      make(chan struct{}),
	}
}

// NumBuckets returns the number of buckets per cycle.
func (s *Scheduler) NumBuckets() int { return s.numBuckets }

// CurrentBucket returns the bucket the next tick will process.
func (s *Scheduler) CurrentBucket() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Start begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler", "buckets", s.numBuckets, "granularity", s.granularity)
	s.wg.Add(1)
	go s.tickLoop(ctx)
}

// Stop stops the tick loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.Tick(ctx)

	ticker := time.NewTicker(s.granularity)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// Tick processes the current bucket and advances to the next. At bucket 0
// the bucket map is rebuilt from the source. It returns the number of
// commands sent.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == 0 {
		s.rebuild(ctx)
	}

	bucket := s.current
	sent := 0
	var targets []Target
	if bucket < len(s.buckets) {
		targets = s.buckets[bucket]
		s.buckets[bucket] = nil
	}
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		if s.collect(ctx, t) {
			sent++
		}
	}

	s.current = (s.current + 1) % s.numBuckets
	if s.current == 0 {
		s.buckets = nil
	}

	s.logger.Debug("scheduler tick", "bucket", bucket, "sent", sent)
	s.events.Publish(events.TypeSchedulerTick, map[string]any{
		"bucket": bucket,
		"sent":   sent,
	})
	return sent
}

func (s *Scheduler) collect(ctx context.Context, t Target) bool {
	conv, err := s.source.GetConversation(ctx, t.AccountKey, t.ConversationKey)
	if errors.Is(err, state.ErrNotFound) {
		return false
	}
	if err != nil {
		s.logger.Error("failed to load conversation",
			"account_key", t.AccountKey, "conversation_key", t.ConversationKey, "error", err)
		return false
	}
	if !conv.Running() {
		return false
	}

	cmd := protocol.Command{
		WorkerName: t.WorkerName,
		Command:    worker.CommandCollectMetrics,
		Args:       []any{},
		Kwargs: map[string]any{
			"user_account_key": t.AccountKey,
			"conversation_key": t.ConversationKey,
		},
	}
	if err := s.sender.Send(ctx, cmd); err != nil {
		s.logger.Error("failed to send collect_metrics",
			"worker_name", t.WorkerName,
			"account_key", t.AccountKey,
			"conversation_key", t.ConversationKey,
			"error", err)
		return false
	}
	return true
}

func (s *Scheduler) rebuild(ctx context.Context) {
	s.cycle++
	targets, err := s.enumerate(ctx)
	if err != nil {
		s.logger.Error("failed to enumerate conversations", "cycle", s.cycle, "error", err)
	}

	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = t.key()
	}
	placement := Assign(keys, s.numBuckets)

	s.buckets = make([][]Target, s.numBuckets)
	for _, t := range targets {
		b := placement[t.key()]
		s.buckets[b] = append(s.buckets[b], t)
	}

	s.logger.Info("scheduler cycle started", "cycle", s.cycle, "conversations", len(targets))
	s.events.Publish(events.TypeSchedulerCycle, map[string]any{
		"cycle":         s.cycle,
		"conversations": len(targets),
		"capacity":      Capacity(len(targets), s.numBuckets),
		"buckets":       s.numBuckets,
	})
}

// enumerate lists every running conversation of every enabled account. A
// failure for one account is logged and does not abort the others.
func (s *Scheduler) enumerate(ctx context.Context) ([]Target, error) {
	accounts, err := s.source.ListEnabledAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Key < accounts[j].Key })

	// Worker names resolved once per cycle.
	resolved := make(map[string]string)
	var out []Target
	for _, acct := range accounts {
		convs, err := s.source.ListRunningConversations(ctx, acct.Key)
		if err != nil {
			s.logger.Error("failed to list conversations", "account_key", acct.Key, "error", err)
			continue
		}
		for _, c := range convs {
			name, ok := resolved[c.Type]
			if !ok {
				name, err = s.workers.WorkerFor(c.Type)
				if err != nil {
					s.logger.Warn("skipping conversation without worker",
						"account_key", acct.Key, "conversation_key", c.Key, "error", err)
					continue
				}
				resolved[c.Type] = name
			}
			out = append(out, Target{AccountKey: acct.Key, ConversationKey: c.Key, WorkerName: name})
		}
	}
	return out, nil
}
