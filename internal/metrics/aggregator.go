// Package metrics aggregates per-conversation metrics between publishes.
//
// A metric is registered once under the name
// "{account_key}.{conversation_key}.{metric}" and holds the last value set
// during the current interval. Flush hands the interval's values to the
// caller and clears them; names not set for a whole interval are forgotten.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Sample is one published metric value.
type Sample struct {
	Name  string    `json:"name"`
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Publisher ships a flushed sample set somewhere.
type Publisher interface {
	PublishMetrics(ctx context.Context, samples []Sample) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, samples []Sample) error

func (f PublisherFunc) PublishMetrics(ctx context.Context, samples []Sample) error {
	return f(ctx, samples)
}

// Name builds the published metric name.
func Name(accountKey, conversationKey, metric string) string {
	return strings.Join([]string{accountKey, conversationKey, metric}, ".")
}

type entry struct {
	value float64
	set   bool
	at    time.Time
}

// Aggregator is a last-value-wins metric set. It is safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Register declares a metric name. It reports whether the name was newly
// registered; registering an existing name is a no-op.
func (a *Aggregator) Register(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[name]; ok {
		return false
	}
	a.entries[name] = &entry{}
	return true
}

// Set records the value of a metric for the current interval, registering
// it if needed.
func (a *Aggregator) Set(name string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[name]
	if !ok {
		e = &entry{}
		a.entries[name] = e
	}
	e.value = value
	e.set = true
	e.at = a.now().UTC()
}

// Registered returns the number of registered metric names.
func (a *Aggregator) Registered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Flush returns the values set since the previous flush, sorted by name,
// and clears them. Names with no value this interval are unregistered.
func (a *Aggregator) Flush() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Sample, 0, len(a.entries))
	for name, e := range a.entries {
		if !e.set {
			delete(a.entries, name)
			continue
		}
		out = append(out, Sample{Name: name, Value: e.value, At: e.at})
		e.set = false
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run flushes the aggregator every interval and hands non-empty sample sets
// to pub until ctx is done. A final flush is published on shutdown.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration, pub Publisher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "metrics")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.publish(ctx, pub, logger)
		case <-ctx.Done():
			// Parent context is gone; give the last flush its own deadline.
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.publish(fctx, pub, logger)
			cancel()
			return
		}
	}
}

func (a *Aggregator) publish(ctx context.Context, pub Publisher, logger *slog.Logger) {
	samples := a.Flush()
	if len(samples) == 0 {
		return
	}
	if err := pub.PublishMetrics(ctx, samples); err != nil {
		logger.Error("metric publish failed", "samples", len(samples), "error", err)
		return
	}
	logger.Debug("published metrics", "samples", len(samples))
}
