// Package events is the in-process feed of operational events (scheduler
// ticks, credit cutoffs, low-credit alerts, routing saves) served over SSE.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the control plane and billing service.
const (
	TypeSchedulerTick  = "scheduler.tick"
	TypeSchedulerCycle = "scheduler.cycle"
	TypeBillingCutoff  = "billing.cutoff"
	TypeLedgerCutoff   = "ledger.cutoff"
	TypeLowCredit      = "ledger.low_credit"
	TypeRoutingSaved   = "routing.saved"
)

const subscriberBuffer = 128

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Filter selects events by type prefix ("ledger." or "scheduler.tick").
// An empty filter selects everything.
type Filter []string

// ParseFilter splits a comma separated prefix list.
func ParseFilter(s string) Filter {
	var f Filter
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

func (f Filter) Match(eventType string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub fans events out to subscribers and keeps the newest ones for replay.
type Hub struct {
	seq     atomic.Int64
	dropped atomic.Int64

	mu     sync.Mutex
	recent []Event // ring, oldest at head once full
	head   int
	full   bool
	subs   map[*subscriber]struct{}
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		recent: make([]Event, 0, capacity),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Publish records an event and fans it out to matching subscribers. data is
// encoded as JSON; nil or unencodable data is published as an empty object.
func (h *Hub) Publish(eventType string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{ID: h.seq.Add(1), Type: eventType, At: time.Now().UTC(), Data: payload}
	h.remember(ev)
	for sub := range h.subs {
		if !sub.filter.Match(eventType) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of live events matching f and a cancel func
// that closes it. Cancel is idempotent.
func (h *Hub) Subscribe(f Filter) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer), filter: f}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// SnapshotSince returns every buffered event with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	return h.Replay(lastID, nil)
}

// Replay returns buffered events with ID > lastID matching f, oldest first.
func (h *Hub) Replay(lastID int64, f Filter) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.recent))
	for i := range h.recent {
		ev := h.recent[(h.head+i)%len(h.recent)]
		if ev.ID > lastID && f.Match(ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) remember(ev Event) {
	if !h.full {
		h.recent = append(h.recent, ev)
		h.full = len(h.recent) == cap(h.recent)
		return
	}
	h.recent[h.head] = ev
	h.head = (h.head + 1) % len(h.recent)
}
