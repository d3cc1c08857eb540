package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Inbox is a worker's control inbox. Deliver receives the raw command payload.
type Inbox interface {
	Deliver(ctx context.Context, payload []byte) error
}

// InboxFunc adapts a function to the Inbox interface.
type InboxFunc func(ctx context.Context, payload []byte) error

// Deliver calls f.
func (f InboxFunc) Deliver(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Registry holds the live worker inboxes indexed by worker name.
type Registry struct {
	mu      sync.RWMutex
	inboxes map[string]Inbox
}

// NewRegistry creates an empty inbox registry.
func NewRegistry() *Registry {
	return &Registry{inboxes: make(map[string]Inbox)}
}

// Register adds an inbox for a worker.
func (r *Registry) Register(workerName string, inbox Inbox) error {
	if workerName == "" {
		return fmt.Errorf("worker name is empty")
	}
	if inbox == nil {
		return fmt.Errorf("inbox for worker %q is nil", workerName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inboxes[workerName]; exists {
		return fmt.Errorf("worker %q already registered", workerName)
	}
	r.inboxes[workerName] = inbox
	return nil
}

// Unregister removes a worker's inbox. Unknown names are ignored.
func (r *Registry) Unregister(workerName string) {
	r.mu.Lock()
	delete(r.inboxes, workerName)
	r.mu.Unlock()
}

// Lookup returns the inbox for a worker. The boolean is false when no live
// inbox exists; it is up to the caller how to treat that.
func (r *Registry) Lookup(workerName string) (Inbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inbox, ok := r.inboxes[workerName]
	return inbox, ok
}

// Names returns the registered worker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.inboxes))
	for name := range r.inboxes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
