package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// HandlerSpec names one handler in an account's chain together with its
// per-account configuration.
type HandlerSpec struct {
	Name   string         `yaml:"name" json:"name"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Handler reacts to one account event.
type Handler interface {
	Handle(ctx context.Context, ev protocol.Event, cfg map[string]any) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev protocol.Event, cfg map[string]any) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev protocol.Event, cfg map[string]any) error {
	return f(ctx, ev, cfg)
}

// HandlerConfigSource resolves the ordered handler chain configured for an
// account event. ok is false when the account has not instrumented the event.
type HandlerConfigSource interface {
	HandlersFor(ctx context.Context, accountKey, conversationKey, eventType string) (specs []HandlerSpec, ok bool, err error)
}

// HandlerRegistry maps handler names to implementations.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a named handler.
func (r *HandlerRegistry) Register(name string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns a handler by name.
func (r *HandlerRegistry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// EventDispatcher runs account events through their configured handler chains.
type EventDispatcher struct {
	handlers *HandlerRegistry
	source   HandlerConfigSource
	logger   *slog.Logger
}

// NewEventDispatcher creates an EventDispatcher.
func NewEventDispatcher(handlers *HandlerRegistry, source HandlerConfigSource, logger *slog.Logger) *EventDispatcher {
	if logger == nil {
		logger = log.WithComponent("event_dispatcher")
	}
	return &EventDispatcher{handlers: handlers, source: source, logger: logger}
}

// DispatchRaw decodes and dispatches an event payload from the transport.
func (d *EventDispatcher) DispatchRaw(ctx context.Context, payload []byte) {
	ev, err := protocol.DecodeEvent(payload)
	if err != nil {
		d.logger.Error("dropping malformed event", "error", err)
		return
	}
	d.Dispatch(ctx, ev)
}

// Dispatch runs every configured handler for ev, in order. It returns the
// number of handlers that completed without error.
func (d *EventDispatcher) Dispatch(ctx context.Context, ev protocol.Event) int {
	logger := d.logger.With(
		"account_key", ev.AccountKey,
		"conversation_key", ev.ConversationKey,
		"event_type", ev.EventType,
	)

	specs, ok, err := d.source.HandlersFor(ctx, ev.AccountKey, ev.ConversationKey, ev.EventType)
	if err != nil {
		logger.Error("failed to resolve event handlers", "error", err)
		return 0
	}
	if !ok || len(specs) == 0 {
		logger.Debug("no handlers configured for event")
		return 0
	}

	succeeded := 0
	for i, spec := range specs {
		h, found := d.handlers.Lookup(spec.Name)
		if !found {
			logger.Error("unknown event handler", "handler", spec.Name, "position", i)
			continue
		}
		if err := d.invoke(ctx, h, ev, spec.Config); err != nil {
			logger.Error("event handler failed", "handler", spec.Name, "position", i, "error", err)
			continue
		}
		succeeded++
	}
	return succeeded
}

// invoke runs a handler to completion and converts a panic into an error so
// the rest of the chain still runs.
func (d *EventDispatcher) invoke(ctx context.Context, h Handler, ev protocol.Event, cfg map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev, cfg)
}

// StaticHandlerConfig is a HandlerConfigSource backed by an in-memory map,
// typically built from the config file.
type StaticHandlerConfig struct {
	chains map[string][]HandlerSpec
}

// NewStaticHandlerConfig creates an empty static handler configuration.
func NewStaticHandlerConfig() *StaticHandlerConfig {
	return &StaticHandlerConfig{chains: make(map[string][]HandlerSpec)}
}

func chainKey(accountKey, conversationKey, eventType string) string {
	return accountKey + "\x00" + conversationKey + "\x00" + eventType
}

// Set replaces the chain for an account event.
func (s *StaticHandlerConfig) Set(accountKey, conversationKey, eventType string, specs []HandlerSpec) {
	s.chains[chainKey(accountKey, conversationKey, eventType)] = append([]HandlerSpec(nil), specs...)
}

// HandlersFor implements HandlerConfigSource.
func (s *StaticHandlerConfig) HandlersFor(_ context.Context, accountKey, conversationKey, eventType string) ([]HandlerSpec, bool, error) {
	specs, ok := s.chains[chainKey(accountKey, conversationKey, eventType)]
	return specs, ok, nil
}
