package trigger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/spec-kit/approval-service/internal/domain"
)

// Invocation is what a handler receives for one binding.
type Invocation struct {
	TicketID  int64
	Event     domain.TriggerEvent
	ActorID   *int64
	Config    json.RawMessage
	Variables map[string]any
}

// Handler performs a side effect for a bound lifecycle event. The returned
// map is stored as the execution log output.
type Handler interface {
	Name() string
	Execute(ctx context.Context, inv Invocation) (map[string]any, error)
}

// Registry resolves handler names used by trigger bindings.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns a registry holding handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds or replaces a handler under its name.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Lookup returns the handler registered as name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// DecodeConfig unmarshals a binding config into a generic map.
func DecodeConfig(raw json.RawMessage) (map[string]any, error) {
	cfg := map[string]any{}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
