package tools

import (
	"context"
	"fmt"
	"sync"
)

// Call carries the validated arguments and scope of one dispatch.
type Call struct {
	ToolCallID     string
	ProjectID      string
	ConversationID string
	Args           map[string]any
}

// Result is what a handler returns on success. SideEffectRef identifies the
// created or changed resource, if any.
type Result struct {
	Data          any
	SideEffectRef string
}

// HandlerFunc executes one operation.
type HandlerFunc func(ctx context.Context, call Call) (Result, error)

// Registry stores operation handlers keyed by operation name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler for an operation name.
func (r *Registry) Register(name string, h HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("operation name is required")
	}
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler already registered for %s", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister adds a handler or panics.
func (r *Registry) MustRegister(name string, h HandlerFunc) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Handler returns the handler bound to name.
func (r *Registry) Handler(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Missing lists catalog operations that have no handler bound.
func (r *Registry) Missing(c *Catalog) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, name := range c.Names() {
		if _, ok := r.handlers[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
