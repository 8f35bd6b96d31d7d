package engine

import (
	"sort"
	"sync"

	"github.com/fusserg007/botconstructor/pkg/schema"
)

// Registry maps node types to handlers. It is filled at start-up and read
// concurrently by every run.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	aliases  map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		aliases:  make(map[string]string),
	}
}

// Register adds a handler. Registering a type twice is a CONFLICT.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	typ := h.Type()
	if typ == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known(typ) {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for %q already registered", typ)
	}
	r.handlers[typ] = h
	return nil
}

// RegisterAlias makes alias resolve to the handler of target.
func (r *Registry) RegisterAlias(alias, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known(alias) {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for %q already registered", alias)
	}
	if _, ok := r.handlers[target]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "alias target %q not registered", target)
	}
	r.aliases[alias] = target
	return nil
}

func (r *Registry) known(typ string) bool {
	_, h := r.handlers[typ]
	_, a := r.aliases[typ]
	return h || a
}

// Get returns the handler for typ or a structural UNKNOWN_NODE_TYPE error.
func (r *Registry) Get(typ string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[typ]; ok {
		typ = target
	}
	h, ok := r.handlers[typ]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "no handler for node type %q", typ)
	}
	return h, nil
}

// Has reports whether typ (or an alias of it) is registered.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.known(typ)
}

// List returns every registered type and alias, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers)+len(r.aliases))
	for t := range r.handlers {
		out = append(out, t)
	}
	for a := range r.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of handlers, aliases excluded.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
