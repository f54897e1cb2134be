// Package registry implements the Component Registry: a named handler table
// sitting behind the Message Router, so components registered through it
// (gears, or any other router handler recorded with a kind) can be looked up
// and introspected by ID instead of the router's Dispatch call requiring
// callers to already know a component exists.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/router"
)

// Descriptor is the metadata recorded for one registered component,
// independent of the handler function itself.
type Descriptor struct {
	ID       string
	Kind     string // e.g. "gear", "internal"
	Metadata map[string]interface{}
}

// Registry tracks component descriptors and mirrors registration into the
// underlying router so a single call wires both the dispatch path and the
// introspection surface.
type Registry struct {
	router *router.Router
	logger core.Logger

	mu      sync.RWMutex
	entries map[string]Descriptor
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l core.Logger) Option { return func(r *Registry) { r.logger = l } }

// New builds a Registry backed by rtr. rtr must not be nil: the registry's
// whole purpose is keeping descriptors and router handlers in lockstep.
func New(rtr *router.Router, opts ...Option) *Registry {
	r := &Registry{
		router:  rtr,
		logger:  &core.NoOpLogger{},
		entries: make(map[string]Descriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records desc and installs handler as that component's router
// handler. Re-registering an existing ID replaces both.
func (r *Registry) Register(desc Descriptor, handler router.Handler) {
	r.mu.Lock()
	r.entries[desc.ID] = desc
	r.mu.Unlock()

	r.router.Register(desc.ID, handler)
	r.logger.Info("component registered", map[string]interface{}{"id": desc.ID, "kind": desc.Kind})
}

// Unregister removes desc's ID from both the descriptor table and the
// router.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	r.router.Unregister(id)
}

// Lookup returns the descriptor registered under id, if any.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[id]
	return d, ok
}

// List returns every registered descriptor, ordered by ID for stable
// diagnostics output.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByKind filters List to descriptors of a given kind (e.g. "gear"), used by
// the lifecycle manager's readiness report to count active plugins.
func (r *Registry) ByKind(kind string) []Descriptor {
	all := r.List()
	out := all[:0:0]
	for _, d := range all {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// MustLookup panics if id is unregistered; used only in setup code where a
// missing component indicates a wiring bug, not a runtime condition.
func (r *Registry) MustLookup(id string) Descriptor {
	d, ok := r.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("registry: component %q not registered", id))
	}
	return d
}
