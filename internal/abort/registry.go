// Package abort groups in-flight asynchronous work under named
// cancellation scopes.
//
// Each group owns one shared context. Aborting a group cancels every
// operation currently holding that group's context and immediately
// installs a fresh one, so subsequent Signal calls always return a live
// context. The registry tracks no individual operations — only the
// shared signal per group.
package abort

import (
	"context"
	"sync"
)

type group struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Registry maps group names to cancellation contexts. The zero value is
// not usable; construct with NewRegistry.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*group
	active string
}

// NewRegistry creates an empty registry with no active group.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*group)}
}

// Signal returns the group's current cancellation context, creating the
// group lazily on first use.
func (r *Registry) Signal(name string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signalLocked(name)
}

func (r *Registry) signalLocked(name string) context.Context {
	g, ok := r.groups[name]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		g = &group{ctx: ctx, cancel: cancel}
		r.groups[name] = g
	}
	return g.ctx
}

// AbortGroup cancels the group's current context and installs a fresh one.
// Operations holding the old context observe cancellation; new callers of
// Signal get a live context. Aborting an unknown group is a no-op.
func (r *Registry) AbortGroup(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortGroupLocked(name)
}

func (r *Registry) abortGroupLocked(name string) {
	g, ok := r.groups[name]
	if !ok {
		return
	}
	g.cancel()
	ctx, cancel := context.WithCancel(context.Background())
	r.groups[name] = &group{ctx: ctx, cancel: cancel}
}

// AbortAll aborts every known group.
func (r *Registry) AbortAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.groups {
		r.abortGroupLocked(name)
	}
}

// SetActiveGroup updates the single mutable "currently active group"
// pointer. An empty name clears it.
func (r *Registry) SetActiveGroup(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = name
}

// ActiveGroup returns the current active group name, or "" when none.
func (r *Registry) ActiveGroup() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ActiveSignal returns the active group's context, or nil when no group
// is active. Request-issuing code consults this to decide which signal
// to attach to an outgoing call.
func (r *Registry) ActiveSignal() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == "" {
		return nil
	}
	return r.signalLocked(r.active)
}
