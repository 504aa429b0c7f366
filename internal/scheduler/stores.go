// Package scheduler is the orchestration core of the runtime boot
// sequence: it owns run identity, drives phase progression through
// dependency-aware job batches, supersedes stale runs, and exposes
// promise-style coordination to callers.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
)

// ActionCall carries the per-invocation parameters of a store action.
// When Cached is non-nil the action must hydrate its store from the given
// payload instead of performing I/O.
type ActionCall struct {
	Cached json.RawMessage
}

// ActionFunc is one named async operation on a store. It must return
// ctx.Err() (or an error wrapping it) when its context is cancelled, and
// otherwise either return a JSON-serializable result or fail with an
// arbitrary error. A nil result with a nil error is legal and simply
// never cached.
type ActionFunc func(ctx context.Context, call ActionCall) (json.RawMessage, error)

// Store exposes named actions. Catalog entries reference stores by
// logical identifier; every (store, action) pair is resolved exactly once
// at scheduler construction, so a dangling reference is a startup error,
// never a mid-boot surprise.
type Store interface {
	Action(name string) (ActionFunc, bool)
}

// ActionMap is the simplest Store: a literal map of action names.
type ActionMap map[string]ActionFunc

func (m ActionMap) Action(name string) (ActionFunc, bool) {
	f, ok := m[name]
	return f, ok
}

// Registry maps logical store identifiers to Stores. It is populated
// before the scheduler starts and read-only afterwards, so lookups need
// no locking.
type Registry struct {
	stores map[string]Store
}

// NewRegistry creates an empty store registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

// Register adds a store under id.
func (r *Registry) Register(id string, s Store) error {
	if id == "" {
		return fmt.Errorf("scheduler: empty store id")
	}
	if s == nil {
		return fmt.Errorf("scheduler: nil store %q", id)
	}
	if _, dup := r.stores[id]; dup {
		return fmt.Errorf("scheduler: store %q already registered", id)
	}
	r.stores[id] = s
	return nil
}

// Resolve returns the action registered under (storeID, action).
func (r *Registry) Resolve(storeID, action string) (ActionFunc, error) {
	s, ok := r.stores[storeID]
	if !ok {
		return nil, fmt.Errorf("scheduler: unknown store %q", storeID)
	}
	f, ok := s.Action(action)
	if !ok {
		return nil, fmt.Errorf("scheduler: store %q has no action %q", storeID, action)
	}
	return f, nil
}
