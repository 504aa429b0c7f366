package leezr

import (
	"context"
	"encoding/json"
	"time"
)

// ActionCall carries the per-invocation parameters of a store action.
// When Cached is non-nil the action must hydrate its store from the
// given payload instead of performing I/O.
type ActionCall struct {
	Cached json.RawMessage
}

// ActionFunc is one named async operation on a store. It must return
// ctx.Err() (or an error wrapping it) on cancellation. The returned
// payload, when non-nil, is cached verbatim for the resource's TTL.
type ActionFunc func(ctx context.Context, call ActionCall) (json.RawMessage, error)

// Store exposes named actions for the resources that reference it.
// Catalog entries name stores by logical identifier; every referenced
// (store, action) pair is resolved once at construction, so a dangling
// reference fails New rather than a boot.
type Store interface {
	Action(name string) (ActionFunc, bool)
}

// SessionState reports whether the auth phase established an
// authenticated session. Without one, boots stop after the auth phase.
type SessionState interface {
	Authenticated() bool
}

// SessionListener optionally extends a SessionState with cross-runtime
// session lifecycle notifications delivered over the broadcast bus.
// Callbacks run on the bus receive goroutine and must not block.
type SessionListener interface {
	SessionExtended(ttl time.Duration)
	SessionExpired()
}

// Identity persists the active tenant selection across runtimes.
type Identity interface {
	PersistCompanyID(id int64)
	ClearCompanyID()
}

// Navigator redirects the surface to the login screen when the session
// ends. Runs on whatever goroutine triggered the logout.
type Navigator interface {
	ToLogin()
}

// StoreResetter empties tenant- and feature-scoped stores before a
// company switch re-hydrates them.
type StoreResetter interface {
	ResetTenantStores()
}
