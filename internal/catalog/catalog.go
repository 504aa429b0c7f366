// Package catalog holds the declarative list of fetchable resources per
// application scope. Adding a resource to the boot sequence is purely
// additive configuration here — never a change to scheduler logic.
package catalog

import (
	"fmt"
	"time"

	"github.com/djamelji/leezr-sub000/internal/model"
)

// Resource declares one fetchable unit of boot data.
type Resource struct {
	// Key uniquely identifies the resource and doubles as its cache key.
	Key string
	// Phase the resource is fetched in.
	Phase model.Phase
	// Store is the logical store identifier; Action the named async
	// operation on that store. Both are resolved against the store
	// registry once at startup.
	Store  string
	Action string
	// TTL is the cache lifetime; 0 means never cache.
	TTL time.Duration
	// DependsOn lists resource keys that must reach done first. Only keys
	// in the same or an earlier phase of the same scope are legal.
	DependsOn []string
	// Critical marks a resource whose failure aborts the whole run.
	Critical bool
	// Cacheable defaults to true for resources with a TTL; New applies
	// the default, so declaring it is optional.
	Cacheable bool
}

// Catalog is the validated, immutable resource set for one scope.
type Catalog struct {
	scope     model.Scope
	resources []Resource
	byKey     map[string]Resource
}

// New validates the resource list and returns an immutable catalog.
func New(scope model.Scope, resources []Resource) (*Catalog, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("catalog: invalid scope %q", scope)
	}

	rs := make([]Resource, len(resources))
	copy(rs, resources)
	for i := range rs {
		if rs[i].TTL > 0 {
			rs[i].Cacheable = true
		}
	}

	byKey := make(map[string]Resource, len(rs))
	for _, r := range rs {
		if _, dup := byKey[r.Key]; dup {
			return nil, fmt.Errorf("catalog: duplicate resource key %q", r.Key)
		}
		byKey[r.Key] = r
	}

	if err := validate(rs, byKey); err != nil {
		return nil, err
	}

	return &Catalog{scope: scope, resources: rs, byKey: byKey}, nil
}

// Scope returns the scope this catalog serves.
func (c *Catalog) Scope() model.Scope {
	return c.scope
}

// Resources returns all resources in declaration order.
func (c *Catalog) Resources() []Resource {
	out := make([]Resource, len(c.resources))
	copy(out, c.resources)
	return out
}

// Phase returns the resources of one phase in declaration order.
func (c *Catalog) Phase(p model.Phase) []Resource {
	var out []Resource
	for _, r := range c.resources {
		if r.Phase == p {
			out = append(out, r)
		}
	}
	return out
}

// PhaseKeys returns the keys of resources in any of the given phases.
func (c *Catalog) PhaseKeys(phases ...model.Phase) []string {
	want := make(map[model.Phase]bool, len(phases))
	for _, p := range phases {
		want[p] = true
	}
	var keys []string
	for _, r := range c.resources {
		if want[r.Phase] {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

// Lookup returns the resource declared under key.
func (c *Catalog) Lookup(key string) (Resource, bool) {
	r, ok := c.byKey[key]
	return r, ok
}
