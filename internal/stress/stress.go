// Package stress exercises the boot orchestrator under deterministic
// fault injection: flaky stores, injected latency, full outages, and
// concurrent supersession storms. Scenarios report structured pass/fail
// results suitable for CI and for manual soak runs.
package stress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/djamelji/leezr-sub000/internal/abort"
	"github.com/djamelji/leezr-sub000/internal/cache"
	"github.com/djamelji/leezr-sub000/internal/catalog"
	"github.com/djamelji/leezr-sub000/internal/journal"
	"github.com/djamelji/leezr-sub000/internal/model"
	"github.com/djamelji/leezr-sub000/internal/scheduler"
)

// FaultProfile controls the injected failure behavior of a store.
type FaultProfile struct {
	// Offline fails every live call with a connection error.
	Offline bool
	// FailureRate is the probability in [0, 1] that a live call fails.
	FailureRate float64
	// Latency delays every call; Jitter adds up to that much more.
	Latency time.Duration
	Jitter  time.Duration
}

// FaultyStore is a scheduler store whose actions fail and stall according
// to a mutable fault profile. All randomness comes from the seeded
// source, so a scenario replays identically for a given seed.
type FaultyStore struct {
	mu      sync.Mutex
	profile FaultProfile
	rng     *rand.Rand
	calls   int
	actions map[string]bool
}

// NewFaultyStore creates a store exposing the given action names.
func NewFaultyStore(seed int64, actions ...string) *FaultyStore {
	set := make(map[string]bool, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return &FaultyStore{rng: rand.New(rand.NewSource(seed)), actions: set}
}

// SetProfile swaps the fault profile; safe during a run.
func (f *FaultyStore) SetProfile(p FaultProfile) {
	f.mu.Lock()
	f.profile = p
	f.mu.Unlock()
}

// Calls returns how many action invocations the store has seen.
func (f *FaultyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FaultyStore) Action(name string) (scheduler.ActionFunc, bool) {
	if !f.actions[name] {
		return nil, false
	}
	return func(ctx context.Context, call scheduler.ActionCall) (json.RawMessage, error) {
		f.mu.Lock()
		f.calls++
		p := f.profile
		var jitter time.Duration
		if p.Jitter > 0 {
			jitter = time.Duration(f.rng.Int63n(int64(p.Jitter)))
		}
		flaky := p.FailureRate > 0 && f.rng.Float64() < p.FailureRate
		f.mu.Unlock()

		if delay := p.Latency + jitter; delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if call.Cached != nil {
			// Hydration from cache never touches the network.
			return call.Cached, nil
		}
		if p.Offline {
			return nil, fmt.Errorf("%s: connection refused", name)
		}
		if flaky {
			return nil, fmt.Errorf("%s: injected fault", name)
		}
		return json.RawMessage(fmt.Sprintf(`{"action":%q}`, name)), nil
	}, true
}

// Harness wires a scheduler over faulty stores with the default company
// and platform catalogs.
type Harness struct {
	Scheduler *scheduler.Scheduler
	Auth      *FaultyStore
	Tenant    *FaultyStore
	Features  *FaultyStore
	Journal   *journal.Journal
}

// NewHarness builds a harness seeded for deterministic replay.
func NewHarness(seed int64, logger *slog.Logger) (*Harness, error) {
	auth := NewFaultyStore(seed, "me", "companies", "permissions")
	tenant := NewFaultyStore(seed+1, "company", "workspace")
	features := NewFaultyStore(seed+2, "modules", "jobdomains", "navigation")

	stores := scheduler.NewRegistry()
	for id, s := range map[string]scheduler.Store{
		catalog.StoreAuth:     auth,
		catalog.StoreTenant:   tenant,
		catalog.StoreFeatures: features,
	} {
		if err := stores.Register(id, s); err != nil {
			return nil, err
		}
	}

	company, err := catalog.New(model.ScopeCompany, catalog.Company())
	if err != nil {
		return nil, err
	}
	platform, err := catalog.New(model.ScopePlatform, catalog.Platform())
	if err != nil {
		return nil, err
	}

	j := journal.New(journal.DefaultCapacity, logger)
	sched, err := scheduler.New(scheduler.Options{
		Dev:     true,
		Logger:  logger,
		Journal: j,
		Cache:   cache.New(cache.NewMemoryStorage(), "stress", logger),
		Aborts:  abort.NewRegistry(),
		Stores:  stores,
		Catalogs: map[model.Scope]*catalog.Catalog{
			model.ScopeCompany:  company,
			model.ScopePlatform: platform,
		},
	})
	if err != nil {
		return nil, err
	}

	return &Harness{
		Scheduler: sched,
		Auth:      auth,
		Tenant:    tenant,
		Features:  features,
		Journal:   j,
	}, nil
}

// SetAllProfiles applies one fault profile to every store.
func (h *Harness) SetAllProfiles(p FaultProfile) {
	h.Auth.SetProfile(p)
	h.Tenant.SetProfile(p)
	h.Features.SetProfile(p)
}
