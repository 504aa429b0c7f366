package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djamelji/leezr-sub000/internal/abort"
	"github.com/djamelji/leezr-sub000/internal/cache"
	"github.com/djamelji/leezr-sub000/internal/catalog"
	"github.com/djamelji/leezr-sub000/internal/journal"
	"github.com/djamelji/leezr-sub000/internal/model"
)

// fakeStore is a fault-injectable Store for exercising the scheduler.
type fakeStore struct {
	mu      sync.Mutex
	offline bool
	delay   time.Duration
	calls   map[string]int
	actions []string
}

func newFakeStore(actions ...string) *fakeStore {
	return &fakeStore{calls: make(map[string]int), actions: actions}
}

func (f *fakeStore) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeStore) setDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

func (f *fakeStore) callCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[action]
}

func (f *fakeStore) Action(name string) (ActionFunc, bool) {
	found := false
	for _, a := range f.actions {
		if a == name {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}
	return func(ctx context.Context, call ActionCall) (json.RawMessage, error) {
		f.mu.Lock()
		f.calls[name]++
		offline, delay := f.offline, f.delay
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if call.Cached != nil {
			return call.Cached, nil
		}
		if offline {
			return nil, fmt.Errorf("%s: connection refused", name)
		}
		return json.RawMessage(fmt.Sprintf(`{"action":%q}`, name)), nil
	}, true
}

type sessionStub struct{ authed bool }

func (s *sessionStub) Authenticated() bool { return s.authed }

type harness struct {
	sched    *Scheduler
	auth     *fakeStore
	tenant   *fakeStore
	features *fakeStore
	cache    *cache.Cache
	journal  *journal.Journal
	session  *sessionStub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	auth := newFakeStore("me", "companies", "permissions")
	tenant := newFakeStore("company", "workspace")
	features := newFakeStore("modules", "jobdomains", "navigation")

	stores := NewRegistry()
	require.NoError(t, stores.Register(catalog.StoreAuth, auth))
	require.NoError(t, stores.Register(catalog.StoreTenant, tenant))
	require.NoError(t, stores.Register(catalog.StoreFeatures, features))

	company, err := catalog.New(model.ScopeCompany, catalog.Company())
	require.NoError(t, err)
	platform, err := catalog.New(model.ScopePlatform, catalog.Platform())
	require.NoError(t, err)

	c := cache.New(cache.NewMemoryStorage(), "v1", logger)
	j := journal.New(journal.DefaultCapacity, logger)
	session := &sessionStub{authed: true}

	sched, err := New(Options{
		Dev:     true,
		Logger:  logger,
		Journal: j,
		Cache:   c,
		Aborts:  abort.NewRegistry(),
		Stores:  stores,
		Catalogs: map[model.Scope]*catalog.Catalog{
			model.ScopeCompany:  company,
			model.ScopePlatform: platform,
		},
		Session: session,
	})
	require.NoError(t, err)

	return &harness{
		sched: sched, auth: auth, tenant: tenant, features: features,
		cache: c, journal: j, session: session,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestBootCompanyReachesReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseReady, snap.Phase)
	assert.Equal(t, model.ScopeCompany, snap.Scope)
	assert.True(t, snap.IsReady)
	assert.Empty(t, snap.Err)
	assert.Equal(t, model.JobDone, snap.Resources["auth:me"])
	assert.Equal(t, model.JobDone, snap.Resources["auth:companies"])
	assert.Equal(t, model.JobDone, snap.Resources["features:modules"])
	for key, status := range snap.Resources {
		assert.Equal(t, model.JobDone, status, "resource %s", key)
	}
	assert.Zero(t, snap.Progress.Pending)
	assert.Zero(t, snap.Progress.Loading)
	assert.False(t, snap.RunMeta.BootedAt.IsZero())
}

func TestBootPublicShortCircuits(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sched.RequestBoot(context.Background(), model.ScopePublic))

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseReady, snap.Phase)
	assert.Equal(t, model.ScopePublic, snap.Scope)
	assert.Empty(t, snap.Resources)
	assert.Zero(t, h.auth.callCount("me"))
}

func TestBootPlatformStopsAfterAuth(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sched.RequestBoot(context.Background(), model.ScopePlatform))

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseReady, snap.Phase)
	assert.Equal(t, model.ScopePlatform, snap.Scope)
	assert.Equal(t, model.JobDone, snap.Resources["auth:me"])
	assert.Zero(t, h.tenant.callCount("company"))
	assert.Zero(t, h.features.callCount("modules"))
}

func TestBootUnauthenticatedStaysInAuth(t *testing.T) {
	h := newHarness(t)
	h.session.authed = false

	require.NoError(t, h.sched.RequestBoot(context.Background(), model.ScopeCompany))

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseAuth, snap.Phase)
	assert.False(t, snap.IsReady)
	assert.Zero(t, h.tenant.callCount("company"))

	// Gates resolve so no caller blocks on a session that does not exist.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.sched.WhenAuthResolved(ctx))
	require.NoError(t, h.sched.WhenReady(ctx, 0))
}

func TestBootChurnConvergesToReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.sched.RequestBoot(ctx, model.ScopeCompany)
		}()
	}
	wg.Wait()

	// Whichever boot holds the final run id must have carried its run to
	// completion; every superseded run discarded its state.
	require.NoError(t, h.sched.WhenReady(ctx, 5*time.Second))
	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseReady, snap.Phase)
	assert.True(t, snap.IsReady)
	for key, status := range snap.Resources {
		assert.Equal(t, model.JobDone, status, "resource %s", key)
	}
}

func TestSwitchSupersession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))
	firstRun := h.sched.Snapshot().RunID

	var wg sync.WaitGroup
	for _, id := range []int64{100, 200, 300} {
		wg.Add(1)
		go func(companyID int64) {
			defer wg.Done()
			_ = h.sched.RequestSwitch(ctx, companyID)
		}(id)
	}
	wg.Wait()

	require.NoError(t, h.sched.WhenReady(ctx, 5*time.Second))
	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseReady, snap.Phase)
	assert.Equal(t, model.ScopeCompany, snap.Scope)
	assert.Greater(t, snap.RunID, firstRun)
	assert.Equal(t, model.JobDone, snap.Resources["tenant:company"])
	assert.Equal(t, model.JobDone, snap.Resources["features:modules"])
	// Auth-phase resources survive a switch untouched.
	assert.Equal(t, model.JobDone, snap.Resources["auth:me"])
}

func TestSwitchDuringAuthSettlesCleanly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.auth.setDelay(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.sched.RequestBoot(ctx, model.ScopeCompany)
	}()
	time.Sleep(20 * time.Millisecond)

	// The boot is still mid-auth: its jobs sit pending or loading when the
	// switch fences them out. None of them may linger in the snapshot.
	require.NoError(t, h.sched.RequestSwitch(ctx, 42))
	<-done

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseReady, snap.Phase)
	assert.Zero(t, snap.Progress.Pending)
	assert.Zero(t, snap.Progress.Loading)
	for key, status := range snap.Resources {
		assert.Equal(t, model.JobDone, status, "resource %s", key)
	}
	assert.Equal(t, model.JobDone, snap.Resources["tenant:company"])
}

func TestSwitchInvalidatesTenantCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))

	before := h.tenant.callCount("company")
	require.NoError(t, h.sched.RequestSwitch(ctx, 42))

	// A cached tenant entry would have satisfied the fetch without a live
	// call; invalidation forces one.
	assert.Equal(t, before+1, h.tenant.callCount("company"))
}

func TestSwitchRequiresCompanyScope(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.sched.RequestSwitch(context.Background(), 1))

	require.NoError(t, h.sched.RequestBoot(context.Background(), model.ScopePlatform))
	require.Error(t, h.sched.RequestSwitch(context.Background(), 1))
}

func TestSwitchRunsResetHook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))

	var resets int
	h.sched.hooks.ResetTenantStores = func() { resets++ }
	require.NoError(t, h.sched.RequestSwitch(ctx, 7))
	assert.Equal(t, 1, resets)
}

func TestCriticalFailureEntersError(t *testing.T) {
	h := newHarness(t)
	h.auth.setOffline(true)
	h.tenant.setOffline(true)
	h.features.setOffline(true)

	require.NoError(t, h.sched.RequestBoot(context.Background(), model.ScopeCompany))

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseError, snap.Phase)
	assert.False(t, snap.IsReady)
	assert.NotEmpty(t, snap.Err)
	assert.Contains(t, []string{"auth:me", "auth:companies"}, snap.ErrKey)
	// The failed run never reached the later phases.
	assert.Zero(t, h.tenant.callCount("company"))
}

func TestRetryFailedRecoversToReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.auth.setOffline(true)

	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))
	require.Equal(t, model.PhaseError, h.sched.Snapshot().Phase)

	h.auth.setOffline(false)
	result := h.sched.RetryFailed(ctx)
	assert.False(t, result.Critical)

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseReady, snap.Phase)
	assert.True(t, snap.IsReady)
	assert.Empty(t, snap.Err)
	assert.Empty(t, snap.ErrKey)
}

func TestRetryFailedStillOffline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.auth.setOffline(true)

	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))

	result := h.sched.RetryFailed(ctx)
	assert.True(t, result.Critical)

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseError, snap.Phase)
	assert.NotEmpty(t, snap.ErrKey)
}

func TestRebootFromErrorKeepsDescription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.auth.setOffline(true)

	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))
	require.Equal(t, model.PhaseError, h.sched.Snapshot().Phase)
	require.NotEmpty(t, h.sched.Snapshot().Err)

	// The superseding boot keeps the description until it actually leaves
	// the error phase; the dev invariant battery panics if the message is
	// dropped while the phase still reads error.
	h.auth.setOffline(false)
	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseReady, snap.Phase)
	assert.Empty(t, snap.Err)
	assert.Empty(t, snap.ErrKey)
}

func TestRetryFailedNoopOutsideError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, Result{}, h.sched.RetryFailed(ctx))

	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))
	before := h.auth.callCount("me")
	assert.Equal(t, Result{}, h.sched.RetryFailed(ctx))
	assert.Equal(t, before, h.auth.callCount("me"))
}

func TestTeardownMidBoot(t *testing.T) {
	h := newHarness(t)
	h.auth.setDelay(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.sched.RequestBoot(context.Background(), model.ScopeCompany)
	}()

	time.Sleep(8 * time.Millisecond)
	h.sched.RequestTeardown()
	<-done

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseCold, snap.Phase)
	assert.Equal(t, model.ScopeNone, snap.Scope)
	assert.Empty(t, snap.Err)
	assert.Empty(t, snap.Resources)
	assert.False(t, snap.IsReady)
	assert.Empty(t, h.cache.Entries())
}

func TestTeardownIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.RequestBoot(context.Background(), model.ScopeCompany))

	h.sched.RequestTeardown()
	h.sched.RequestTeardown()
	h.sched.RequestTeardown()

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseCold, snap.Phase)
	assert.Equal(t, model.ScopeNone, snap.Scope)
}

func TestBootAfterTeardown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))
	h.sched.RequestTeardown()

	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))
	assert.Equal(t, model.PhaseReady, h.sched.Snapshot().Phase)
}

func TestCacheHitSkipsLiveCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))
	first := h.auth.callCount("me")

	// Second boot hydrates auth:me from the fresh cache entry: the action
	// runs with the cached payload instead of performing a live fetch, and
	// the offline store never notices.
	h.auth.setOffline(true)
	require.NoError(t, h.sched.RequestBoot(ctx, model.ScopeCompany))

	snap := h.sched.Snapshot()
	assert.Equal(t, model.PhaseReady, snap.Phase)
	assert.Equal(t, first+1, h.auth.callCount("me"))
}

func TestWhenReadyTimeoutIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.auth.setDelay(time.Second)

	go func() { _ = h.sched.RequestBoot(context.Background(), model.ScopeCompany) }()
	time.Sleep(5 * time.Millisecond)

	start := time.Now()
	require.NoError(t, h.sched.WhenReady(context.Background(), 20*time.Millisecond))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.NotEqual(t, model.PhaseReady, h.sched.Snapshot().Phase)

	h.sched.RequestTeardown()
}

func TestWhenAuthResolvedUnblocksOnFailure(t *testing.T) {
	h := newHarness(t)
	h.auth.setOffline(true)

	require.NoError(t, h.sched.RequestBoot(context.Background(), model.ScopeCompany))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.sched.WhenAuthResolved(ctx))
	assert.Equal(t, model.PhaseError, h.sched.Snapshot().Phase)
}

func TestJournalRecordsLifecycle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.RequestBoot(context.Background(), model.ScopeCompany))
	h.sched.RequestTeardown()

	types := make(map[string]int)
	for _, e := range h.journal.Entries() {
		types[e.Type]++
	}
	assert.NotZero(t, types["run:start"])
	assert.NotZero(t, types["phase:transition"])
	assert.NotZero(t, types["job:done"])
	assert.NotZero(t, types["run:ready"])
	assert.NotZero(t, types["teardown"])
}

func TestNewRejectsDanglingCatalogReference(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	stores := NewRegistry()
	require.NoError(t, stores.Register("auth", newFakeStore("me")))

	cat, err := catalog.New(model.ScopeCompany, []catalog.Resource{
		{Key: "auth:missing", Phase: model.PhaseAuth, Store: "auth", Action: "nope", Critical: true},
	})
	require.NoError(t, err)

	_, err = New(Options{
		Dev:      true,
		Logger:   logger,
		Journal:  journal.New(journal.DefaultCapacity, logger),
		Cache:    cache.New(cache.NewMemoryStorage(), "v1", logger),
		Aborts:   abort.NewRegistry(),
		Stores:   stores,
		Catalogs: map[model.Scope]*catalog.Catalog{model.ScopeCompany: cat},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth:missing")
}

func TestBootRejectsUnknownScope(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.sched.RequestBoot(context.Background(), model.Scope("galaxy")))
	require.Error(t, h.sched.RequestBoot(context.Background(), model.ScopeNone))
}
