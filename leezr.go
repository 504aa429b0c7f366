// Package leezr is the public API for embedding the Leezr boot
// orchestrator: the run-scoped state machine that hydrates a tenant
// workspace through auth, tenant and feature phases, caches fetched
// resources with stale-while-revalidate semantics, and coordinates
// lifecycle events across runtimes.
//
//	rt, err := leezr.New(
//	    leezr.WithLogger(logger),
//	    leezr.WithStore("auth", authStore),
//	    leezr.WithStore("tenant", tenantStore),
//	    leezr.WithStore("features", featureStore),
//	    leezr.WithSessionState(session),
//	)
//	if err != nil { ... }
//	defer rt.Close(ctx)
//	rt.Boot(ctx, leezr.ScopeCompany)
//
// The import graph enforces a strict no-cycle rule: leezr (root) imports
// internal/*, but internal/* never imports leezr (root). Public types
// (Snapshot, Resource, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file
// that sees both sides of the boundary.
package leezr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/djamelji/leezr-sub000/internal/abort"
	"github.com/djamelji/leezr-sub000/internal/broadcast"
	"github.com/djamelji/leezr-sub000/internal/cache"
	"github.com/djamelji/leezr-sub000/internal/catalog"
	"github.com/djamelji/leezr-sub000/internal/config"
	"github.com/djamelji/leezr-sub000/internal/journal"
	"github.com/djamelji/leezr-sub000/internal/model"
	"github.com/djamelji/leezr-sub000/internal/scheduler"
	"github.com/djamelji/leezr-sub000/internal/telemetry"
)

// Runtime is the boot orchestrator lifecycle. Construct with New(),
// drive with Boot/SwitchCompany/Teardown, observe with Snapshot and the
// When* waiters.
type Runtime struct {
	cfg          config.Config
	sched        *scheduler.Scheduler
	cache        *cache.Cache
	journal      *journal.Journal
	bus          *broadcast.Bus
	busCancel    context.CancelFunc
	storageClose func() error
	otelShutdown func(context.Context) error
	identity     Identity
	navigator    Navigator
	bootTimeout  time.Duration
	logger       *slog.Logger
	version      string
}

// New wires the runtime: configuration, cache storage, resource
// catalogs, the scheduler, and the cross-runtime broadcast bus. It does
// not run any boot — call Boot.
func New(opts ...Option) (*Runtime, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.dev != nil {
		cfg.Dev = *o.dev
	}
	if o.cachePath != "" {
		cfg.CachePath = o.cachePath
	}
	if o.cacheVersion != "" {
		cfg.CacheVersion = o.cacheVersion
	}
	if o.broadcastURL != "" {
		cfg.BroadcastURL = o.broadcastURL
	}
	if o.journalCapacity > 0 {
		cfg.JournalCapacity = o.journalCapacity
	}

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     o.version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Cache storage: explicit override, then SQLite file, then memory.
	storage := o.cacheStorage
	var storageClose func() error
	if storage == nil {
		if cfg.CachePath != "" {
			sq, err := cache.NewSQLiteStorage(cfg.CachePath)
			if err != nil {
				return nil, fmt.Errorf("open cache at %s: %w", cfg.CachePath, err)
			}
			storage = sq
			storageClose = sq.Close
		} else {
			storage = cache.NewMemoryStorage()
		}
	}

	bootCache := cache.New(storage, cfg.CacheVersion, logger)
	jnl := journal.New(cfg.JournalCapacity, logger)

	catalogs, err := buildCatalogs(o.catalogs)
	if err != nil {
		return nil, err
	}

	stores := scheduler.NewRegistry()
	for id, s := range o.stores {
		if err := stores.Register(id, storeAdapter{s}); err != nil {
			return nil, fmt.Errorf("register store: %w", err)
		}
	}

	var probe scheduler.SessionProbe
	if o.session != nil {
		probe = o.session
	}
	var hooks scheduler.Hooks
	if o.resetter != nil {
		hooks.ResetTenantStores = o.resetter.ResetTenantStores
	}

	sched, err := scheduler.New(scheduler.Options{
		Dev:      cfg.Dev,
		Logger:   logger,
		Journal:  jnl,
		Cache:    bootCache,
		Aborts:   abort.NewRegistry(),
		Stores:   stores,
		Catalogs: catalogs,
		Session:  probe,
		Hooks:    hooks,
	})
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:          cfg,
		sched:        sched,
		cache:        bootCache,
		journal:      jnl,
		storageClose: storageClose,
		otelShutdown: otelShutdown,
		identity:     o.identity,
		navigator:    o.navigator,
		bootTimeout:  cfg.BootTimeout,
		logger:       logger,
		version:      o.version,
	}

	transport, err := rt.buildTransport(o)
	if err != nil {
		return nil, err
	}
	rt.bus = broadcast.New(transport, rt.busHandlers(o), logger)
	busCtx, busCancel := context.WithCancel(context.Background())
	rt.busCancel = busCancel
	rt.bus.Start(busCtx)

	logger.Info("leezr: runtime initialised",
		"version", o.version, "dev", cfg.Dev,
		"cache_path", cfg.CachePath, "cache_version", cfg.CacheVersion)
	return rt, nil
}

func (rt *Runtime) buildTransport(o resolvedOptions) (broadcast.Transport, error) {
	switch {
	case o.broadcastHub != nil:
		return o.broadcastHub.Transport(), nil
	case rt.cfg.BroadcastURL != "":
		t, err := broadcast.NewPostgresTransport(context.Background(), rt.cfg.BroadcastURL, rt.logger)
		if err != nil {
			return nil, fmt.Errorf("connect broadcast transport: %w", err)
		}
		return t, nil
	default:
		return broadcast.NoopTransport{}, nil
	}
}

// busHandlers maps received lifecycle events onto local runtime actions.
// The sending runtime already performed the action itself; these apply
// it to every other runtime sharing the transport.
func (rt *Runtime) busHandlers(o resolvedOptions) broadcast.Handlers {
	listener, _ := o.session.(SessionListener)
	return broadcast.Handlers{
		Logout: func(context.Context) {
			rt.sched.RequestTeardown()
			if rt.identity != nil {
				rt.identity.ClearCompanyID()
			}
			if rt.navigator != nil {
				rt.navigator.ToLogin()
			}
		},
		CompanySwitch: func(ctx context.Context, companyID int64) {
			// A runtime outside company scope rejects the switch; it must
			// not persist the selection either.
			if err := rt.sched.RequestSwitch(ctx, companyID); err != nil {
				rt.logger.Warn("leezr: remote company switch not applied", "company_id", companyID, "error", err)
				return
			}
			if rt.identity != nil {
				rt.identity.PersistCompanyID(companyID)
			}
		},
		CacheInvalidate: func(_ context.Context, keys []string) {
			for _, key := range keys {
				rt.cache.Remove(key)
			}
		},
		SessionExtended: func(_ context.Context, ttl time.Duration) {
			if listener != nil {
				listener.SessionExtended(ttl)
			}
		},
		SessionExpired: func(context.Context) {
			rt.sched.RequestTeardown()
			if listener != nil {
				listener.SessionExpired()
			}
			if rt.navigator != nil {
				rt.navigator.ToLogin()
			}
		},
	}
}

// Boot hydrates the given scope, superseding any run in flight. It
// returns when the run settles, is superseded, or ctx ends; the outcome
// is observed via Snapshot. A boot that ends in the error phase is a
// state, not a Go error.
func (rt *Runtime) Boot(ctx context.Context, scope Scope) error {
	return rt.sched.RequestBoot(ctx, model.Scope(scope))
}

// SwitchCompany changes the active tenant without a full reboot: it
// persists the selection, invalidates tenant and feature caches, resets
// those stores, re-runs the tenant and features phases, and notifies
// other runtimes.
func (rt *Runtime) SwitchCompany(ctx context.Context, companyID int64) error {
	if rt.identity != nil {
		rt.identity.PersistCompanyID(companyID)
	}
	if err := rt.sched.RequestSwitch(ctx, companyID); err != nil {
		return err
	}
	if err := rt.bus.CompanySwitch(ctx, companyID); err != nil {
		rt.logger.Warn("leezr: company switch broadcast failed", "error", err)
	}
	return nil
}

// Teardown cancels everything in flight and returns the runtime to
// cold. Local only; see Logout for the cross-runtime variant.
func (rt *Runtime) Teardown() {
	rt.sched.RequestTeardown()
	rt.logJournalTail("teardown")
}

// Logout tears the local runtime down, clears the persisted tenant
// selection, notifies every other runtime, and redirects to login.
func (rt *Runtime) Logout(ctx context.Context) {
	rt.sched.RequestTeardown()
	if rt.identity != nil {
		rt.identity.ClearCompanyID()
	}
	if err := rt.bus.Logout(ctx); err != nil {
		rt.logger.Warn("leezr: logout broadcast failed", "error", err)
	}
	if rt.navigator != nil {
		rt.navigator.ToLogin()
	}
}

// RetryFailed re-runs only the failed jobs of a boot that ended in the
// error phase. On success the runtime transitions straight to ready.
// With nothing to retry the zero RetryResult is returned.
func (rt *Runtime) RetryFailed(ctx context.Context) RetryResult {
	res := rt.sched.RetryFailed(ctx)
	return RetryResult{Critical: res.Critical, ErrorKey: res.ErrorKey}
}

// WhenAuthResolved blocks until the current run settles its auth phase
// or ctx ends. Route guards wait on this before deciding on redirects.
func (rt *Runtime) WhenAuthResolved(ctx context.Context) error {
	return rt.sched.WhenAuthResolved(ctx)
}

// WhenReady blocks until the current run reaches a terminal outcome,
// the configured boot timeout elapses, or ctx ends. An elapsed timeout
// is not an error; callers re-check the phase via Snapshot.
func (rt *Runtime) WhenReady(ctx context.Context) error {
	return rt.sched.WhenReady(ctx, rt.bootTimeout)
}

// Snapshot returns a point-in-time view of the runtime state.
func (rt *Runtime) Snapshot() Snapshot {
	return toPublicSnapshot(rt.sched.Snapshot())
}

// Journal returns the recorded lifecycle events, oldest first.
func (rt *Runtime) Journal() []JournalEntry {
	entries := rt.journal.Entries()
	out := make([]JournalEntry, len(entries))
	for i, e := range entries {
		out[i] = JournalEntry{Type: e.Type, Data: e.Data, At: e.At}
	}
	return out
}

// InvalidateCache drops the given cache keys locally and notifies other
// runtimes to do the same.
func (rt *Runtime) InvalidateCache(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		rt.cache.Remove(key)
	}
	return rt.bus.CacheInvalidate(ctx, keys)
}

// ExtendSession notifies other runtimes that the session was extended.
func (rt *Runtime) ExtendSession(ctx context.Context, ttl time.Duration) error {
	return rt.bus.SessionExtended(ctx, ttl)
}

// ExpireSession tears the local runtime down and notifies other
// runtimes that the session expired.
func (rt *Runtime) ExpireSession(ctx context.Context) error {
	rt.sched.RequestTeardown()
	return rt.bus.SessionExpired(ctx)
}

// Close releases the broadcast transport, cache storage, and telemetry
// exporters. The runtime is unusable afterwards.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.busCancel()
	var firstErr error
	if err := rt.bus.Close(); err != nil {
		firstErr = err
	}
	if rt.storageClose != nil {
		if err := rt.storageClose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.otelShutdown != nil {
		if err := rt.otelShutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// logJournalTail logs the last few journal entries for post-mortem
// debugging of teardown ordering issues.
func (rt *Runtime) logJournalTail(op string) {
	entries := rt.journal.Entries()
	const tail = 5
	if len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, e := range entries {
		rt.logger.Debug("leezr: journal tail", "op", op, "type", e.Type, "at", e.At, "data", e.Data)
	}
}

// storeAdapter bridges the public Store interface to the scheduler's.
type storeAdapter struct {
	s Store
}

func (a storeAdapter) Action(name string) (scheduler.ActionFunc, bool) {
	f, ok := a.s.Action(name)
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, call scheduler.ActionCall) (json.RawMessage, error) {
		return f(ctx, ActionCall{Cached: call.Cached})
	}, true
}

// buildCatalogs converts public catalog overrides and fills in the
// built-in defaults for scopes the caller did not override.
func buildCatalogs(overrides map[Scope][]Resource) (map[model.Scope]*catalog.Catalog, error) {
	specs := map[model.Scope][]catalog.Resource{
		model.ScopeCompany:  catalog.Company(),
		model.ScopePlatform: catalog.Platform(),
	}
	for scope, resources := range overrides {
		internal := make([]catalog.Resource, len(resources))
		for i, r := range resources {
			internal[i] = catalog.Resource{
				Key:       r.Key,
				Phase:     model.Phase(r.Phase),
				Store:     r.Store,
				Action:    r.Action,
				TTL:       r.TTL,
				DependsOn: r.DependsOn,
				Critical:  r.Critical,
				Cacheable: r.Cacheable,
			}
		}
		specs[model.Scope(scope)] = internal
	}

	out := make(map[model.Scope]*catalog.Catalog, len(specs))
	for scope, resources := range specs {
		c, err := catalog.New(scope, resources)
		if err != nil {
			return nil, fmt.Errorf("catalog for scope %q: %w", scope, err)
		}
		out[scope] = c
	}
	return out, nil
}

func toPublicSnapshot(s model.Snapshot) Snapshot {
	resources := make(map[string]JobStatus, len(s.Resources))
	for k, v := range s.Resources {
		resources[k] = JobStatus(v)
	}
	return Snapshot{
		Phase:   Phase(s.Phase),
		Scope:   Scope(s.Scope),
		IsReady: s.IsReady,
		Err:     s.Err,
		ErrKey:  s.ErrKey,
		Progress: Progress{
			Pending:   s.Progress.Pending,
			Loading:   s.Progress.Loading,
			Done:      s.Progress.Done,
			Errored:   s.Progress.Errored,
			Cancelled: s.Progress.Cancelled,
		},
		Resources: resources,
		RunID:     s.RunID,
		RunMeta: RunMeta{
			StartedAt:  s.RunMeta.StartedAt,
			FinishedAt: s.RunMeta.FinishedAt,
			BootedAt:   s.RunMeta.BootedAt,
		},
	}
}
