package leezr

import (
	"log/slog"

	"github.com/djamelji/leezr-sub000/internal/broadcast"
	"github.com/djamelji/leezr-sub000/internal/cache"
)

// Option configures a Runtime.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger          *slog.Logger
	version         string
	dev             *bool
	cachePath       string
	cacheVersion    string
	cacheStorage    cache.Storage
	broadcastURL    string
	broadcastHub    *broadcast.MemoryHub
	journalCapacity int
	catalogs        map[Scope][]Resource
	stores          map[string]Store
	session         SessionState
	identity        Identity
	navigator       Navigator
	resetter        StoreResetter
}

// WithLogger sets the structured logger for the Runtime.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDev overrides dev mode from config (LEEZR_DEV env var). Dev mode
// panics on illegal phase transitions and runs the invariant checker
// after every operation.
func WithDev(dev bool) Option {
	return func(o *resolvedOptions) { o.dev = &dev }
}

// WithCachePath overrides the SQLite boot-cache file from config
// (LEEZR_CACHE_PATH env var). Empty keeps the cache in memory.
func WithCachePath(path string) Option {
	return func(o *resolvedOptions) { o.cachePath = path }
}

// WithCacheVersion overrides the cache schema version from config
// (LEEZR_CACHE_VERSION env var). Bumping it invalidates every entry.
func WithCacheVersion(version string) Option {
	return func(o *resolvedOptions) { o.cacheVersion = version }
}

// WithCacheStorage replaces the boot-cache storage backend entirely.
// Takes precedence over WithCachePath.
func WithCacheStorage(storage cache.Storage) Option {
	return func(o *resolvedOptions) { o.cacheStorage = storage }
}

// WithBroadcastURL overrides the Postgres LISTEN/NOTIFY URL from config
// (LEEZR_BROADCAST_URL env var). Requires a direct (non-pooled)
// connection.
func WithBroadcastURL(url string) Option {
	return func(o *resolvedOptions) { o.broadcastURL = url }
}

// WithBroadcastHub connects the runtime to an in-process hub instead of
// Postgres. Useful for tests and single-process multi-runtime setups.
// Takes precedence over WithBroadcastURL.
func WithBroadcastHub(hub *broadcast.MemoryHub) Option {
	return func(o *resolvedOptions) { o.broadcastHub = hub }
}

// NewMemoryBroadcastHub creates an in-process broadcast hub to share
// between runtimes via WithBroadcastHub.
func NewMemoryBroadcastHub() *broadcast.MemoryHub {
	return broadcast.NewMemoryHub()
}

// WithJournalCapacity overrides the journal ring size from config
// (LEEZR_JOURNAL_CAPACITY env var).
func WithJournalCapacity(n int) Option {
	return func(o *resolvedOptions) { o.journalCapacity = n }
}

// WithCatalog replaces the built-in resource catalog for a scope.
// Catalogs are validated at New: unknown dependencies, cycles, and
// dependencies on later phases are construction errors.
func WithCatalog(scope Scope, resources []Resource) Option {
	return func(o *resolvedOptions) {
		if o.catalogs == nil {
			o.catalogs = make(map[Scope][]Resource)
		}
		o.catalogs[scope] = resources
	}
}

// WithStore registers a store under its logical identifier. Every store
// referenced by a catalog must be registered.
func WithStore(id string, s Store) Option {
	return func(o *resolvedOptions) {
		if o.stores == nil {
			o.stores = make(map[string]Store)
		}
		o.stores[id] = s
	}
}

// WithSessionState sets the authenticated-session probe. Without one the
// runtime assumes every session is authenticated.
func WithSessionState(s SessionState) Option {
	return func(o *resolvedOptions) { o.session = s }
}

// WithIdentity sets the tenant-selection persistence hook.
func WithIdentity(id Identity) Option {
	return func(o *resolvedOptions) { o.identity = id }
}

// WithNavigator sets the login-surface redirect hook.
func WithNavigator(n Navigator) Option {
	return func(o *resolvedOptions) { o.navigator = n }
}

// WithStoreResetter sets the tenant-store reset hook invoked before a
// company switch re-hydrates tenant and feature resources.
func WithStoreResetter(r StoreResetter) Option {
	return func(o *resolvedOptions) { o.resetter = r }
}
