package leezr

import "time"

// Phase is the runtime boot lifecycle state.
type Phase string

const (
	PhaseCold     Phase = "cold"
	PhaseAuth     Phase = "auth"
	PhaseTenant   Phase = "tenant"
	PhaseFeatures Phase = "features"
	PhaseReady    Phase = "ready"
	PhaseError    Phase = "error"
)

// Scope selects which hydration catalog a boot runs.
type Scope string

const (
	// ScopeCompany hydrates the full tenant workspace: auth, tenant and
	// feature resources.
	ScopeCompany Scope = "company"
	// ScopePlatform hydrates the back-office admin surface: auth only.
	ScopePlatform Scope = "platform"
	// ScopePublic requires no hydration and boots straight to ready.
	ScopePublic Scope = "public"
	// ScopeNone is the cold runtime before any boot.
	ScopeNone Scope = ""
)

// JobStatus is one resource's fetch lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

// Resource declares one hydratable unit of a boot catalog.
type Resource struct {
	// Key uniquely identifies the resource and doubles as its cache key.
	Key string
	// Phase the resource is fetched in: auth, tenant or features.
	Phase Phase
	// Store and Action name the async operation that fetches it.
	Store  string
	Action string
	// TTL is the cache lifetime; 0 disables caching for this resource.
	TTL time.Duration
	// DependsOn lists resource keys that must complete first.
	DependsOn []string
	// Critical failures abort the boot; non-critical ones are logged and
	// the boot continues.
	Critical bool
	// Cacheable resources participate in the stale-while-revalidate
	// cache. It defaults to true for resources that declare a TTL.
	Cacheable bool
}

// Progress counts resources by status for the current run.
type Progress struct {
	Pending   int `json:"pending"`
	Loading   int `json:"loading"`
	Done      int `json:"done"`
	Errored   int `json:"errored"`
	Cancelled int `json:"cancelled"`
}

// RunMeta carries the timing of the current run.
type RunMeta struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	BootedAt   time.Time `json:"booted_at"`
}

// Snapshot is a point-in-time view of the runtime state.
type Snapshot struct {
	Phase     Phase                `json:"phase"`
	Scope     Scope                `json:"scope"`
	IsReady   bool                 `json:"is_ready"`
	Err       string               `json:"err,omitempty"`
	ErrKey    string               `json:"err_key,omitempty"`
	Progress  Progress             `json:"progress"`
	Resources map[string]JobStatus `json:"resources"`
	RunID     uint64               `json:"run_id"`
	RunMeta   RunMeta              `json:"run_meta"`
}

// RetryResult is the outcome of a RetryFailed call. The zero value means
// there was nothing to retry.
type RetryResult struct {
	// Critical is true when a required resource failed again.
	Critical bool
	// ErrorKey names the first required resource that failed again.
	ErrorKey string
}

// JournalEntry is one recorded runtime lifecycle event.
type JournalEntry struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
	At   time.Time      `json:"at"`
}
