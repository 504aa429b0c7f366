package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/djamelji/leezr-sub000/internal/abort"
	"github.com/djamelji/leezr-sub000/internal/cache"
	"github.com/djamelji/leezr-sub000/internal/catalog"
	"github.com/djamelji/leezr-sub000/internal/journal"
	"github.com/djamelji/leezr-sub000/internal/model"
	"github.com/djamelji/leezr-sub000/internal/telemetry"
)

// SessionProbe reports whether the auth-phase stores established an
// authenticated session. A nil probe means always authenticated.
type SessionProbe interface {
	Authenticated() bool
}

// Hooks are the scheduler's outward side effects, all optional.
type Hooks struct {
	// ResetTenantStores empties tenant- and feature-scoped stores before
	// a company switch re-hydrates them.
	ResetTenantStores func()
}

// Options configures a Scheduler.
type Options struct {
	Dev      bool
	Logger   *slog.Logger
	Journal  *journal.Journal
	Cache    *cache.Cache
	Aborts   *abort.Registry
	Stores   *Registry
	Catalogs map[model.Scope]*catalog.Catalog
	Session  SessionProbe
	Hooks    Hooks
}

// Scheduler is the single writer over the runtime phase/scope/resource
// state. Exactly one run is current at a time, identified by a
// monotonically increasing run id; every asynchronous continuation is
// fenced on that id so a superseded run can never mutate shared state.
type Scheduler struct {
	logger    *slog.Logger
	journal   *journal.Journal
	cache     *cache.Cache
	aborts    *abort.Registry
	stores    *Registry
	catalogs  map[model.Scope]*catalog.Catalog
	session   SessionProbe
	hooks     Hooks
	validator model.Validator
	inv       *invariantChecker
	gates     *gates

	mu           sync.Mutex
	runID        uint64
	phase        model.Phase
	scope        model.Scope
	errMsg       string
	errKey       string
	resources    map[string]model.JobStatus
	runners      []*Runner
	activeRunner *Runner
	startedAt    time.Time
	finishedAt   time.Time
	bootedAt     time.Time

	boots       metric.Int64Counter
	transitions metric.Int64Counter
	jobDuration metric.Float64Histogram
}

// New validates the catalogs against the store registry and returns a
// cold scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Stores == nil {
		return nil, fmt.Errorf("scheduler: store registry is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("scheduler: cache is required")
	}
	if opts.Aborts == nil {
		return nil, fmt.Errorf("scheduler: abort registry is required")
	}
	if opts.Journal == nil {
		return nil, fmt.Errorf("scheduler: journal is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	// Resolve every (store, action) reference now: a dangling catalog
	// entry is a startup error, never a mid-boot surprise.
	for scope, cat := range opts.Catalogs {
		for _, res := range cat.Resources() {
			if _, err := opts.Stores.Resolve(res.Store, res.Action); err != nil {
				return nil, fmt.Errorf("scheduler: %s catalog resource %q: %w", scope, res.Key, err)
			}
		}
	}

	s := &Scheduler{
		logger:    opts.Logger,
		journal:   opts.Journal,
		cache:     opts.Cache,
		aborts:    opts.Aborts,
		stores:    opts.Stores,
		catalogs:  opts.Catalogs,
		session:   opts.Session,
		hooks:     opts.Hooks,
		validator: model.Validator{Dev: opts.Dev, Logger: opts.Logger},
		phase:     model.PhaseCold,
		scope:     model.ScopeNone,
		resources: make(map[string]model.JobStatus),
		gates:     newGates(),
	}
	if opts.Dev {
		s.inv = newInvariantChecker()
	}
	s.registerMetrics()
	return s, nil
}

func (s *Scheduler) registerMetrics() {
	meter := telemetry.Meter("leezr/scheduler")

	var err error
	s.boots, err = meter.Int64Counter("leezr.scheduler.runs",
		metric.WithDescription("Total boot/switch runs started"))
	if err != nil {
		s.logger.Warn("scheduler: register runs counter", "error", err)
	}
	s.transitions, err = meter.Int64Counter("leezr.scheduler.phase_transitions",
		metric.WithDescription("Total phase transitions applied"))
	if err != nil {
		s.logger.Warn("scheduler: register transitions counter", "error", err)
	}
	s.jobDuration, err = meter.Float64Histogram("leezr.scheduler.job_duration_seconds",
		metric.WithDescription("Per-job fetch duration in seconds"))
	if err != nil {
		s.logger.Warn("scheduler: register job duration histogram", "error", err)
	}
}

// Snapshot returns a point-in-time copy of the runtime state.
func (s *Scheduler) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() model.Snapshot {
	resources := make(map[string]model.JobStatus, len(s.resources))
	for k, v := range s.resources {
		resources[k] = v
	}
	return model.Snapshot{
		Phase:     s.phase,
		Scope:     s.scope,
		IsReady:   s.phase == model.PhaseReady,
		Err:       s.errMsg,
		ErrKey:    s.errKey,
		Progress:  model.ComputeProgress(resources),
		Resources: resources,
		RunID:     s.runID,
		RunMeta: model.RunMeta{
			StartedAt:  s.startedAt,
			FinishedAt: s.finishedAt,
			BootedAt:   s.bootedAt,
		},
	}
}

// withRun runs fn under the state lock only if runID is still current.
// This is the stale-run-discard fence: late continuations of superseded
// runs become no-ops here.
func (s *Scheduler) withRun(runID uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID != runID {
		return false
	}
	fn()
	return true
}

func (s *Scheduler) superseded(runID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID != runID
}

// transitionLocked applies the phase whitelist and records the change.
func (s *Scheduler) transitionLocked(to model.Phase) {
	from := s.phase
	s.phase = s.validator.Transition(from, to)
	if s.phase != from {
		if from == model.PhaseError {
			// The error description stays observable until the moment the
			// runtime actually leaves the error phase.
			s.errMsg, s.errKey = "", ""
		}
		s.journal.Record("phase:transition", map[string]any{
			"from": string(from), "to": string(to), "run_id": s.runID,
		})
		if s.transitions != nil {
			s.transitions.Add(context.Background(), 1)
		}
	}
}

// checkInvariants asserts the structural properties of the current
// snapshot. Dev builds panic on violation; production skips the battery
// entirely.
func (s *Scheduler) checkInvariants() {
	if s.inv == nil {
		return
	}
	// Snapshot and check atomically so interleaved runs cannot produce a
	// false run-id regression.
	s.mu.Lock()
	err := s.inv.Check(s.snapshotLocked())
	s.mu.Unlock()
	if err != nil {
		panic(err)
	}
}

// takeRunnersLocked detaches the current run's runners so the caller can
// cancel them after releasing the state lock. Cancellation notifies job
// status sinks, which take the state lock themselves, so cancelling under
// the lock would deadlock.
func (s *Scheduler) takeRunnersLocked() []*Runner {
	rs := s.runners
	s.runners = nil
	s.activeRunner = nil
	return rs
}

func cancelRunners(rs []*Runner) {
	for _, r := range rs {
		r.CancelAll()
	}
}

func (s *Scheduler) authenticated() bool {
	return s.session == nil || s.session.Authenticated()
}

func (s *Scheduler) markBootedLocked() {
	now := time.Now().UTC()
	s.bootedAt = now
	s.finishedAt = now
}

// beginRunLocked supersedes the current run and opens a fresh one. The
// returned runners belong to the superseded run; the caller cancels them
// once the lock is released, after the run id bump has already fenced
// their late status notifications out.
func (s *Scheduler) beginRunLocked(scope model.Scope) (uint64, []*Runner) {
	old := s.takeRunnersLocked()
	s.runID++
	s.scope = scope
	s.resources = make(map[string]model.JobStatus)
	s.startedAt = time.Now().UTC()
	s.finishedAt = time.Time{}
	s.bootedAt = time.Time{}
	s.gates.reset()
	s.journal.Record("run:start", map[string]any{"run_id": s.runID, "scope": string(scope)})
	if s.boots != nil {
		s.boots.Add(context.Background(), 1)
	}
	return s.runID, old
}

// RequestBoot hydrates the given scope from cold or from any settled
// state, superseding whatever run is in flight. It blocks until the run
// reaches a settled outcome, is superseded, or ctx ends. The outcome is
// observed via Snapshot / WhenReady — a run that ends in the error phase
// is a state, not a Go error.
func (s *Scheduler) RequestBoot(ctx context.Context, scope model.Scope) error {
	switch scope {
	case model.ScopeCompany, model.ScopePlatform, model.ScopePublic:
	default:
		return fmt.Errorf("scheduler: cannot boot scope %q", scope)
	}
	cat := s.catalogs[scope]
	if scope != model.ScopePublic && cat == nil {
		return fmt.Errorf("scheduler: no catalog registered for scope %q", scope)
	}

	s.mu.Lock()
	runID, old := s.beginRunLocked(scope)
	if scope == model.ScopePublic {
		// Public pages need no hydration. Route through cold so a public
		// boot superseding a hydrating run takes legal transitions only.
		if s.phase != model.PhaseCold {
			s.transitionLocked(model.PhaseCold)
		}
		s.transitionLocked(model.PhaseReady)
		s.markBootedLocked()
		s.gates.resolveAll()
		s.mu.Unlock()
		cancelRunners(old)
		s.checkInvariants()
		return nil
	}
	s.mu.Unlock()
	cancelRunners(old)
	s.checkInvariants()

	result, ok := s.runPhase(runID, cat, model.PhaseAuth)
	if !ok {
		return nil // superseded
	}
	if result.Critical {
		s.failRun(runID, result)
		return nil
	}
	s.withRun(runID, func() { s.gates.resolveAuth() })

	if !s.authenticated() {
		// No further phases will run; release ready waiters too. For
		// company scope a guard elsewhere handles the login redirect; the
		// platform login surface itself needs no further hydration.
		s.withRun(runID, func() {
			if scope == model.ScopePlatform {
				s.transitionLocked(model.PhaseReady)
				s.markBootedLocked()
			} else {
				s.finishedAt = time.Now().UTC()
			}
			s.gates.resolveReady()
			s.journal.Record("run:unauthenticated", map[string]any{"run_id": runID})
		})
		s.checkInvariants()
		return nil
	}

	if scope == model.ScopePlatform {
		s.withRun(runID, func() {
			s.transitionLocked(model.PhaseReady)
			s.markBootedLocked()
			s.gates.resolveReady()
		})
		s.checkInvariants()
		return nil
	}

	for _, phase := range []model.Phase{model.PhaseTenant, model.PhaseFeatures} {
		if err := ctx.Err(); err != nil {
			s.abandonRun(runID)
			return err
		}
		if s.superseded(runID) {
			return nil
		}
		result, ok := s.runPhase(runID, cat, phase)
		if !ok {
			return nil
		}
		if result.Critical {
			s.failRun(runID, result)
			return nil
		}
	}

	s.withRun(runID, func() {
		s.transitionLocked(model.PhaseReady)
		s.markBootedLocked()
		s.gates.resolveReady()
		s.journal.Record("run:ready", map[string]any{"run_id": runID})
	})
	s.checkInvariants()
	return nil
}

// abandonRun cancels a run's outstanding jobs when its driving context
// ended before the run could settle.
func (s *Scheduler) abandonRun(runID uint64) {
	var old []*Runner
	s.withRun(runID, func() { old = s.takeRunnersLocked() })
	cancelRunners(old)
}

// RequestSwitch changes tenant without a full reboot: it supersedes the
// current run, invalidates tenant- and feature-phase caches, resets the
// corresponding stores, and re-runs exactly those two phases.
func (s *Scheduler) RequestSwitch(ctx context.Context, companyID int64) error {
	cat := s.catalogs[model.ScopeCompany]
	if cat == nil {
		return fmt.Errorf("scheduler: no company catalog registered")
	}

	s.mu.Lock()
	if s.scope != model.ScopeCompany {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: switch requires company scope, runtime is %q", s.scope)
	}
	old := s.takeRunnersLocked()
	s.runID++
	runID := s.runID
	s.startedAt = time.Now().UTC()
	s.finishedAt = time.Time{}
	s.bootedAt = time.Time{}

	// The run id bump fences the superseded run's status sinks out, so
	// any entry it left mid-flight would stay pending or loading forever.
	for key, status := range s.resources {
		if status != model.JobDone {
			delete(s.resources, key)
		}
	}
	tenantKeys := cat.PhaseKeys(model.PhaseTenant, model.PhaseFeatures)
	for _, key := range tenantKeys {
		s.cache.Remove(key)
		delete(s.resources, key)
	}
	s.gates.reset()
	s.gates.resolveAuth() // auth phase does not re-run on a switch
	s.journal.Record("run:switch", map[string]any{"run_id": runID, "company_id": companyID})
	if s.boots != nil {
		s.boots.Add(context.Background(), 1)
	}
	s.mu.Unlock()
	cancelRunners(old)

	if s.hooks.ResetTenantStores != nil {
		s.hooks.ResetTenantStores()
	}
	s.checkInvariants()

	for _, phase := range []model.Phase{model.PhaseTenant, model.PhaseFeatures} {
		if err := ctx.Err(); err != nil {
			s.abandonRun(runID)
			return err
		}
		if s.superseded(runID) {
			return nil
		}
		result, ok := s.runPhase(runID, cat, phase)
		if !ok {
			return nil
		}
		if result.Critical {
			s.failRun(runID, result)
			return nil
		}
	}

	s.withRun(runID, func() {
		s.transitionLocked(model.PhaseReady)
		s.markBootedLocked()
		s.gates.resolveReady()
		s.journal.Record("run:ready", map[string]any{"run_id": runID})
	})
	s.checkInvariants()
	return nil
}

// RequestTeardown cancels everything in flight, clears all shared state,
// and forces the runtime back to cold. It is idempotent, and it resolves
// outstanding coordination gates so no waiter hangs across a teardown.
func (s *Scheduler) RequestTeardown() {
	s.mu.Lock()
	s.runID++ // fence out any late continuations
	old := s.takeRunnersLocked()
	s.aborts.AbortAll()
	s.aborts.SetActiveGroup("")
	s.cache.Clear()
	if s.phase != model.PhaseCold {
		s.transitionLocked(model.PhaseCold)
	}
	s.scope = model.ScopeNone
	s.errMsg, s.errKey = "", ""
	s.resources = make(map[string]model.JobStatus)
	s.startedAt = time.Time{}
	s.finishedAt = time.Time{}
	s.bootedAt = time.Time{}
	s.gates.resolveAll()
	s.journal.Record("teardown", map[string]any{"run_id": s.runID})
	s.mu.Unlock()
	cancelRunners(old)
	s.checkInvariants()
}

// RetryFailed re-runs only the failed jobs of the run that entered the
// error phase, without leaving it. On full success the runtime
// transitions straight to ready — the user is never forced back through
// cold. With nothing to retry it is a no-op.
func (s *Scheduler) RetryFailed(ctx context.Context) Result {
	s.mu.Lock()
	runner := s.activeRunner
	runID := s.runID
	phase := s.phase
	s.mu.Unlock()

	if runner == nil || phase != model.PhaseError {
		return Result{}
	}
	if err := ctx.Err(); err != nil {
		return Result{}
	}

	s.journal.Record("retry:start", map[string]any{"run_id": runID})
	result := runner.RetryFailed()

	if result.Critical {
		s.withRun(runID, func() {
			s.errKey = result.ErrorKey
			s.errMsg = fmt.Sprintf("failed to load required resource %q", result.ErrorKey)
			s.journal.Record("retry:failed", map[string]any{"run_id": runID, "key": result.ErrorKey})
		})
		s.checkInvariants()
		return result
	}

	s.withRun(runID, func() {
		s.transitionLocked(model.PhaseReady)
		s.markBootedLocked()
		s.gates.resolveReady()
		s.journal.Record("retry:recovered", map[string]any{"run_id": runID})
	})
	s.checkInvariants()
	return result
}

// WhenAuthResolved blocks until the current run settles its auth phase
// (successfully or not) or ctx ends. With no run in flight it returns
// immediately.
func (s *Scheduler) WhenAuthResolved(ctx context.Context) error {
	return s.gates.auth().wait(ctx)
}

// WhenReady blocks until the current run reaches a terminal outcome, the
// timeout elapses, or ctx ends. A timeout of 0 waits indefinitely. An
// elapsed timeout is not an error: callers re-check the phase afterward.
func (s *Scheduler) WhenReady(ctx context.Context, timeout time.Duration) error {
	return s.gates.readyGate().waitTimeout(ctx, timeout)
}

// runPhase builds and executes the job batch for one phase. ok is false
// when the run was superseded before the phase could start.
func (s *Scheduler) runPhase(runID uint64, cat *catalog.Catalog, phase model.Phase) (Result, bool) {
	resources := cat.Phase(phase)

	var runner *Runner
	ok := s.withRun(runID, func() {
		s.transitionLocked(phase)
		s.aborts.SetActiveGroup(string(phase))
		parent := s.aborts.Signal(string(phase))

		prior := make(map[string]bool)
		for k, st := range s.resources {
			if st == model.JobDone {
				prior[k] = true
			}
		}

		jobs := make([]*Job, 0, len(resources))
		for _, res := range resources {
			action, err := s.stores.Resolve(res.Store, res.Action)
			if err != nil {
				// Unreachable: every reference was resolved in New.
				s.logger.Error("scheduler: unresolved catalog reference", "key", res.Key, "error", err)
				continue
			}
			s.resources[res.Key] = model.JobPending
			jobs = append(jobs, newJob(jobParams{
				res:      res,
				runID:    runID,
				action:   action,
				parent:   parent,
				cache:    s.cache,
				logger:   s.logger,
				journal:  s.journal,
				onStatus: s.statusSink(runID),
				duration: s.jobDuration,
			}))
		}
		runner = NewRunner(jobs, prior, s.logger)
		s.runners = append(s.runners, runner)
		s.activeRunner = runner
		s.journal.Record("phase:enter", map[string]any{
			"run_id": runID, "phase": string(phase), "jobs": len(jobs),
		})
	})
	if !ok {
		return Result{}, false
	}
	s.checkInvariants()

	if len(resources) == 0 {
		return Result{}, true
	}
	result := runner.Execute()
	if s.superseded(runID) {
		return Result{}, false
	}
	return result, true
}

// statusSink mirrors job status changes into the shared resource map,
// fenced on the run id.
func (s *Scheduler) statusSink(runID uint64) func(key string, status model.JobStatus) {
	return func(key string, status model.JobStatus) {
		s.mu.Lock()
		if s.runID == runID {
			s.resources[key] = status
		}
		s.mu.Unlock()
	}
}

// failRun moves a critically failed run into the error phase. The auth
// gate resolves so waiters are not stuck forever; the ready gate stays
// open only through retry, teardown, or supersession.
func (s *Scheduler) failRun(runID uint64, result Result) {
	s.withRun(runID, func() {
		s.transitionLocked(model.PhaseError)
		s.errKey = result.ErrorKey
		s.errMsg = fmt.Sprintf("failed to load required resource %q", result.ErrorKey)
		s.finishedAt = time.Now().UTC()
		s.gates.resolveAuth()
		s.journal.Record("run:error", map[string]any{"run_id": runID, "key": result.ErrorKey})
	})
	s.checkInvariants()
}
