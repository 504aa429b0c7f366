package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/djamelji/leezr-sub000/internal/cache"
	"github.com/djamelji/leezr-sub000/internal/catalog"
	"github.com/djamelji/leezr-sub000/internal/journal"
	"github.com/djamelji/leezr-sub000/internal/model"
)

// jobParams bundles everything a Job needs at construction.
type jobParams struct {
	res      catalog.Resource
	runID    uint64
	action   ActionFunc
	parent   context.Context
	cache    *cache.Cache
	logger   *slog.Logger
	journal  *journal.Journal
	onStatus func(key string, status model.JobStatus)
	duration metric.Float64Histogram
}

// Job is one run's attempt to satisfy one catalog resource. It owns an
// independent cancellation handle derived from its phase group signal and
// never outlives its run: superseded runs cancel their jobs, and any late
// resolution is discarded by the scheduler's run-id fencing.
type Job struct {
	res      catalog.Resource
	runID    uint64
	action   ActionFunc
	parent   context.Context
	cache    *cache.Cache
	logger   *slog.Logger
	journal  *journal.Journal
	onStatus func(key string, status model.JobStatus)
	histo    metric.Float64Histogram

	mu       sync.Mutex
	status   model.JobStatus
	err      error
	duration time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

func newJob(p jobParams) *Job {
	ctx, cancel := context.WithCancel(p.parent)
	return &Job{
		res:      p.res,
		runID:    p.runID,
		action:   p.action,
		parent:   p.parent,
		cache:    p.cache,
		logger:   p.logger,
		journal:  p.journal,
		onStatus: p.onStatus,
		histo:    p.duration,
		status:   model.JobPending,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Key returns the resource key this job satisfies.
func (j *Job) Key() string { return j.res.Key }

// Status returns the job's current lifecycle state.
func (j *Job) Status() model.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the recorded failure, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Duration returns how long the last attempt ran.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.duration
}

// Cancel signals the job's cancellation handle. A job that already
// settled keeps its terminal state — cancellation after resolution is not
// retroactive — but the handle is cancelled regardless so any background
// refresh still in flight stops.
func (j *Job) Cancel() {
	j.mu.Lock()
	terminal := j.status.IsTerminal()
	if !terminal {
		j.status = model.JobCancelled
	}
	j.mu.Unlock()

	j.cancel()
	if !terminal {
		j.notify(model.JobCancelled)
		j.record("job:cancelled", nil)
	}
}

// Run executes the job to a terminal state. It is a no-op unless the job
// is pending.
func (j *Job) Run() {
	j.mu.Lock()
	if j.status != model.JobPending {
		j.mu.Unlock()
		return
	}
	j.status = model.JobRunning
	j.mu.Unlock()
	j.notify(model.JobRunning)

	start := time.Now()
	err := j.execute()
	elapsed := time.Since(start)

	j.mu.Lock()
	j.duration = elapsed
	if j.status != model.JobRunning {
		// Explicit cancellation won the race; keep that terminal state.
		j.mu.Unlock()
		return
	}
	var settled model.JobStatus
	switch {
	case err == nil:
		settled = model.JobDone
	case IsCancellation(err):
		settled = model.JobCancelled
	default:
		settled = model.JobError
		j.err = err
	}
	j.status = settled
	j.mu.Unlock()

	if j.histo != nil {
		j.histo.Record(context.Background(), elapsed.Seconds())
	}
	j.notify(settled)
	switch settled {
	case model.JobDone:
		j.record("job:done", map[string]any{"duration_ms": elapsed.Milliseconds()})
	case model.JobError:
		j.logger.Warn("scheduler: job failed", "key", j.res.Key, "critical", j.res.Critical, "error", err)
		j.record("job:error", map[string]any{"error": err.Error()})
	case model.JobCancelled:
		j.record("job:cancelled", nil)
	}
}

// execute performs the cache check / hydration / live call sequence and
// returns the classification error, if any.
func (j *Job) execute() error {
	if j.res.Cacheable && j.res.TTL > 0 && j.cache != nil {
		if data, stale, ok := j.cache.Get(j.res.Key, j.res.TTL); ok {
			// Hydrate the store from cache instead of performing I/O.
			// Hydration failure falls through to a live call rather than
			// failing the job outright.
			if _, err := j.action(j.ctx, ActionCall{Cached: data}); err == nil {
				j.record("job:cache-hit", map[string]any{"key": j.res.Key, "stale": stale})
				if stale {
					go j.refresh()
				}
				return nil
			} else if IsCancellation(err) {
				return err
			}
			j.logger.Debug("scheduler: cache hydration failed, fetching live", "key", j.res.Key)
		}
	}

	data, err := j.action(j.ctx, ActionCall{})
	if err != nil {
		return err
	}
	if j.res.Cacheable && j.res.TTL > 0 && j.cache != nil && data != nil {
		j.cache.Set(j.res.Key, data)
	}
	return nil
}

// refresh re-fetches a stale resource in the background. Successes
// overwrite the cache entry; failures are silently discarded — whoever
// reads the stale entry next gets another chance.
func (j *Job) refresh() {
	data, err := j.action(j.ctx, ActionCall{})
	if err != nil || data == nil {
		return
	}
	j.cache.Set(j.res.Key, data)
	j.record("job:refresh", map[string]any{"key": j.res.Key})
}

// markSkipped settles a non-critical job whose dependencies can never be
// met as done, so the batch converges.
func (j *Job) markSkipped() {
	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return
	}
	j.status = model.JobDone
	j.mu.Unlock()
	j.notify(model.JobDone)
	j.record("job:skipped", map[string]any{"key": j.res.Key})
}

// markBlocked settles a critical job whose dependencies can never be met
// as a failure.
func (j *Job) markBlocked() {
	err := &BlockedError{Key: j.res.Key}
	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return
	}
	j.status = model.JobError
	j.err = err
	j.mu.Unlock()
	j.notify(model.JobError)
	j.record("job:error", map[string]any{"error": err.Error()})
}

// resetForRetry rearms a failed job with a fresh cancellation handle.
func (j *Job) resetForRetry() {
	j.mu.Lock()
	if j.status != model.JobError {
		j.mu.Unlock()
		return
	}
	j.cancel()
	j.ctx, j.cancel = context.WithCancel(j.parent)
	j.status = model.JobPending
	j.err = nil
	j.mu.Unlock()
	j.notify(model.JobPending)
}

func (j *Job) notify(status model.JobStatus) {
	if j.onStatus != nil {
		j.onStatus(j.res.Key, status)
	}
}

func (j *Job) record(typ string, data map[string]any) {
	if j.journal == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["key"]; !ok {
		data["key"] = j.res.Key
	}
	data["run_id"] = j.runID
	j.journal.Record(typ, data)
}
