package scheduler

import (
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/djamelji/leezr-sub000/internal/model"
)

// Result is a batch verdict. Critical reports whether a critical resource
// failed; ErrorKey names the blocking resource when it did.
type Result struct {
	Critical bool   `json:"critical"`
	ErrorKey string `json:"error_key,omitempty"`
}

// Runner executes the ordered job batch of one phase of one run,
// respecting declared dependencies with maximal parallelism per
// dependency layer.
type Runner struct {
	logger *slog.Logger
	jobs   []*Job
	byKey  map[string]*Job
	// prior holds keys already satisfied in earlier phases of the run;
	// dependencies on them are met by construction.
	prior map[string]bool
}

// NewRunner creates a runner over jobs. prior lists resource keys that
// reached done in earlier phases.
func NewRunner(jobs []*Job, prior map[string]bool, logger *slog.Logger) *Runner {
	byKey := make(map[string]*Job, len(jobs))
	for _, j := range jobs {
		byKey[j.res.Key] = j
	}
	if prior == nil {
		prior = map[string]bool{}
	}
	return &Runner{logger: logger, jobs: jobs, byKey: byKey, prior: prior}
}

// Jobs returns the batch in declaration order.
func (r *Runner) Jobs() []*Job {
	out := make([]*Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Statuses returns the current status of every job in the batch.
func (r *Runner) Statuses() map[string]model.JobStatus {
	out := make(map[string]model.JobStatus, len(r.jobs))
	for _, j := range r.jobs {
		out[j.res.Key] = j.Status()
	}
	return out
}

// Execute drives the batch to convergence. Jobs in the same dependency
// layer start together and are awaited jointly. A critical failure stops
// execution immediately: the rest of the batch is abandoned, not
// cancelled. An unsatisfiable dependency graph fails every remaining
// critical job and skips every remaining non-critical one.
func (r *Runner) Execute() Result {
	for {
		pending := r.pendingJobs()
		if len(pending) == 0 {
			return Result{}
		}

		var runnable []*Job
		for _, j := range pending {
			if r.depsSatisfied(j) {
				runnable = append(runnable, j)
			}
		}
		if len(runnable) == 0 {
			return r.resolveBlocked(pending)
		}

		var g errgroup.Group
		for _, j := range runnable {
			g.Go(func() error {
				j.Run()
				return nil
			})
		}
		_ = g.Wait()

		for _, j := range runnable {
			if j.Status() == model.JobError && j.res.Critical {
				return Result{Critical: true, ErrorKey: j.res.Key}
			}
		}
	}
}

// RetryFailed rearms only error-status jobs and re-executes the batch.
// With zero failed jobs it is a no-op.
func (r *Runner) RetryFailed() Result {
	retried := 0
	for _, j := range r.jobs {
		if j.Status() == model.JobError {
			j.resetForRetry()
			retried++
		}
	}
	if retried == 0 {
		return Result{}
	}
	return r.Execute()
}

// CancelAll cancels every job in the batch.
func (r *Runner) CancelAll() {
	for _, j := range r.jobs {
		j.Cancel()
	}
}

func (r *Runner) pendingJobs() []*Job {
	var out []*Job
	for _, j := range r.jobs {
		if j.Status() == model.JobPending {
			out = append(out, j)
		}
	}
	return out
}

func (r *Runner) depsSatisfied(j *Job) bool {
	for _, dep := range j.res.DependsOn {
		if r.prior[dep] {
			continue
		}
		dj, ok := r.byKey[dep]
		if !ok {
			// Cross-phase dependency that never completed; catalog
			// validation guarantees it is not a typo.
			return false
		}
		if dj.Status() != model.JobDone {
			return false
		}
	}
	return true
}

// resolveBlocked handles a batch where no pending job is runnable: its
// dependency graph is unsatisfiable (an upstream job failed, was
// cancelled, or never ran). Remaining critical jobs become fatal
// blockers; remaining non-critical jobs are skipped so the batch still
// converges. The skip is logged as a warning: silent convergence would
// mask a misconfigured dependency graph.
func (r *Runner) resolveBlocked(pending []*Job) Result {
	var firstCritical string
	for _, j := range pending {
		if j.res.Critical {
			r.logger.Error("scheduler: critical job blocked, dependency never satisfied",
				"key", j.res.Key, "depends_on", j.res.DependsOn)
			j.markBlocked()
			if firstCritical == "" {
				firstCritical = j.res.Key
			}
		} else {
			r.logger.Warn("scheduler: skipping blocked non-critical job",
				"key", j.res.Key, "depends_on", j.res.DependsOn)
			j.markSkipped()
		}
	}
	if firstCritical != "" {
		return Result{Critical: true, ErrorKey: firstCritical}
	}
	return Result{}
}
