package stress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/djamelji/leezr-sub000/internal/model"
)

// Scenario is one scripted fault-injection run against a fresh harness.
type Scenario struct {
	Name string
	Run  func(ctx context.Context, h *Harness) error
}

// Result is the outcome of one scenario.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report aggregates scenario results.
type Report struct {
	Seed    int64    `json:"seed"`
	Results []Result `json:"results"`
}

// Failed reports whether any scenario failed.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return true
		}
	}
	return false
}

// Scenarios returns the standard battery.
func Scenarios() []Scenario {
	return []Scenario{
		{Name: "boot-churn", Run: bootChurn},
		{Name: "concurrent-switches", Run: concurrentSwitches},
		{Name: "offline-then-retry", Run: offlineThenRetry},
		{Name: "teardown-mid-boot", Run: teardownMidBoot},
	}
}

// RunAll runs every scenario against its own seeded harness.
func RunAll(ctx context.Context, seed int64, logger *slog.Logger) Report {
	report := Report{Seed: seed}
	for _, sc := range Scenarios() {
		h, err := NewHarness(seed, logger)
		if err != nil {
			report.Results = append(report.Results, Result{Name: sc.Name, Err: err.Error()})
			continue
		}
		start := time.Now()
		err = sc.Run(ctx, h)
		res := Result{Name: sc.Name, Passed: err == nil, Duration: time.Since(start)}
		if err != nil {
			res.Err = err.Error()
			logger.Error("stress: scenario failed", "scenario", sc.Name, "error", err)
		} else {
			logger.Info("stress: scenario passed", "scenario", sc.Name, "duration", res.Duration)
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func expectPhase(h *Harness, want model.Phase) error {
	snap := h.Scheduler.Snapshot()
	if snap.Phase != want {
		return fmt.Errorf("phase is %q, want %q (err=%q key=%q)", snap.Phase, want, snap.Err, snap.ErrKey)
	}
	return nil
}

// bootChurn fires 50 overlapping company boots under mild latency and
// expects the runtime to converge to ready with every resource done.
func bootChurn(ctx context.Context, h *Harness) error {
	h.SetAllProfiles(FaultProfile{Latency: time.Millisecond, Jitter: 2 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Scheduler.RequestBoot(ctx, model.ScopeCompany)
		}()
	}
	wg.Wait()

	if err := h.Scheduler.WhenReady(ctx, 10*time.Second); err != nil {
		return err
	}
	if err := expectPhase(h, model.PhaseReady); err != nil {
		return err
	}
	for key, status := range h.Scheduler.Snapshot().Resources {
		if status != model.JobDone {
			return fmt.Errorf("resource %s settled %q after churn", key, status)
		}
	}
	return nil
}

// concurrentSwitches boots once, then races three tenant switches and
// expects the last-won run to finish ready in company scope.
func concurrentSwitches(ctx context.Context, h *Harness) error {
	if err := h.Scheduler.RequestBoot(ctx, model.ScopeCompany); err != nil {
		return err
	}
	if err := expectPhase(h, model.PhaseReady); err != nil {
		return err
	}

	h.SetAllProfiles(FaultProfile{Latency: time.Millisecond, Jitter: 3 * time.Millisecond})
	var wg sync.WaitGroup
	for _, id := range []int64{100, 200, 300} {
		wg.Add(1)
		go func(companyID int64) {
			defer wg.Done()
			_ = h.Scheduler.RequestSwitch(ctx, companyID)
		}(id)
	}
	wg.Wait()

	if err := h.Scheduler.WhenReady(ctx, 10*time.Second); err != nil {
		return err
	}
	snap := h.Scheduler.Snapshot()
	if snap.Scope != model.ScopeCompany {
		return fmt.Errorf("scope is %q after switches", snap.Scope)
	}
	return expectPhase(h, model.PhaseReady)
}

// offlineThenRetry boots against a dead backend, expects the error
// phase, restores the backend, and expects RetryFailed to recover
// straight to ready.
func offlineThenRetry(ctx context.Context, h *Harness) error {
	h.SetAllProfiles(FaultProfile{Offline: true})
	if err := h.Scheduler.RequestBoot(ctx, model.ScopeCompany); err != nil {
		return err
	}
	if err := expectPhase(h, model.PhaseError); err != nil {
		return err
	}
	snap := h.Scheduler.Snapshot()
	if snap.ErrKey == "" {
		return fmt.Errorf("error phase carries no failing resource key")
	}

	h.SetAllProfiles(FaultProfile{})
	if res := h.Scheduler.RetryFailed(ctx); res.Critical {
		return fmt.Errorf("retry still failing on %q", res.ErrorKey)
	}
	return expectPhase(h, model.PhaseReady)
}

// teardownMidBoot tears the runtime down a few milliseconds into a slow
// boot and expects a clean cold state.
func teardownMidBoot(ctx context.Context, h *Harness) error {
	h.SetAllProfiles(FaultProfile{Latency: 50 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Scheduler.RequestBoot(ctx, model.ScopeCompany)
	}()

	time.Sleep(8 * time.Millisecond)
	h.Scheduler.RequestTeardown()
	<-done

	snap := h.Scheduler.Snapshot()
	if snap.Phase != model.PhaseCold {
		return fmt.Errorf("phase is %q after teardown", snap.Phase)
	}
	if snap.Scope != model.ScopeNone {
		return fmt.Errorf("scope is %q after teardown", snap.Scope)
	}
	if snap.Err != "" || len(snap.Resources) != 0 {
		return fmt.Errorf("teardown left state behind: err=%q resources=%d", snap.Err, len(snap.Resources))
	}
	return nil
}
