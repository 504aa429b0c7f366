package scheduler

import (
	"fmt"
	"sync"

	"github.com/djamelji/leezr-sub000/internal/model"
)

// InvariantViolationError reports a structural property of the runtime
// state that no legal sequence of operations should be able to break.
type InvariantViolationError struct {
	Name   string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Name, e.Detail)
}

// invariantChecker runs a battery of named predicates over snapshots.
// It only exists in dev mode; production builds carry a nil checker and
// skip the battery entirely.
type invariantChecker struct {
	mu        sync.Mutex
	lastRunID uint64
}

func newInvariantChecker() *invariantChecker {
	return &invariantChecker{}
}

type invariant struct {
	name  string
	check func(c *invariantChecker, s model.Snapshot) string
}

var invariants = []invariant{
	{"phase-valid", func(_ *invariantChecker, s model.Snapshot) string {
		if !s.Phase.Valid() {
			return fmt.Sprintf("unknown phase %q", s.Phase)
		}
		return ""
	}},
	{"scope-valid", func(_ *invariantChecker, s model.Snapshot) string {
		if !s.Scope.Valid() {
			return fmt.Sprintf("unknown scope %q", s.Scope)
		}
		return ""
	}},
	{"ready-settled", func(_ *invariantChecker, s model.Snapshot) string {
		if s.Phase != model.PhaseReady {
			return ""
		}
		if !s.IsReady {
			return "phase is ready but IsReady is false"
		}
		if s.Progress.Pending != 0 || s.Progress.Loading != 0 {
			return fmt.Sprintf("phase is ready with %d pending and %d loading jobs",
				s.Progress.Pending, s.Progress.Loading)
		}
		return ""
	}},
	{"error-described", func(_ *invariantChecker, s model.Snapshot) string {
		if s.Phase != model.PhaseError {
			return ""
		}
		if s.IsReady {
			return "phase is error but IsReady is true"
		}
		if s.Err == "" {
			return "phase is error with no error message"
		}
		return ""
	}},
	{"run-id-monotonic", func(c *invariantChecker, s model.Snapshot) string {
		if s.RunID < c.lastRunID {
			return fmt.Sprintf("run id went backwards from %d to %d", c.lastRunID, s.RunID)
		}
		c.lastRunID = s.RunID
		return ""
	}},
	{"cold-empty", func(_ *invariantChecker, s model.Snapshot) string {
		if s.Phase != model.PhaseCold {
			return ""
		}
		if s.Err != "" {
			return "cold runtime carries an error message"
		}
		if len(s.Resources) != 0 {
			return fmt.Sprintf("cold runtime carries %d resource statuses", len(s.Resources))
		}
		return ""
	}},
	{"platform-no-tenant", func(_ *invariantChecker, s model.Snapshot) string {
		if s.Scope != model.ScopePlatform {
			return ""
		}
		if s.Phase == model.PhaseTenant || s.Phase == model.PhaseFeatures {
			return fmt.Sprintf("platform scope entered phase %q", s.Phase)
		}
		return ""
	}},
	{"public-trivial", func(_ *invariantChecker, s model.Snapshot) string {
		if s.Scope != model.ScopePublic {
			return ""
		}
		if s.Phase != model.PhaseCold && s.Phase != model.PhaseReady {
			return fmt.Sprintf("public scope entered phase %q", s.Phase)
		}
		return ""
	}},
}

// Check runs the battery and returns the first violation found.
func (c *invariantChecker) Check(s model.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inv := range invariants {
		if detail := inv.check(c, s); detail != "" {
			return &InvariantViolationError{Name: inv.name, Detail: detail}
		}
	}
	return nil
}
