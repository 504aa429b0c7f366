// Package model defines the core domain types for the runtime boot
// orchestrator: phases, scopes, job statuses, and state snapshots.
//
// Types use strong typing (enums, time.Time) and avoid interface{}
// wherever possible. The phase transition whitelist lives here so every
// package that mutates or inspects runtime state shares one table.
package model

import (
	"fmt"
	"log/slog"
)

// Phase is one stage of the boot sequence plus the terminal states.
type Phase string

const (
	PhaseCold     Phase = "cold"
	PhaseAuth     Phase = "auth"
	PhaseTenant   Phase = "tenant"
	PhaseFeatures Phase = "features"
	PhaseReady    Phase = "ready"
	PhaseError    Phase = "error"
)

// Scope is the application surface being booted. It determines which
// resource catalog and which phase subset apply.
type Scope string

const (
	ScopeCompany  Scope = "company"
	ScopePlatform Scope = "platform"
	ScopePublic   Scope = "public"
	ScopeNone     Scope = ""
)

// FetchPhases lists the phases that carry catalog resources, in boot order.
var FetchPhases = []Phase{PhaseAuth, PhaseTenant, PhaseFeatures}

// PhaseOrder returns the position of a fetch phase in the boot sequence,
// or -1 for phases that carry no resources.
func PhaseOrder(p Phase) int {
	for i, fp := range FetchPhases {
		if fp == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is one of the six legal phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseCold, PhaseAuth, PhaseTenant, PhaseFeatures, PhaseReady, PhaseError:
		return true
	}
	return false
}

// Valid reports whether s is a legal scope. ScopeNone is legal: it is the
// scope of a torn-down runtime.
func (s Scope) Valid() bool {
	switch s {
	case ScopeCompany, ScopePlatform, ScopePublic, ScopeNone:
		return true
	}
	return false
}

// validPhaseTransitions is the whitelist of legal phase changes.
// A new boot may start from any phase (→ auth), a tenant switch may start
// from any settled phase (→ tenant), and teardown forces any phase → cold.
var validPhaseTransitions = map[Phase]map[Phase]bool{
	PhaseCold: {
		PhaseAuth:  true,
		PhaseReady: true, // public scope needs no hydration
	},
	PhaseAuth: {
		PhaseAuth:   true, // superseding boot while auth in flight
		PhaseTenant: true,
		PhaseReady:  true, // platform scope ends after auth
		PhaseError:  true,
		PhaseCold:   true,
	},
	PhaseTenant: {
		PhaseAuth:     true,
		PhaseTenant:   true, // superseding switch while switch in flight
		PhaseFeatures: true,
		PhaseError:    true,
		PhaseCold:     true,
	},
	PhaseFeatures: {
		PhaseAuth:   true,
		PhaseTenant: true,
		PhaseReady:  true,
		PhaseError:  true,
		PhaseCold:   true,
	},
	PhaseReady: {
		PhaseAuth:   true,
		PhaseTenant: true,
		PhaseReady:  true, // idempotent public boot
		PhaseCold:   true,
	},
	PhaseError: {
		PhaseAuth:   true,
		PhaseTenant: true,
		PhaseReady:  true, // retry of failed jobs succeeded
		PhaseCold:   true,
	},
}

// CanTransition is the pure, side-effect-free transition predicate.
func CanTransition(from, to Phase) bool {
	return validPhaseTransitions[from][to]
}

// InvalidTransitionError reports an attempted illegal phase change.
// It only ever escapes in dev builds; production validators log instead.
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("model: invalid phase transition: %q → %q", e.From, e.To)
}

// Validator applies the transition whitelist. In dev mode an illegal
// transition panics immediately (fail fast on programmer error); in
// production it logs the anomaly and leaves the visible phase unchanged.
type Validator struct {
	Dev    bool
	Logger *slog.Logger
}

// Transition returns to when the (from, to) pair is legal, otherwise from.
func (v *Validator) Transition(from, to Phase) Phase {
	if CanTransition(from, to) {
		return to
	}
	err := &InvalidTransitionError{From: from, To: to}
	if v.Dev {
		panic(err)
	}
	if v.Logger != nil {
		v.Logger.Error("model: illegal phase transition rejected", "from", from, "to", to)
	}
	return from
}
