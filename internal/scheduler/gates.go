package scheduler

import (
	"context"
	"sync"
	"time"
)

// gate is a promise that settles at most once per run-cycle.
type gate struct {
	ch   chan struct{}
	once sync.Once
}

func newGate(resolved bool) *gate {
	g := &gate{ch: make(chan struct{})}
	if resolved {
		g.resolve()
	}
	return g
}

func (g *gate) resolve() {
	g.once.Do(func() { close(g.ch) })
}

func (g *gate) done() <-chan struct{} { return g.ch }

// gates holds the per-run coordination promises. When no run is in
// flight both gates are resolved: there is nothing to wait for.
//
// Starting a new run resolves the previous run's gates before installing
// fresh ones, so a waiter on a superseded run unblocks and re-checks the
// phase instead of hanging forever.
type gates struct {
	mu           sync.Mutex
	authResolved *gate
	ready        *gate
}

func newGates() *gates {
	return &gates{
		authResolved: newGate(true),
		ready:        newGate(true),
	}
}

func (gs *gates) reset() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.authResolved.resolve()
	gs.ready.resolve()
	gs.authResolved = newGate(false)
	gs.ready = newGate(false)
}

func (gs *gates) resolveAuth() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.authResolved.resolve()
}

func (gs *gates) resolveReady() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.ready.resolve()
}

func (gs *gates) resolveAll() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.authResolved.resolve()
	gs.ready.resolve()
}

func (gs *gates) auth() *gate {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.authResolved
}

func (gs *gates) readyGate() *gate {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.ready
}

// wait blocks until the gate resolves or ctx ends.
func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitTimeout blocks until the gate resolves, the timeout elapses, or
// ctx ends. An elapsed timeout is swallowed: callers re-check the phase
// afterward rather than treating it as an error.
func (g *gate) waitTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return g.wait(ctx)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-g.done():
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
