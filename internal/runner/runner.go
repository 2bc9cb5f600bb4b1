// Package runner implements the breakpoint-driven control loop every other
// component in this module rides on: a map from address to handler, and a
// Cont call that resumes the target and dispatches whatever handler is
// registered at the address it stops at.
//
// The original implementation this is modeled on used Python exceptions to
// unwind from deep inside a handler back up to the caller of cont() (e.g. "the
// TZOS just finished booting", "this SMC has no registered handler"). Go has
// no comparable mechanism suited to normal control flow, so handlers return
// a plain error, and packages that need to signal something other than "ran
// to completion" define their own sentinel/typed errors for Runner.Cont's
// caller to inspect with errors.Is/errors.As.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zboralski/tzrehost/internal/target"
)

// ErrForeignBreakpoint is returned by Cont when the target stops at an
// address with no registered handler.
var ErrForeignBreakpoint = errors.New("runner: stopped at a breakpoint with no registered handler")

// ForeignBreakpointError carries the address a ForeignBreakpoint stop
// happened at.
type ForeignBreakpointError struct {
	Address uint64
}

func (e *ForeignBreakpointError) Error() string {
	return fmt.Sprintf("runner: stopped at unregistered breakpoint %#x", e.Address)
}

func (e *ForeignBreakpointError) Unwrap() error { return ErrForeignBreakpoint }

// Handler is invoked when Cont stops the target at the address it was
// registered for. The pc argument is that address.
type Handler func(pc uint64) error

// Runner holds the breakpoint-to-handler map and serializes access to the
// underlying target across concurrent callers.
type Runner struct {
	target target.Target

	mu       sync.Mutex
	handlers map[uint64]Handler
}

// New creates a Runner driving t. No breakpoints are registered yet.
func New(t target.Target) *Runner {
	return &Runner{target: t, handlers: make(map[uint64]Handler)}
}

// SetHandler arms a breakpoint at addr on the target and registers fn to
// run when execution stops there.
func (r *Runner) SetHandler(addr uint64, fn Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.target.SetBreakpoint(addr); err != nil {
		return fmt.Errorf("runner: arming breakpoint at %#x: %w", addr, err)
	}
	r.handlers[addr] = fn
	return nil
}

// RemoveHandler disarms the breakpoint at addr and forgets its handler.
func (r *Runner) RemoveHandler(addr uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[addr]; !ok {
		return fmt.Errorf("runner: no handler registered at %#x", addr)
	}
	delete(r.handlers, addr)
	return r.target.RemoveBreakpoint(addr)
}

// Cont resumes the target and dispatches the handler registered at the
// address it stops at, repeating for as long as a handler returns nil — a
// single boot or command typically trips several breakpoints (boot patches,
// serviced RPCs, the default SMC) before the one that actually has
// something to report. The first non-nil handler return — including any
// component-specific signal error — is returned unchanged; a stop at an
// address with no registered handler also ends the loop immediately.
func (r *Runner) Cont() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		pc, err := r.target.Continue()
		if err != nil {
			return err
		}

		handler, ok := r.handlers[pc]
		if !ok {
			return &ForeignBreakpointError{Address: pc}
		}
		if err := handler(pc); err != nil {
			return err
		}
	}
}

// Shutdown drains any in-flight Cont call (by waiting for the handler mutex)
// and closes the underlying target.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return r.target.Close()
}
