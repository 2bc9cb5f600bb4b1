// Package target defines the execution-target abstraction the rehosting
// core drives: something that can be stepped via breakpoints, and whose
// registers and memory can be read and written. internal/target provides two
// implementations — EmulatedTarget (Unicorn Engine) and RemoteTarget (a GDB
// remote-serial-protocol client for a physical device).
package target

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a Target.
type State int

const (
	// StateStopped means the target is halted at a known PC and can be
	// inspected or resumed.
	StateStopped State = iota
	// StateRunning means a Continue call is in flight. Targets only report
	// this state to an observer from another goroutine; Continue itself
	// blocks the caller until the target stops again.
	StateRunning
	// StateTerminated means the target has exited and can no longer run.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrTerminated is returned by Continue when called on a target that has
// already exited.
var ErrTerminated = errors.New("target: already terminated")

// ErrBreakpointExists is returned by SetBreakpoint for an address that
// already has one set.
var ErrBreakpointExists = errors.New("target: breakpoint already set at this address")

// ErrNoBreakpoint is returned by RemoveBreakpoint for an address with no
// breakpoint set.
var ErrNoBreakpoint = errors.New("target: no breakpoint set at this address")

// Target is the execution-control and memory/register access surface the
// rehosting core needs from whatever is running the TZOS binary, whether an
// in-process emulator or a physical device reached over a debug link.
type Target interface {
	// State reports the target's current lifecycle state.
	State() State

	// SetBreakpoint arms a breakpoint at addr. Continue stops there the next
	// time execution reaches it.
	SetBreakpoint(addr uint64) error
	// RemoveBreakpoint disarms a previously set breakpoint.
	RemoveBreakpoint(addr uint64) error

	// Continue resumes execution from the current PC and blocks until a
	// breakpoint is hit or the target terminates. It reports the PC the
	// target stopped at.
	Continue() (pc uint64, err error)

	// Step executes exactly one instruction from the current PC and
	// reports the PC afterward. Used by internal/rehost's JIT helper to
	// retire the final instruction of a temporary code sequence without
	// running past the breakpoint set one instruction before it.
	Step() (pc uint64, err error)

	// ReadRegister and WriteRegister address registers by name (e.g. "x0",
	// "pc", "sp", "lr", "spsr_el3", "elr_el3"); internal/bridge translates
	// compat32 register names onto these.
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, value uint64) error

	// ReadMemory and WriteMemory access the target's address space.
	ReadMemory(addr uint64, size int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error

	// Close releases any resources (emulator handle, socket) the target
	// holds.
	Close() error
}
