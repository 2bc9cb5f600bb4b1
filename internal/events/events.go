// Package events holds the sentinel and typed errors used to signal
// control-flow events across the SMC emulator, TEE driver, call-into-TZOS
// strategy, and TZOS runner layers.
//
// The system these layers emulate was originally described in terms of
// exceptions raised from deep inside a breakpoint handler and caught several
// call frames up, a pattern Python's lack of generator return values made
// convenient. Go has no equivalent shortcut, so the same signals are
// expressed here as ordinary error values callers inspect with errors.Is and
// errors.As, keeping the dispatch-by-return-value idiom consistent across
// every package that needs to raise one.
package events

import "fmt"

// ErrTzosBooted signals that the TZOS has just reported completion of its
// boot sequence (the "return from boot" SMC).
var ErrTzosBooted = fmt.Errorf("tzos: boot completed")

// ErrTzosCommandFinished signals that the most recently issued TZOS command
// has completed. The result itself is not carried on the error — callers
// re-read it from shared memory via a CallIntoTzosStrategy.
var ErrTzosCommandFinished = fmt.Errorf("tzos: command finished")

// ErrNonTzosBreakpointHit signals that execution stopped at a breakpoint
// not managed by the TZOS SMC/TEE-driver/supplicant emulation stack.
var ErrNonTzosBreakpointHit = fmt.Errorf("tzos: stopped at a breakpoint outside the tzos emulation stack")

// CommandFailedError is returned when a TZOS command completes with a
// non-zero return code. Response holds whatever the call-into-TZOS
// strategy decoded from shared memory, typed per-TZOS (e.g. wire.OpteeMsgArg).
type CommandFailedError struct {
	Response any
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("tzos: command failed, response=%+v", e.Response)
}

// UnsupportedRPCError is returned by a TEE driver when it receives an RPC
// function identifier it does not implement.
type UnsupportedRPCError struct {
	FuncID uint64
}

func (e *UnsupportedRPCError) Error() string {
	return fmt.Sprintf("tzos: unsupported rpc function received: %#x", e.FuncID)
}

// UnknownCommandError is returned by a TEE supplicant when it receives a
// command identifier it does not implement.
type UnknownCommandError struct {
	CommandID uint64
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("tzos: unknown supplicant command id: %#x", e.CommandID)
}
