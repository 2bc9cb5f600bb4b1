// Package tzos ties the breakpoint runner, SMC dispatch, and call-into-TZOS
// strategy layers together into the workflow a script actually drives: boot
// once, then execute commands one at a time and read back their results.
package tzos

import (
	"errors"
	"fmt"

	"github.com/zboralski/tzrehost/internal/events"
	"github.com/zboralski/tzrehost/internal/runner"
	"github.com/zboralski/tzrehost/internal/strategy"
	"github.com/zboralski/tzrehost/internal/wire"
)

// Runner adapts a runner.Runner and a strategy.CallIntoTzosStrategy into the
// higher-level boot/execute workflow a script sees.
type Runner struct {
	runner   *runner.Runner
	strategy strategy.CallIntoTzosStrategy
}

// New constructs a Runner driving r via strategy.
func New(r *runner.Runner, s strategy.CallIntoTzosStrategy) *Runner {
	return &Runner{runner: r, strategy: s}
}

// Cont resumes execution until one of:
//
//   - the TZOS finishes booting (returns nil, nil)
//   - the most recently issued command finishes (returns its parsed result)
//
// Any other stop — including a breakpoint outside this emulation stack, or a
// genuine target error — is returned unchanged so the caller can decide what
// to do with it.
func (r *Runner) Cont() (any, error) {
	err := r.runner.Cont()
	switch {
	case errors.Is(err, events.ErrTzosCommandFinished):
		result, parseErr := r.strategy.ParseReturnValue()
		if parseErr != nil {
			return nil, parseErr
		}
		if _, ok := nonZeroReturnCode(result); ok {
			return nil, &events.CommandFailedError{Response: result}
		}
		return result, nil
	case errors.Is(err, events.ErrTzosBooted):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return nil, fmt.Errorf("tzos: runner.Cont returned neither a result nor an error")
}

// ExecuteTzosCommand stages cmd via the configured strategy and continues
// execution until it finishes, returning its parsed result.
//
// If the command completes with a non-zero return code, ExecuteTzosCommand
// normally returns the resulting *events.CommandFailedError. When
// failSilently is true, that error is swallowed and the failed response is
// returned instead, matching callers that only care about a best-effort
// attempt (e.g. probing whether a TA is already loaded).
func (r *Runner) ExecuteTzosCommand(cmd any, failSilently bool) (any, error) {
	if err := r.strategy.ExecuteTzosCommand(cmd); err != nil {
		return nil, err
	}

	result, err := r.Cont()
	if err != nil {
		var failed *events.CommandFailedError
		if failSilently && errors.As(err, &failed) {
			return failed.Response, nil
		}
		return nil, err
	}
	return result, nil
}

// nonZeroReturnCode extracts the return code from a parsed command result,
// if result is a type this package knows how to inspect.
func nonZeroReturnCode(result any) (uint32, bool) {
	switch v := result.(type) {
	case wire.OpteeMsgArg:
		return v.Ret, v.Ret != 0
	case wire.TCNsSmcCmd:
		return v.RetVal, v.RetVal != 0
	default:
		return 0, false
	}
}
