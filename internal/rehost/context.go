// Package rehost holds the state shared across the rehosting core's
// components (the SMC emulator, TEE driver, call-into-TZOS strategy, and
// TZOS runner all read from and write to one Context) and the JIT
// code-execution helper used to write registers the debug protocol can't
// reach directly.
package rehost

import (
	"errors"
	"fmt"

	"github.com/zboralski/tzrehost/internal/bridge"
	"github.com/zboralski/tzrehost/internal/target"
)

// ErrEretEntrypointAlreadySet is returned by SetTzosEretEntrypoint when
// called more than once: the entrypoint is discovered the first time the
// TZOS reaches its boot-complete SMC and never changes afterward, so a
// second call indicates a bug in the caller rather than a legitimate update.
var ErrEretEntrypointAlreadySet = errors.New("rehost: tzos eret entrypoint already set")

// Context is the shared state threaded through the SMC emulator, TEE
// driver/supplicant emulators, call-into-TZOS strategy, and TZOS runner.
type Context struct {
	Target       target.Target
	TargetBridge bridge.TargetBridge
	CodeExec     *CodeExecHelper

	SMCEntrypointAddress uint64

	SharedMemoryAddress     uint64
	SharedMemorySize        uint64
	NsecSharedMemoryAddress uint64
	NsecSharedMemorySize    uint64

	SMCSpsrRegisterValue            uint64
	SMCReturnFromTzosBootIdentifier uint64
	SMCNormalWorldCallIdentifier    uint64

	TrustedAppsDir    string
	SecureStorageDir  string

	tzosEretEntrypoint    uint64
	tzosEretEntrypointSet bool
}

// SetTzosEretEntrypoint records the address the TZOS's secure monitor
// returns to via eret after handling an SMC, the first time it is
// discovered. It may only be set once per Context.
func (c *Context) SetTzosEretEntrypoint(addr uint64) error {
	if c.tzosEretEntrypointSet {
		return ErrEretEntrypointAlreadySet
	}
	c.tzosEretEntrypoint = addr
	c.tzosEretEntrypointSet = true
	return nil
}

// TzosEretEntrypoint returns the recorded entrypoint and whether it has
// been set yet.
func (c *Context) TzosEretEntrypoint() (addr uint64, ok bool) {
	return c.tzosEretEntrypoint, c.tzosEretEntrypointSet
}

// WriteAArch64SMCReturnAssembly assembles assemblerCode and writes it at
// SMCEntrypointAddress, returning the number of bytes written.
func (c *Context) WriteAArch64SMCReturnAssembly(assemblerCode string) (int, error) {
	assembly, err := aarch64Asm(assemblerCode)
	if err != nil {
		return 0, fmt.Errorf("rehost: assembling SMC return code: %w", err)
	}
	if err := c.Target.WriteMemory(c.SMCEntrypointAddress, assembly); err != nil {
		return 0, fmt.Errorf("rehost: writing SMC return code at %#x: %w", c.SMCEntrypointAddress, err)
	}
	return len(assembly), nil
}

// WriteSystemRegister sets an EL3 system register the debug protocol can't
// write directly: it stashes the value in a scratch general-purpose
// register, JIT-assembles an MSR instruction referencing it, executes that
// instruction via CodeExec, and restores the scratch register's old value.
func (c *Context) WriteSystemRegister(systemRegister string, value uint64) error {
	const scratch = "x0"

	oldValue, err := c.Target.ReadRegister(scratch)
	if err != nil {
		return fmt.Errorf("rehost: saving scratch register before system register write: %w", err)
	}

	if err := c.Target.WriteRegister(scratch, value); err != nil {
		return fmt.Errorf("rehost: staging value in scratch register: %w", err)
	}

	code := fmt.Sprintf("msr %s, %s", systemRegister, scratch)
	if err := c.CodeExec.AssembleAndStore(code); err != nil {
		return fmt.Errorf("rehost: assembling system register write: %w", err)
	}
	if err := c.CodeExec.Run(); err != nil {
		return fmt.Errorf("rehost: executing system register write: %w", err)
	}

	if err := c.Target.WriteRegister(scratch, oldValue); err != nil {
		return fmt.Errorf("rehost: restoring scratch register after system register write: %w", err)
	}
	return nil
}
