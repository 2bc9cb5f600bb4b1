package strategy

import (
	"fmt"

	"github.com/zboralski/tzrehost/internal/rehost"
	"github.com/zboralski/tzrehost/internal/wire"
)

// smcCallWithArg is OPTEE_SMC_CALL_WITH_ARG, the function identifier OP-TEE
// expects in x0 to process a command whose arguments sit in shared memory.
const smcCallWithArg = 0x32000004

// Optee is the OP-TEE flavor of CallIntoTzosStrategy: commands and their
// results are both wire.OpteeMsgArg structs exchanged through a single
// shared-memory region.
type Optee struct {
	ctx *rehost.Context
}

// NewOptee constructs an Optee strategy bound to ctx.
func NewOptee(ctx *rehost.Context) *Optee {
	return &Optee{ctx: ctx}
}

// ExecuteTzosCommand stages cmd (a wire.OpteeMsgArg) in shared memory, points
// x0/x2 at it, and hands control to the TZOS via eret.
func (o *Optee) ExecuteTzosCommand(cmd any) error {
	arg, ok := cmd.(wire.OpteeMsgArg)
	if !ok {
		return fmt.Errorf("strategy: optee expects a wire.OpteeMsgArg command, got %T", cmd)
	}

	if _, ok := o.ctx.TzosEretEntrypoint(); !ok {
		return fmt.Errorf("strategy: tzos has not booted yet, no eret entrypoint recorded")
	}

	if err := o.ctx.Target.WriteMemory(o.ctx.SharedMemoryAddress, wire.ToBytes(arg)); err != nil {
		return fmt.Errorf("strategy: writing command to shared memory: %w", err)
	}

	if err := o.writeEntryRegisters(); err != nil {
		return err
	}

	_, err := o.ctx.WriteAArch64SMCReturnAssembly("eret")
	return err
}

func (o *Optee) writeEntryRegisters() error {
	if err := o.ctx.WriteSystemRegister("spsr_el3", o.ctx.SMCSpsrRegisterValue); err != nil {
		return err
	}
	entry, _ := o.ctx.TzosEretEntrypoint()
	if err := o.ctx.WriteSystemRegister("elr_el3", entry); err != nil {
		return err
	}

	if err := o.ctx.Target.WriteRegister("x0", smcCallWithArg); err != nil {
		return err
	}
	if err := o.ctx.Target.WriteRegister("x2", o.ctx.SharedMemoryAddress); err != nil {
		return err
	}
	for _, reg := range []string{"x1", "x3", "x4", "x5", "x6"} {
		if err := o.ctx.Target.WriteRegister(reg, 0); err != nil {
			return err
		}
	}
	return nil
}

// ParseReturnValue decodes the OpteeMsgArg sitting in shared memory. A
// non-zero ret is surfaced as a CommandFailedError by the caller (see
// internal/tzos), not here — parsing always succeeds if the bytes are
// well-formed.
func (o *Optee) ParseReturnValue() (any, error) {
	arg, err := wire.ParseOpteeMsgArg(o.ctx.Target, o.ctx.SharedMemoryAddress)
	if err != nil {
		return nil, fmt.Errorf("strategy: parsing optee command result: %w", err)
	}
	return arg, nil
}
