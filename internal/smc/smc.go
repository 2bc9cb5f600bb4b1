// Package smc emulates the secure monitor's SMC dispatch: it sits at the
// TZOS's SMC callback address and, each time execution stops there, reads
// the function identifier out of x0 and reacts — recording the TZOS's eret
// entrypoint the first time it boots, forwarding normal-world RPCs to a TEE
// driver, or just acking with a default eret for anything else.
package smc

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zboralski/tzrehost/internal/events"
	"github.com/zboralski/tzrehost/internal/rehost"
)

// TeeDriver services RPCs the secure monitor forwards out of the TZOS into
// the normal world.
type TeeDriver interface {
	HandleRPC() error
}

// Emulator handles the breakpoint hit at a TZOS's SMC entrypoint.
type Emulator struct {
	ctx       *rehost.Context
	teeDriver TeeDriver
	log       *zap.SugaredLogger
}

// New constructs an Emulator bound to ctx, forwarding normal-world RPCs to
// teeDriver.
func New(ctx *rehost.Context, teeDriver TeeDriver, log *zap.SugaredLogger) *Emulator {
	return &Emulator{ctx: ctx, teeDriver: teeDriver, log: log}
}

// Handle is the breakpoint handler to register at ctx.SMCEntrypointAddress.
// Its pc argument is unused — SMC dispatch reads its target from x0, not
// from the address it stopped at — but it matches the runner.Handler
// signature.
func (e *Emulator) Handle(_ uint64) error {
	functionID, err := e.ctx.Target.ReadRegister("x0")
	if err != nil {
		return fmt.Errorf("smc: reading smc function identifier: %w", err)
	}

	var handlerErr error
	switch functionID {
	case e.ctx.SMCReturnFromTzosBootIdentifier:
		handlerErr = e.handleReturnFromBoot()
	case e.ctx.SMCNormalWorldCallIdentifier:
		handlerErr = e.handleCallToNormalWorld()
	default:
		handlerErr = e.handleDefault()
	}

	if e.log != nil {
		e.log.Infow("smc received", "function_id", fmt.Sprintf("%#x", functionID))
	}
	return handlerErr
}

func (e *Emulator) handleDefault() error {
	_, err := e.ctx.WriteAArch64SMCReturnAssembly("eret")
	return err
}

func (e *Emulator) handleReturnFromBoot() error {
	entry, err := e.ctx.Target.ReadRegister("x1")
	if err != nil {
		return fmt.Errorf("smc: reading tee_entry_std address: %w", err)
	}
	if err := e.ctx.SetTzosEretEntrypoint(entry); err != nil {
		return fmt.Errorf("smc: recording tzos eret entrypoint: %w", err)
	}
	if e.log != nil {
		e.log.Debugw("tee_entry_std address recorded", "address", fmt.Sprintf("%#x", entry))
	}
	return events.ErrTzosBooted
}

func (e *Emulator) handleCallToNormalWorld() error {
	err := e.teeDriver.HandleRPC()
	if err != nil {
		// A signal (command finished) or a genuine failure both skip the
		// eret back into the TZOS: the former because the caller will set
		// up the next call itself, the latter because there's nothing
		// sensible to resume.
		if errors.Is(err, events.ErrTzosCommandFinished) {
			return err
		}
		return fmt.Errorf("smc: handling rpc call to normal world: %w", err)
	}

	if err := e.ctx.WriteSystemRegister("spsr_el3", e.ctx.SMCSpsrRegisterValue); err != nil {
		return err
	}
	entry, _ := e.ctx.TzosEretEntrypoint()
	if err := e.ctx.WriteSystemRegister("elr_el3", entry); err != nil {
		return err
	}
	_, err = e.ctx.WriteAArch64SMCReturnAssembly("eret")
	return err
}
