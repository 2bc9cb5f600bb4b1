// Package forwarder relays SMC world switches between a TZOS rehosted
// locally and a physical device's normal world reached over a TCP
// connection to a lightweight agent running on or near the device, in place
// of rehosting both sides of the exchange in a single process.
package forwarder

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/zboralski/tzrehost/internal/events"
	"github.com/zboralski/tzrehost/internal/peripheral"
	"github.com/zboralski/tzrehost/internal/rehost"
)

// SMC function identifiers this forwarder reacts to on the emulator side.
// These values (particularly the two 0xBE0000xx ones) were identified by
// observing boot behavior rather than from any published calling
// convention.
const (
	smcDefaultEmulator   = 0x80000000
	smcReturnFromBoot    = 0xBE000000
	smcCallToNormalWorld = 0xBE000005
)

// Forwarder drives the local (emulator-side) target's SMC breakpoint and
// exchanges ForwardedSmc messages with the remote agent over conn.
type Forwarder struct {
	ctx  *rehost.Context
	conn net.Conn
	log  *zap.SugaredLogger

	eretEntrypoint    uint64
	eretEntrypointSet bool

	skipCallsUntilReady int
}

// New constructs a Forwarder driving ctx's local target, exchanging
// ForwardedSmc messages with the agent reachable over conn.
func New(ctx *rehost.Context, conn net.Conn, log *zap.SugaredLogger) *Forwarder {
	return &Forwarder{ctx: ctx, conn: conn, log: log}
}

// SkipCallsUntilReady sets the number of forwarded-call replies to silently
// drop before forwarding is activated, letting a physical device finish its
// own boot-time SMC setup undisturbed.
func (f *Forwarder) SkipCallsUntilReady(n int) {
	f.skipCallsUntilReady = n
}

// ContEmulator resumes the local target until the TZOS boots, a command is
// forwarded to the remote agent, or a breakpoint outside this forwarder's
// SMC entrypoint is hit (events.ErrNonTzosBreakpointHit).
func (f *Forwarder) ContEmulator() error {
	if err := f.ctx.Target.SetBreakpoint(f.ctx.SMCEntrypointAddress); err != nil {
		return fmt.Errorf("forwarder: arming smc breakpoint: %w", err)
	}

	for {
		pc, err := f.ctx.Target.Continue()
		if err != nil {
			return err
		}
		if pc != f.ctx.SMCEntrypointAddress {
			_ = f.ctx.Target.RemoveBreakpoint(f.ctx.SMCEntrypointAddress)
			return events.ErrNonTzosBreakpointHit
		}

		done, err := f.handleSMCFromTzos()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (f *Forwarder) handleSMCFromTzos() (done bool, err error) {
	funcID, err := f.ctx.Target.ReadRegister("x0")
	if err != nil {
		return false, fmt.Errorf("forwarder: reading smc function id: %w", err)
	}

	if f.log != nil {
		f.log.Infow("sw->smc->nw", "function_id", fmt.Sprintf("%#x", funcID))
	}

	switch funcID {
	case smcReturnFromBoot:
		return true, f.handleReturnFromBoot()
	case smcCallToNormalWorld:
		return true, f.handleCallToNormalWorld()
	default:
		return false, f.writeDefaultEret()
	}
}

func (f *Forwarder) handleReturnFromBoot() error {
	if f.eretEntrypointSet {
		return fmt.Errorf("forwarder: eret entrypoint already recorded")
	}
	entry, err := f.ctx.Target.ReadRegister("x1")
	if err != nil {
		return fmt.Errorf("forwarder: reading eret entrypoint: %w", err)
	}
	f.eretEntrypoint = entry
	f.eretEntrypointSet = true
	if f.log != nil {
		f.log.Infow("tee_entry_std recorded", "address", fmt.Sprintf("%#x", entry))
	}
	return nil
}

func (f *Forwarder) writeDefaultEret() error {
	_, err := f.ctx.WriteAArch64SMCReturnAssembly("eret")
	return err
}

// handleCallToNormalWorld snapshots the shared memory region and the SMC's
// argument registers and forwards them to the remote agent. The reply is
// consumed separately, by ContPhysicalDeviceReply, mirroring the original's
// split between its emulator-side and physical-device-side continue loops.
//
// The snapshot is staged through an InMemoryBuffer rather than forwarded as a
// raw slice, so writing it is bounds-checked against the shared-memory
// region's configured size.
func (f *Forwarder) handleCallToNormalWorld() error {
	raw, err := f.ctx.Target.ReadMemory(f.ctx.SharedMemoryAddress, int(f.ctx.SharedMemorySize))
	if err != nil {
		return fmt.Errorf("forwarder: reading shared memory snapshot: %w", err)
	}
	staged := peripheral.NewInMemoryBuffer("forwarder_shm_snapshot", f.ctx.SharedMemoryAddress, f.ctx.SharedMemorySize)
	if err := staged.WriteAt(raw); err != nil {
		return fmt.Errorf("forwarder: staging shared memory snapshot: %w", err)
	}
	shm, err := staged.ReadMemoryRaw(f.ctx.SharedMemoryAddress, int(f.ctx.SharedMemorySize))
	if err != nil {
		return fmt.Errorf("forwarder: reading staged shared memory snapshot: %w", err)
	}

	msg := ForwardedSmc{FunctionID: smcCallToNormalWorld, ShmSnapshot: shm}
	for i, reg := range []string{"x1", "x2", "x3", "x4", "x5", "x6"} {
		v, err := f.ctx.Target.ReadRegister(reg)
		if err != nil {
			return fmt.Errorf("forwarder: reading %s: %w", reg, err)
		}
		msg.X[i] = v
	}

	if err := WriteFrame(f.conn, msg); err != nil {
		return fmt.Errorf("forwarder: forwarding smc to physical device: %w", err)
	}
	return nil
}

// ContPhysicalDeviceReply reads the remote agent's reply to a previously
// forwarded call, stages its register state and shared-memory contents
// locally, and erets the TZOS back in.
func (f *Forwarder) ContPhysicalDeviceReply() error {
	if f.skipCallsUntilReady > 0 {
		f.skipCallsUntilReady--
		return nil
	}

	reply, err := ReadFrame(f.conn)
	if err != nil {
		return fmt.Errorf("forwarder: reading physical device reply: %w", err)
	}

	if len(reply.ShmSnapshot) > 0 {
		staged := peripheral.NewInMemoryBuffer("forwarder_shm_reply", f.ctx.SharedMemoryAddress, f.ctx.SharedMemorySize)
		if err := staged.WriteAt(reply.ShmSnapshot); err != nil {
			return fmt.Errorf("forwarder: staging shared memory reply: %w", err)
		}
		out, err := staged.ReadMemoryRaw(f.ctx.SharedMemoryAddress, len(reply.ShmSnapshot))
		if err != nil {
			return fmt.Errorf("forwarder: reading staged shared memory reply: %w", err)
		}
		if err := f.ctx.Target.WriteMemory(f.ctx.SharedMemoryAddress, out); err != nil {
			return fmt.Errorf("forwarder: writing shared memory reply: %w", err)
		}
	}

	if !f.eretEntrypointSet {
		return fmt.Errorf("forwarder: tzos has not booted yet, no eret entrypoint recorded")
	}
	if err := f.ctx.WriteSystemRegister("spsr_el3", f.ctx.SMCSpsrRegisterValue); err != nil {
		return err
	}
	if err := f.ctx.WriteSystemRegister("elr_el3", f.eretEntrypoint); err != nil {
		return err
	}

	if err := f.ctx.Target.WriteRegister("x0", reply.FunctionID); err != nil {
		return err
	}
	for i, reg := range []string{"x1", "x2", "x3", "x4", "x5", "x6"} {
		if err := f.ctx.Target.WriteRegister(reg, reply.X[i]); err != nil {
			return err
		}
	}

	_, err = f.ctx.WriteAArch64SMCReturnAssembly("eret")
	return err
}
