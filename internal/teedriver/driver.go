// Package teedriver emulates the normal-world TEE driver: the EL1 kernel
// component that receives RPC requests forwarded out of the TZOS by the SMC
// emulator and either services them directly (shared-memory alloc/free) or
// hands them to a TEE supplicant.
package teedriver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zboralski/tzrehost/internal/events"
	"github.com/zboralski/tzrehost/internal/shm"
)

// RegisterTarget is the subset of target.Target the TEE driver needs:
// reading the RPC function identifier and writing back the resume/reply
// registers.
type RegisterTarget interface {
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, value uint64) error
}

// rpcReturnFromRPC is written to x0 after a handled RPC to resume the TZOS.
const rpcReturnFromRPC = 0x32000003

// Driver services RPC calls the secure monitor emulator forwards out of the
// TZOS into the (emulated) normal world.
type Driver interface {
	HandleRPC() error
}

// optee RPC function identifiers, as defined by OPTEE_SMC_RPC_FUNC_*.
const (
	rpcFuncAlloc = 0xFFFF0000
	rpcFuncCmd   = 0xFFFF0005
	rpcFuncFree  = 0xFFFF0002
	rpcFuncOK    = 0x0
)

var opteeRPCErrorNames = map[uint64]string{
	0x1: "OPTEE_SMC_RETURN_ETHREAD_LIMIT",
	0x2: "OPTEE_SMC_RETURN_EBUSY",
	0x3: "OPTEE_SMC_RETURN_ERESUME",
	0x4: "OPTEE_SMC_RETURN_EBADADDR",
	0x5: "OPTEE_SMC_RETURN_EBADCMD",
	0x6: "OPTEE_SMC_RETURN_ENOMEM",
	0x7: "OPTEE_SMC_RETURN_ENOTAVAIL",
}

// Supplicant services the OPTEE_SMC_RPC_FUNC_CMD subset of RPCs: TA loading,
// shared-memory alloc/free issued by the TZOS itself, and secure storage.
type Supplicant interface {
	HandleRPCCmd() error
}

// OpteeDriver is the OP-TEE flavor of Driver.
type OpteeDriver struct {
	target     RegisterTarget
	shm        *shm.Manager
	supplicant Supplicant
	log        *zap.SugaredLogger
}

// NewOpteeDriver constructs an OpteeDriver backed by t, allocating
// normal-world shared memory via mgr and delegating OPTEE_SMC_RPC_FUNC_CMD
// to supplicant.
func NewOpteeDriver(t RegisterTarget, mgr *shm.Manager, supplicant Supplicant, log *zap.SugaredLogger) *OpteeDriver {
	return &OpteeDriver{target: t, shm: mgr, supplicant: supplicant, log: log}
}

// HandleRPC reads the RPC function identifier from x1 and dispatches it.
func (d *OpteeDriver) HandleRPC() error {
	rpcFunc, err := d.target.ReadRegister("x1")
	if err != nil {
		return fmt.Errorf("teedriver: reading rpc function id: %w", err)
	}
	if d.log != nil {
		d.log.Infow("handling rpc call", "rpc_func", fmt.Sprintf("%#x", rpcFunc))
	}

	switch rpcFunc {
	case rpcFuncAlloc:
		if err := d.handleMemoryAllocation(); err != nil {
			return err
		}
	case rpcFuncCmd:
		if err := d.supplicant.HandleRPCCmd(); err != nil {
			return err
		}
	case rpcFuncFree:
		if err := d.handleMemoryFree(); err != nil {
			return err
		}
	case rpcFuncOK:
		// The command already completed and its result is sitting in
		// shared memory; don't write the resume register, just signal
		// completion up to the caller.
		return events.ErrTzosCommandFinished
	default:
		if name, ok := opteeRPCErrorNames[rpcFunc]; ok && d.log != nil {
			d.log.Errorw("tzos reported rpc error", "name", name, "rpc_func", fmt.Sprintf("%#x", rpcFunc))
		}
		return &events.UnsupportedRPCError{FuncID: rpcFunc}
	}

	return d.target.WriteRegister("x0", rpcReturnFromRPC)
}

func (d *OpteeDriver) handleMemoryAllocation() error {
	shmSize, err := d.target.ReadRegister("x2")
	if err != nil {
		return fmt.Errorf("teedriver: reading shm alloc size: %w", err)
	}
	if d.log != nil {
		d.log.Debugw("tzos wants to allocate shared memory", "size", fmt.Sprintf("%#x", shmSize))
	}

	next := d.shm.AllocateBytes(shmSize)

	for reg, value := range map[string]uint64{
		"x1": 0x0,
		"x2": next,
		"x3": 0x0,
		"x4": 0x0,
		"x5": next,
		"x6": 0x0,
	} {
		if err := d.target.WriteRegister(reg, value); err != nil {
			return fmt.Errorf("teedriver: writing %s for shm alloc reply: %w", reg, err)
		}
	}
	return nil
}

func (d *OpteeDriver) handleMemoryFree() error {
	hi, err := d.target.ReadRegister("x2")
	if err != nil {
		return err
	}
	lo, err := d.target.ReadRegister("x3")
	if err != nil {
		return err
	}
	addr := (hi << 32) + lo

	if err := d.shm.Free(addr); err != nil {
		return fmt.Errorf("teedriver: freeing shm range %#x: %w", addr, err)
	}

	for _, reg := range []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6"} {
		if err := d.target.WriteRegister(reg, 0); err != nil {
			return err
		}
	}
	return nil
}

// TrustedCoreDriver is the TrustedCore flavor of Driver. TrustedCore's
// TSP_REQUEST SMC has no intermediate RPC round trips modeled here: every
// call into the normal world signals that the command has already
// completed.
type TrustedCoreDriver struct{}

// NewTrustedCoreDriver constructs a TrustedCoreDriver.
func NewTrustedCoreDriver() *TrustedCoreDriver {
	return &TrustedCoreDriver{}
}

// HandleRPC always signals command completion.
func (d *TrustedCoreDriver) HandleRPC() error {
	return events.ErrTzosCommandFinished
}
