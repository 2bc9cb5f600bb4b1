package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zboralski/tzrehost/internal/rehost"
	"github.com/zboralski/tzrehost/internal/wire"
)

// tspRequest is the SMC function identifier TrustedCore's secure monitor
// expects in x0 for a TSP_REQUEST call.
const tspRequest = 0xB2000008

// TrustedCore ring buffer layout constants. The output queue entry stride
// (0x35 bytes) does not match TC_NS_SMC_CMD's natural wire size; this is
// inherited as-is rather than "fixed", since the behavior it reproduces was
// reverse engineered from an image that genuinely uses this stride.
const (
	ringCounterOffset = 0x4
	ringQueueOffset   = 0x4 + 0x4 + 0x7DE
	ringEntryStride   = 0x35
	ringMaxScan       = 0x26
	ringCounterWrap   = 0x24
)

// TrustedCore is the TrustedCore flavor of CallIntoTzosStrategy: commands
// are appended to a ring buffer in shared memory, and results are found by
// scanning the same buffer for a matching event number.
type TrustedCore struct {
	ctx     *rehost.Context
	log     *zap.SugaredLogger
	counter uint32
	eventNr uint32
}

// NewTrustedCore constructs a TrustedCore strategy bound to ctx.
func NewTrustedCore(ctx *rehost.Context, log *zap.SugaredLogger) *TrustedCore {
	return &TrustedCore{ctx: ctx, log: log}
}

// ExecuteTzosCommand appends cmd (a wire.TCNsSmcCmd) to the ring buffer and
// hands control to the TZOS via eret.
func (s *TrustedCore) ExecuteTzosCommand(cmd any) error {
	tcCmd, ok := cmd.(wire.TCNsSmcCmd)
	if !ok {
		return fmt.Errorf("strategy: trustedcore expects a wire.TCNsSmcCmd command, got %T", cmd)
	}

	if _, ok := s.ctx.TzosEretEntrypoint(); !ok {
		return fmt.Errorf("strategy: tzos has not booted yet, no eret entrypoint recorded")
	}

	s.eventNr = tcCmd.EventNr

	counterBytes := []byte{
		byte(s.counter + 1), byte((s.counter + 1) >> 8),
		byte((s.counter + 1) >> 16), byte((s.counter + 1) >> 24),
	}
	if err := s.ctx.Target.WriteMemory(s.ctx.SharedMemoryAddress, counterBytes); err != nil {
		return fmt.Errorf("strategy: writing ring buffer counter: %w", err)
	}

	entryAddr := s.ctx.SharedMemoryAddress + ringCounterOffset + uint64(s.counter)*ringEntryStride
	if err := s.ctx.Target.WriteMemory(entryAddr, wire.ToBytes(tcCmd)); err != nil {
		return fmt.Errorf("strategy: writing ring buffer entry: %w", err)
	}

	s.counter++
	if s.counter >= ringCounterWrap {
		s.counter = 0
	}

	if err := s.writeEntryRegisters(); err != nil {
		return err
	}

	_, err := s.ctx.WriteAArch64SMCReturnAssembly("eret")
	return err
}

func (s *TrustedCore) writeEntryRegisters() error {
	if err := s.ctx.WriteSystemRegister("spsr_el3", s.ctx.SMCSpsrRegisterValue); err != nil {
		return err
	}
	entry, _ := s.ctx.TzosEretEntrypoint()
	if err := s.ctx.WriteSystemRegister("elr_el3", entry); err != nil {
		return err
	}

	if err := s.ctx.Target.WriteRegister("x0", tspRequest); err != nil {
		return err
	}
	if err := s.ctx.Target.WriteRegister("x1", s.ctx.SharedMemoryAddress); err != nil {
		return err
	}
	return s.ctx.Target.WriteRegister("x2", 0xF)
}

// ParseReturnValue scans the output queue for the entry matching the last
// issued command's event number. If no match turns up within ringMaxScan
// entries, the last entry examined is returned rather than an error — the
// output queue's slot assignment is not fully understood, and a "nothing
// found" result is occasionally correct for fire-and-forget agent SMCs.
func (s *TrustedCore) ParseReturnValue() (any, error) {
	var (
		rv  wire.TCNsSmcCmd
		err error
	)
	for i := 0; i < ringMaxScan; i++ {
		addr := s.ctx.SharedMemoryAddress + ringQueueOffset + uint64(i)*ringEntryStride
		rv, err = wire.ParseTCNsSmcCmd(s.ctx.Target, addr)
		if err != nil {
			return nil, fmt.Errorf("strategy: parsing trustedcore output queue entry %d: %w", i, err)
		}
		if rv.EventNr == s.eventNr {
			return rv, nil
		}
	}
	if s.log != nil {
		s.log.Warnw("no output queue entry matched event number", "event_nr", s.eventNr)
	}
	return rv, nil
}
