package strategy

import (
	"testing"

	"github.com/zboralski/tzrehost/internal/rehost"
	"github.com/zboralski/tzrehost/internal/target"
	"github.com/zboralski/tzrehost/internal/wire"
)

// fakeTarget is a minimal in-memory stand-in for target.Target, sufficient
// to drive the JIT code-execution helper rehost.Context.WriteSystemRegister
// depends on.
type fakeTarget struct {
	registers   map[string]uint64
	memory      map[uint64][]byte
	breakpoints map[uint64]bool
	pc          uint64
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		registers:   make(map[string]uint64),
		memory:      make(map[uint64][]byte),
		breakpoints: make(map[uint64]bool),
	}
}

func (f *fakeTarget) State() target.State { return target.StateStopped }

func (f *fakeTarget) SetBreakpoint(addr uint64) error {
	if f.breakpoints[addr] {
		return target.ErrBreakpointExists
	}
	f.breakpoints[addr] = true
	return nil
}

func (f *fakeTarget) RemoveBreakpoint(addr uint64) error {
	if !f.breakpoints[addr] {
		return target.ErrNoBreakpoint
	}
	delete(f.breakpoints, addr)
	return nil
}

func (f *fakeTarget) Continue() (uint64, error) {
	for i := 0; i < 4096; i++ {
		if f.breakpoints[f.pc] {
			return f.pc, nil
		}
		f.pc += 4
	}
	return 0, target.ErrTerminated
}

func (f *fakeTarget) Step() (uint64, error) {
	f.pc += 4
	return f.pc, nil
}

func (f *fakeTarget) ReadRegister(name string) (uint64, error) {
	if name == "pc" {
		return f.pc, nil
	}
	return f.registers[name], nil
}

func (f *fakeTarget) WriteRegister(name string, value uint64) error {
	if name == "pc" {
		f.pc = value
		return nil
	}
	f.registers[name] = value
	return nil
}

func (f *fakeTarget) ReadMemory(addr uint64, size int) ([]byte, error) {
	data := f.memory[addr]
	out := make([]byte, size)
	copy(out, data)
	return out, nil
}

func (f *fakeTarget) WriteMemory(addr uint64, data []byte) error {
	f.memory[addr] = append([]byte(nil), data...)
	return nil
}

func (f *fakeTarget) Close() error { return nil }

func newTestContext(ft *fakeTarget) *rehost.Context {
	ctx := &rehost.Context{
		Target:               ft,
		SMCEntrypointAddress: 0x2000,
		SharedMemoryAddress:  0x42000000,
		SMCSpsrRegisterValue: 0x600003c4,
		CodeExec:             rehost.NewCodeExecHelper(ft, 0x5000),
	}
	ctx.SetTzosEretEntrypoint(0x41000000)
	return ctx
}

func TestOpteeExecuteTzosCommandWritesSharedMemoryAndRegisters(t *testing.T) {
	ft := newFakeTarget()
	ctx := newTestContext(ft)
	o := NewOptee(ctx)

	cmd := wire.OpteeMsgArg{Cmd: 1, Params: []wire.OpteeMsgParam{{Value: wire.OpteeMsgParamValue{A: 0xAA}}}}
	if err := o.ExecuteTzosCommand(cmd); err != nil {
		t.Fatalf("ExecuteTzosCommand: %v", err)
	}

	if ft.registers["x0"] != smcCallWithArg {
		t.Errorf("expected x0 set to OPTEE_SMC_CALL_WITH_ARG, got %#x", ft.registers["x0"])
	}
	if ft.registers["x2"] != ctx.SharedMemoryAddress {
		t.Errorf("expected x2 set to shared memory address, got %#x", ft.registers["x2"])
	}
	if len(ft.memory[ctx.SharedMemoryAddress]) == 0 {
		t.Errorf("expected command bytes written to shared memory")
	}
}

func TestOpteeExecuteTzosCommandRejectsWrongType(t *testing.T) {
	ft := newFakeTarget()
	o := NewOptee(newTestContext(ft))
	if err := o.ExecuteTzosCommand("not a command"); err == nil {
		t.Fatalf("expected error for wrong command type")
	}
}

func TestOpteeParseReturnValue(t *testing.T) {
	ft := newFakeTarget()
	ctx := newTestContext(ft)
	o := NewOptee(ctx)

	want := wire.OpteeMsgArg{Cmd: 1, Ret: 0}
	if err := ft.WriteMemory(ctx.SharedMemoryAddress, wire.ToBytes(want)); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}

	got, err := o.ParseReturnValue()
	if err != nil {
		t.Fatalf("ParseReturnValue: %v", err)
	}
	arg, ok := got.(wire.OpteeMsgArg)
	if !ok {
		t.Fatalf("expected wire.OpteeMsgArg, got %T", got)
	}
	if arg.Cmd != 1 {
		t.Errorf("expected cmd 1, got %d", arg.Cmd)
	}
}

func TestTrustedCoreExecuteTzosCommandWrapsCounter(t *testing.T) {
	ft := newFakeTarget()
	ctx := newTestContext(ft)
	s := NewTrustedCore(ctx, nil)

	for i := 0; i < ringCounterWrap+2; i++ {
		cmd := wire.TCNsSmcCmd{EventNr: uint32(i)}
		if err := s.ExecuteTzosCommand(cmd); err != nil {
			t.Fatalf("ExecuteTzosCommand iteration %d: %v", i, err)
		}
	}
	if s.counter >= ringCounterWrap {
		t.Errorf("expected counter to have wrapped below %d, got %d", ringCounterWrap, s.counter)
	}
}

func TestTrustedCoreParseReturnValueFindsMatchingEventNr(t *testing.T) {
	ft := newFakeTarget()
	ctx := newTestContext(ft)
	s := NewTrustedCore(ctx, nil)

	want := wire.TCNsSmcCmd{EventNr: 7, RetVal: 0x42}
	addr := ctx.SharedMemoryAddress + ringQueueOffset + 3*ringEntryStride
	if err := ft.WriteMemory(addr, wire.ToBytes(want)); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	s.eventNr = 7

	got, err := s.ParseReturnValue()
	if err != nil {
		t.Fatalf("ParseReturnValue: %v", err)
	}
	cmd, ok := got.(wire.TCNsSmcCmd)
	if !ok {
		t.Fatalf("expected wire.TCNsSmcCmd, got %T", got)
	}
	if cmd.RetVal != 0x42 {
		t.Errorf("expected RetVal 0x42, got %#x", cmd.RetVal)
	}
}
