package smc

import (
	"errors"
	"testing"

	"github.com/zboralski/tzrehost/internal/events"
	"github.com/zboralski/tzrehost/internal/rehost"
	"github.com/zboralski/tzrehost/internal/target"
)

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
	return &rehost.Context{
		Target:                          ft,
		SMCEntrypointAddress:            0x2000,
		SMCSpsrRegisterValue:            0x600003c4,
		SMCReturnFromTzosBootIdentifier: 0x32000003,
		SMCNormalWorldCallIdentifier:    0x32000006,
		CodeExec:                        rehost.NewCodeExecHelper(ft, 0x5000),
	}
}

type fakeTeeDriver struct {
	err error
}

func (d *fakeTeeDriver) HandleRPC() error { return d.err }

func TestHandleReturnFromBootSignalsBooted(t *testing.T) {
	ft := newFakeTarget()
	ctx := newTestContext(ft)
	ft.registers["x0"] = ctx.SMCReturnFromTzosBootIdentifier
	ft.registers["x1"] = 0x41000000

	e := New(ctx, &fakeTeeDriver{}, nil)
	err := e.Handle(0)
	if !errors.Is(err, events.ErrTzosBooted) {
		t.Fatalf("expected ErrTzosBooted, got %v", err)
	}

	entry, ok := ctx.TzosEretEntrypoint()
	if !ok || entry != 0x41000000 {
		t.Errorf("expected eret entrypoint 0x41000000 recorded, got %#x ok=%v", entry, ok)
	}
}

func TestHandleDefaultSmcWritesEret(t *testing.T) {
	ft := newFakeTarget()
	ctx := newTestContext(ft)
	ft.registers["x0"] = 0xDEADBEEF

	e := New(ctx, &fakeTeeDriver{}, nil)
	if err := e.Handle(0); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(ft.memory[ctx.SMCEntrypointAddress]) != 4 {
		t.Errorf("expected a 4-byte eret written at the smc entrypoint")
	}
}

func TestHandleCallToNormalWorldPropagatesCommandFinished(t *testing.T) {
	ft := newFakeTarget()
	ctx := newTestContext(ft)
	ft.registers["x0"] = ctx.SMCNormalWorldCallIdentifier

	e := New(ctx, &fakeTeeDriver{err: events.ErrTzosCommandFinished}, nil)
	err := e.Handle(0)
	if !errors.Is(err, events.ErrTzosCommandFinished) {
		t.Fatalf("expected ErrTzosCommandFinished, got %v", err)
	}
	if len(ft.memory[ctx.SMCEntrypointAddress]) != 0 {
		t.Errorf("expected no eret written when the command signaled completion")
	}
}

func TestHandleCallToNormalWorldSuccessWritesEret(t *testing.T) {
	ft := newFakeTarget()
	ctx := newTestContext(ft)
	ctx.SetTzosEretEntrypoint(0x41000000)
	ft.registers["x0"] = ctx.SMCNormalWorldCallIdentifier

	e := New(ctx, &fakeTeeDriver{}, nil)
	if err := e.Handle(0); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(ft.memory[ctx.SMCEntrypointAddress]) != 4 {
		t.Errorf("expected a 4-byte eret written after a successful rpc")
	}
}
