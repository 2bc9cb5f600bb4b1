package config

import (
	"testing"

	"github.com/zboralski/tzrehost/internal/runner"
	"github.com/zboralski/tzrehost/internal/target"
)

type fakeTarget struct {
	registers   map[string]uint64
	breakpoints map[uint64]bool
	pc          uint64
	pcWrites    []uint64
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{registers: make(map[string]uint64), breakpoints: make(map[uint64]bool)}
}

func (f *fakeTarget) State() target.State { return target.StateStopped }
func (f *fakeTarget) SetBreakpoint(addr uint64) error {
	f.breakpoints[addr] = true
	return nil
}
func (f *fakeTarget) RemoveBreakpoint(addr uint64) error {
	delete(f.breakpoints, addr)
	return nil
}

// Continue advances pc in fixed strides, the way an emulated target resumes
// execution and runs forward, checking each stride for an armed breakpoint.
// It returns target.ErrTerminated once it runs out of code to step through
// without hitting one, just as internal/runner's own fakeTarget does.
func (f *fakeTarget) Continue() (uint64, error) {
	for i := 0; i < 4096; i++ {
		f.pc += 4
		if f.breakpoints[f.pc] {
			return f.pc, nil
		}
	}
	return 0, target.ErrTerminated
}
func (f *fakeTarget) Step() (uint64, error)     { return f.pc, nil }
func (f *fakeTarget) ReadRegister(name string) (uint64, error) {
	if name == "pc" {
		return f.pc, nil
	}
	return f.registers[name], nil
}
func (f *fakeTarget) WriteRegister(name string, v uint64) error {
	if name == "pc" {
		f.pc = v
		f.pcWrites = append(f.pcWrites, v)
		return nil
	}
	f.registers[name] = v
	return nil
}
func (f *fakeTarget) ReadMemory(addr uint64, size int) ([]byte, error) {
	return make([]byte, size), nil
}
func (f *fakeTarget) WriteMemory(addr uint64, data []byte) error { return nil }
func (f *fakeTarget) Close() error                               { return nil }

func TestBootPatcherAppliesRegisterPoke(t *testing.T) {
	ft := newFakeTarget()
	r := runner.New(ft)
	patches := []BootPatch{{Address: 0x0e10ff84, Register: "x1", Value: 0x3}}
	p := NewBootPatcher(ft, patches, nil)
	if err := p.Install(r); err != nil {
		t.Fatalf("Install: %v", err)
	}

	ft.pc = 0x0e10ff84 - 4 // Continue() will step to exactly the patch address
	if err := r.Cont(); err != target.ErrTerminated {
		t.Fatalf("Cont: expected target.ErrTerminated once code runs out, got %v", err)
	}
	if ft.registers["x1"] != 0x3 {
		t.Errorf("expected x1 patched to 0x3, got %#x", ft.registers["x1"])
	}
}

func TestBootPatcherCanSkipViaPC(t *testing.T) {
	ft := newFakeTarget()
	r := runner.New(ft)
	patches := []BootPatch{{Address: 0x0e10ffc0, Register: "pc", Value: 0x0e10ffc4}}
	p := NewBootPatcher(ft, patches, nil)
	if err := p.Install(r); err != nil {
		t.Fatalf("Install: %v", err)
	}

	ft.pc = 0x0e10ffc0 - 4 // Continue() will step to exactly the patch address
	if err := r.Cont(); err != target.ErrTerminated {
		t.Fatalf("Cont: expected target.ErrTerminated once code runs out, got %v", err)
	}
	if len(ft.pcWrites) != 1 || ft.pcWrites[0] != 0x0e10ffc4 {
		t.Errorf("expected pc skipped to 0x0e10ffc4, got writes %#x", ft.pcWrites)
	}
}
