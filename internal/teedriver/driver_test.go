package teedriver

import (
	"errors"
	"testing"

	"github.com/zboralski/tzrehost/internal/events"
	"github.com/zboralski/tzrehost/internal/shm"
)

type fakeTarget struct {
	registers map[string]uint64
}

func newFakeTarget() *fakeTarget { return &fakeTarget{registers: make(map[string]uint64)} }

func (f *fakeTarget) ReadRegister(name string) (uint64, error) { return f.registers[name], nil }
func (f *fakeTarget) WriteRegister(name string, value uint64) error {
	f.registers[name] = value
	return nil
}

type fakeSupplicant struct {
	called bool
	err    error
}

func (s *fakeSupplicant) HandleRPCCmd() error { s.called = true; return s.err }

func TestOpteeDriverAllocatesSharedMemory(t *testing.T) {
	ft := newFakeTarget()
	ft.registers["x1"] = rpcFuncAlloc
	ft.registers["x2"] = 0x100
	mgr := shm.New(0x42000000, shm.DefaultPageSize, nil)
	d := NewOpteeDriver(ft, mgr, &fakeSupplicant{}, nil)

	if err := d.HandleRPC(); err != nil {
		t.Fatalf("HandleRPC: %v", err)
	}
	if ft.registers["x2"] != 0x42000000 {
		t.Errorf("expected x2 to hold allocated address, got %#x", ft.registers["x2"])
	}
	if ft.registers["x0"] != rpcReturnFromRPC {
		t.Errorf("expected x0 set to resume identifier, got %#x", ft.registers["x0"])
	}
}

func TestOpteeDriverFreesSharedMemory(t *testing.T) {
	ft := newFakeTarget()
	mgr := shm.New(0x42000000, shm.DefaultPageSize, nil)
	addr := mgr.AllocateBytes(0x10)

	ft.registers["x1"] = rpcFuncFree
	ft.registers["x2"] = addr >> 32
	ft.registers["x3"] = addr & 0xFFFFFFFF

	d := NewOpteeDriver(ft, mgr, &fakeSupplicant{}, nil)
	if err := d.HandleRPC(); err != nil {
		t.Fatalf("HandleRPC: %v", err)
	}
	if err := mgr.Free(addr); err != shm.ErrRangeNotFound {
		t.Errorf("expected range to already be freed, got %v", err)
	}
}

func TestOpteeDriverCommandFinishedSkipsResumeWrite(t *testing.T) {
	ft := newFakeTarget()
	ft.registers["x1"] = rpcFuncOK
	d := NewOpteeDriver(ft, shm.New(0x1000, shm.DefaultPageSize, nil), &fakeSupplicant{}, nil)

	err := d.HandleRPC()
	if !errors.Is(err, events.ErrTzosCommandFinished) {
		t.Fatalf("expected ErrTzosCommandFinished, got %v", err)
	}
	if _, ok := ft.registers["x0"]; ok {
		t.Errorf("expected x0 not to be written when command finished")
	}
}

func TestOpteeDriverUnsupportedRPC(t *testing.T) {
	ft := newFakeTarget()
	ft.registers["x1"] = 0x1234
	d := NewOpteeDriver(ft, shm.New(0x1000, shm.DefaultPageSize, nil), &fakeSupplicant{}, nil)

	err := d.HandleRPC()
	var unsupported *events.UnsupportedRPCError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *UnsupportedRPCError, got %v", err)
	}
	if unsupported.FuncID != 0x1234 {
		t.Errorf("expected FuncID 0x1234, got %#x", unsupported.FuncID)
	}
}

func TestOpteeDriverDelegatesCmdToSupplicant(t *testing.T) {
	ft := newFakeTarget()
	ft.registers["x1"] = rpcFuncCmd
	sup := &fakeSupplicant{}
	d := NewOpteeDriver(ft, shm.New(0x1000, shm.DefaultPageSize, nil), sup, nil)

	if err := d.HandleRPC(); err != nil {
		t.Fatalf("HandleRPC: %v", err)
	}
	if !sup.called {
		t.Errorf("expected supplicant.HandleRPCCmd to be called")
	}
}

func TestTrustedCoreDriverSignalsFinished(t *testing.T) {
	d := NewTrustedCoreDriver()
	if err := d.HandleRPC(); !errors.Is(err, events.ErrTzosCommandFinished) {
		t.Fatalf("expected ErrTzosCommandFinished, got %v", err)
	}
}
