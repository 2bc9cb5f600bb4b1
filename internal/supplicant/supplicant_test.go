package supplicant

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/zboralski/tzrehost/internal/shm"
	"github.com/zboralski/tzrehost/internal/wire"
)

type fakeMemTarget struct {
	registers map[string]uint64
	memory    map[uint64][]byte
}

func newFakeMemTarget() *fakeMemTarget {
	return &fakeMemTarget{registers: make(map[string]uint64), memory: make(map[uint64][]byte)}
}

func (f *fakeMemTarget) ReadRegister(name string) (uint64, error) { return f.registers[name], nil }
func (f *fakeMemTarget) WriteRegister(name string, value uint64) error {
	f.registers[name] = value
	return nil
}

func (f *fakeMemTarget) ReadMemory(addr uint64, size int) ([]byte, error) {
	data := f.memory[addr]
	out := make([]byte, size)
	copy(out, data)
	return out, nil
}

func (f *fakeMemTarget) WriteMemory(addr uint64, data []byte) error {
	f.memory[addr] = append([]byte(nil), data...)
	return nil
}

func writeArgAt(t *testing.T, ft *fakeMemTarget, addr uint64, arg wire.OpteeMsgArg) {
	t.Helper()
	if err := ft.WriteMemory(addr, wire.ToBytes(arg)); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
}

func TestSupplicantShmAllocRoundTrip(t *testing.T) {
	ft := newFakeMemTarget()
	mgr := shm.New(0x60000000, shm.DefaultPageSize, nil)
	s, err := New(ft, mgr, t.TempDir(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	shmAddr := uint64(0x1000)
	arg := wire.OpteeMsgArg{Cmd: cmdShmAlloc, Params: []wire.OpteeMsgParam{{Value: wire.OpteeMsgParamValue{B: 0x40}}}}
	writeArgAt(t, ft, shmAddr, arg)
	ft.registers["x2"] = shmAddr >> 32
	ft.registers["x3"] = shmAddr & 0xFFFFFFFF

	if err := s.HandleRPCCmd(); err != nil {
		t.Fatalf("HandleRPCCmd: %v", err)
	}

	got, err := wire.ParseOpteeMsgArg(ft, shmAddr)
	if err != nil {
		t.Fatalf("ParseOpteeMsgArg: %v", err)
	}
	if got.Ret != 0 {
		t.Errorf("expected ret 0, got %d", got.Ret)
	}
	if got.Params[0].Value.A != 0x60000000 {
		t.Errorf("expected allocated address 0x60000000, got %#x", got.Params[0].Value.A)
	}
}

func TestSupplicantLoadTAWritesBinary(t *testing.T) {
	ft := newFakeMemTarget()
	mgr := shm.New(0x60000000, shm.DefaultPageSize, nil)
	taDir := t.TempDir()

	a, b := uint64(0x0807060504030201), uint64(0x100f0e0d0c0b0a09)
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], a)
	binary.LittleEndian.PutUint64(buf[8:16], b)

	taContent := []byte("fake-ta-binary-contents")
	filename := "01020304-0506-0708-090a-0b0c0d0e0f10.ta"
	if err := os.WriteFile(filepath.Join(taDir, filename), taContent, 0o644); err != nil {
		t.Fatalf("writing fake ta: %v", err)
	}

	s, err := New(ft, mgr, taDir, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	shmAddr := uint64(0x1000)
	bufAddr := uint64(0x2000)
	arg := wire.OpteeMsgArg{
		Cmd: cmdLoadTA,
		Params: []wire.OpteeMsgParam{
			{Value: wire.OpteeMsgParamValue{A: a, B: b}},
			{Value: wire.OpteeMsgParamValue{B: 1, C: bufAddr}},
		},
	}
	writeArgAt(t, ft, shmAddr, arg)
	ft.registers["x2"] = shmAddr >> 32
	ft.registers["x3"] = shmAddr & 0xFFFFFFFF

	if err := s.HandleRPCCmd(); err != nil {
		t.Fatalf("HandleRPCCmd: %v", err)
	}

	written := ft.memory[bufAddr]
	if string(written) != string(taContent) {
		t.Errorf("expected ta content written to shared memory, got %q", written)
	}

	got, err := wire.ParseOpteeMsgArg(ft, shmAddr)
	if err != nil {
		t.Fatalf("ParseOpteeMsgArg: %v", err)
	}
	if got.Params[1].Value.B != uint64(len(taContent)) {
		t.Errorf("expected size param set to content length, got %d", got.Params[1].Value.B)
	}
}

func TestSecureStorageCreateThenRead(t *testing.T) {
	ft := newFakeMemTarget()
	storage, err := NewSecureStorage(ft, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewSecureStorage: %v", err)
	}

	fname := "/myfile.bin"
	fnameAddr := uint64(0x3000)
	ft.memory[fnameAddr] = append([]byte(fname), 0)

	createArg := &wire.OpteeMsgArg{
		Params: []wire.OpteeMsgParam{
			{Value: wire.OpteeMsgParamValue{A: mrfCreate}},
			{Value: wire.OpteeMsgParamValue{B: uint64(len(fname) + 1), C: fnameAddr}},
			{},
		},
	}
	if err := storage.HandleRPC(createArg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if createArg.Ret != 0 {
		t.Errorf("expected successful create, got ret %#x", createArg.Ret)
	}
	fd := createArg.Params[2].Value.A

	writeData := []byte("hello secure storage")
	dataAddr := uint64(0x4000)
	ft.memory[dataAddr] = writeData
	writeArg := &wire.OpteeMsgArg{
		Params: []wire.OpteeMsgParam{
			{Value: wire.OpteeMsgParamValue{A: mrfWrite, B: fd, C: 0}},
			{Value: wire.OpteeMsgParamValue{A: dataAddr, B: uint64(len(writeData))}},
		},
	}
	if err := storage.HandleRPC(writeArg); err != nil {
		t.Fatalf("write: %v", err)
	}

	readBufAddr := uint64(0x5000)
	readArg := &wire.OpteeMsgArg{
		Params: []wire.OpteeMsgParam{
			{Value: wire.OpteeMsgParamValue{A: mrfRead, B: fd, C: 0}},
			{Value: wire.OpteeMsgParamValue{A: readBufAddr, B: uint64(len(writeData))}},
		},
	}
	if err := storage.HandleRPC(readArg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(ft.memory[readBufAddr]) != string(writeData) {
		t.Errorf("expected read back %q, got %q", writeData, ft.memory[readBufAddr])
	}
}

func TestSecureStorageOpenMissingFileReturnsError(t *testing.T) {
	ft := newFakeMemTarget()
	storage, err := NewSecureStorage(ft, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewSecureStorage: %v", err)
	}

	fname := "/does-not-exist.bin"
	fnameAddr := uint64(0x3000)
	ft.memory[fnameAddr] = append([]byte(fname), 0)

	openArg := &wire.OpteeMsgArg{
		Params: []wire.OpteeMsgParam{
			{Value: wire.OpteeMsgParamValue{A: mrfOpen}},
			{Value: wire.OpteeMsgParamValue{B: uint64(len(fname) + 1), C: fnameAddr}},
			{},
		},
	}
	if err := storage.HandleRPC(openArg); err != nil {
		t.Fatalf("open: %v", err)
	}
	if openArg.Ret != errStorageCorruptObject {
		t.Errorf("expected errStorageCorruptObject, got %#x", openArg.Ret)
	}
}
