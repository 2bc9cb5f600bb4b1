package wire

import (
	"bytes"
	"fmt"
	"testing"
)

// fakeMemory is a flat byte-addressable buffer satisfying MemoryReader,
// standing in for a target's address space in tests.
type fakeMemory struct {
	base uint64
	data []byte
}

func (m *fakeMemory) ReadMemory(addr uint64, size int) ([]byte, error) {
	off := addr - m.base
	if off > uint64(len(m.data)) || off+uint64(size) > uint64(len(m.data)) {
		return nil, fmt.Errorf("fakeMemory: read out of range at %#x size %d", addr, size)
	}
	return m.data[off : off+uint64(size)], nil
}

func TestOpteeMsgArgRoundTrip(t *testing.T) {
	original := OpteeMsgArg{
		Cmd:       1,
		Func:      2,
		Session:   3,
		CancelID:  0,
		Pad:       0,
		Ret:       0,
		RetOrigin: 0,
		Params: []OpteeMsgParam{
			{Attr: OpteeMsgAttrTypeValueInout, Value: OpteeMsgParamValue{A: 0x10, B: 0x20, C: 0x30}},
			{Attr: OpteeMsgAttrTypeNone, Value: OpteeMsgParamValue{}},
		},
	}

	raw := ToBytes(original)
	mem := &fakeMemory{base: 0x1000, data: raw}

	parsed, err := ParseOpteeMsgArg(mem, 0x1000)
	if err != nil {
		t.Fatalf("ParseOpteeMsgArg: %v", err)
	}

	if parsed.Cmd != original.Cmd || parsed.Func != original.Func || parsed.Session != original.Session {
		t.Fatalf("header mismatch: got %+v, want %+v", parsed, original)
	}
	if len(parsed.Params) != len(original.Params) {
		t.Fatalf("param count mismatch: got %d, want %d", len(parsed.Params), len(original.Params))
	}
	for i := range original.Params {
		if parsed.Params[i] != original.Params[i] {
			t.Errorf("param %d mismatch: got %+v, want %+v", i, parsed.Params[i], original.Params[i])
		}
	}

	if !bytes.Equal(ToBytes(parsed), raw) {
		t.Error("re-serializing the parsed struct did not reproduce the original bytes")
	}
}

func TestOpteeMsgArgZeroParams(t *testing.T) {
	original := OpteeMsgArg{Cmd: 7, RetOrigin: 2}
	raw := ToBytes(original)
	mem := &fakeMemory{base: 0, data: raw}

	parsed, err := ParseOpteeMsgArg(mem, 0)
	if err != nil {
		t.Fatalf("ParseOpteeMsgArg: %v", err)
	}
	if len(parsed.Params) != 0 {
		t.Errorf("expected zero params, got %d", len(parsed.Params))
	}
	if parsed.Cmd != 7 || parsed.RetOrigin != 2 {
		t.Errorf("header mismatch: %+v", parsed)
	}
}

func TestTCOperationRoundTrip(t *testing.T) {
	original := TCOperation{
		ParamTypes: 0x00001234,
		Params: [4]TCParam{
			{A: 1, B: 2},
			{A: 3, B: 4},
			{A: 0, B: 0},
			{A: 0xFFFFFFFF, B: 0},
		},
	}

	raw := ToBytes(original)
	if len(raw) != 4+4*8 {
		t.Fatalf("unexpected TC_Operation wire size: %d", len(raw))
	}

	mem := &fakeMemory{base: 0x2000, data: raw}
	parsed, err := ParseTCOperation(mem, 0x2000)
	if err != nil {
		t.Fatalf("ParseTCOperation: %v", err)
	}
	if parsed != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, original)
	}
}

func TestTCNsSmcCmdRoundTrip(t *testing.T) {
	original := TCNsSmcCmd{
		UUIDPhys:      0x41000000,
		CmdID:         5,
		DevFileID:     1,
		ContextID:     0x100,
		AgentID:       0,
		OperationPhys: 0x41001000,
		LoginMethod:   0,
		LoginData:     0,
		ErrOrigin:     0,
		RetVal:        0,
		EventNr:       3,
		Remap:         0,
		UID:           0,
		Started:       1,
	}

	raw := ToBytes(original)
	if len(raw) != tcNsSmcCmdFields*4 {
		t.Fatalf("unexpected TC_NS_SMC_CMD wire size: %d", len(raw))
	}

	mem := &fakeMemory{base: 0x3000, data: raw}
	parsed, err := ParseTCNsSmcCmd(mem, 0x3000)
	if err != nil {
		t.Fatalf("ParseTCNsSmcCmd: %v", err)
	}
	if parsed != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, original)
	}
}

func TestShortReadReturnsError(t *testing.T) {
	mem := &fakeMemory{base: 0, data: make([]byte, 4)}
	if _, err := ParseTCNsSmcCmd(mem, 0); err == nil {
		t.Fatal("expected error reading past end of buffer")
	}
}
