package trace

import (
	"strings"
	"testing"
)

// Well-known AArch64 encodings, little-endian byte order.
var (
	nopBytes  = []byte{0x1f, 0x20, 0x03, 0xd5} // NOP
	smcBytes  = []byte{0x03, 0x00, 0x00, 0xd4} // SMC #0
	eretBytes = []byte{0xe0, 0x03, 0x9f, 0xd6} // ERET
)

func TestDisassembleTooShortFallsBack(t *testing.T) {
	if got := Disassemble([]byte{0x01, 0x02}); got != "???" {
		t.Errorf("Disassemble(short) = %q, want ???", got)
	}
}

func TestDisassembleDecodesNop(t *testing.T) {
	got := Disassemble(nopBytes)
	if !strings.Contains(strings.ToUpper(got), "NOP") {
		t.Errorf("Disassemble(nop) = %q, want it to mention NOP", got)
	}
}

func TestBoundaryTagDetectsSMC(t *testing.T) {
	if tag := BoundaryTag(smcBytes); tag != SMC {
		t.Errorf("BoundaryTag(smc) = %q, want %q", tag, SMC)
	}
}

func TestBoundaryTagDetectsERET(t *testing.T) {
	if tag := BoundaryTag(eretBytes); tag != SMC {
		t.Errorf("BoundaryTag(eret) = %q, want %q", tag, SMC)
	}
}

func TestBoundaryTagIgnoresOrdinaryInstruction(t *testing.T) {
	if tag := BoundaryTag(nopBytes); tag != "" {
		t.Errorf("BoundaryTag(nop) = %q, want empty", tag)
	}
}
