package trace

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
)

// Disassemble decodes a single little-endian AArch64 instruction and returns
// its textual form. Undecodable encodings (data, unsupported extensions) fall
// back to a ".word" directive rather than an error, matching objdump-style
// disassembler output.
func Disassemble(code []byte) string {
	if len(code) < 4 {
		return "???"
	}
	inst, err := arm64asm.Decode(code)
	if err != nil {
		raw := uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
		return fmt.Sprintf(".word 0x%08x", raw)
	}
	return inst.String()
}

// BoundaryTag reports whether a decoded instruction is a secure/normal-world
// switch boundary: SMC traps into the secure monitor, ERET returns from it.
// Both get the SMC tag; Tag("") means neither.
func BoundaryTag(code []byte) Tag {
	if len(code) < 4 {
		return ""
	}
	inst, err := arm64asm.Decode(code)
	if err != nil {
		return ""
	}
	switch inst.Op {
	case arm64asm.SMC, arm64asm.ERET:
		return SMC
	default:
		return ""
	}
}
