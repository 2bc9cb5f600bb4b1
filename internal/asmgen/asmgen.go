// Package asmgen assembles a fixed subset of AArch64 instructions to machine
// code. It is not a general-purpose assembler: the rehosting core only ever
// needs to synthesize a handful of instruction forms (moving an immediate into
// a general-purpose register, writing a system register from one, and
// returning from an exception), so the encoder below hand-rolls the bit
// patterns for exactly those forms instead of wrapping a full backend.
//
// Encodings follow the ARM Architecture Reference Manual for ARMv8-A.
package asmgen

import (
	"encoding/binary"
	"fmt"
)

// Reg identifies an AArch64 general-purpose register X0-X30.
type Reg int

// ParseReg turns a register name such as "x0" or "X12" into a Reg.
func ParseReg(name string) (Reg, error) {
	if len(name) < 2 || (name[0] != 'x' && name[0] != 'X') {
		return 0, fmt.Errorf("asmgen: not a general-purpose register: %q", name)
	}
	var n int
	if _, err := fmt.Sscanf(name[1:], "%d", &n); err != nil {
		return 0, fmt.Errorf("asmgen: invalid register %q: %w", name, err)
	}
	if n < 0 || n > 30 {
		return 0, fmt.Errorf("asmgen: register out of range: %q", name)
	}
	return Reg(n), nil
}

// sysRegEncoding maps the system registers the core needs to write into their
// op0/op1/CRn/CRm/op2 MSR encoding fields, packed contiguously; Msr and Mrs
// shift the packed value into instruction bits [20:5].
var sysRegEncoding = map[string]uint32{
	// spsr_el3: op0=3 op1=6 CRn=4 CRm=0 op2=0
	"spsr_el3": encodeSysRegFields(3, 6, 4, 0, 0),
	// elr_el3: op0=3 op1=6 CRn=4 CRm=0 op2=1
	"elr_el3": encodeSysRegFields(3, 6, 4, 0, 1),
}

func encodeSysRegFields(op0, op1, crn, crm, op2 uint32) uint32 {
	return (op0 << 14) | (op1 << 11) | (crn << 7) | (crm << 3) | op2
}

// Insn returns the 4-byte little-endian encoding of a single instruction.
type Insn [4]byte

func insn(word uint32) Insn {
	var b Insn
	binary.LittleEndian.PutUint32(b[:], word)
	return b
}

// Movz encodes "movz xD, #imm16, lsl #shift" (shift in {0,16,32,48}).
func Movz(dst Reg, imm uint16, shift uint32) (Insn, error) {
	if shift%16 != 0 || shift > 48 {
		return Insn{}, fmt.Errorf("asmgen: invalid MOVZ shift %d", shift)
	}
	hw := shift / 16
	return insn(0xD2800000 | (hw << 21) | (uint32(imm) << 5) | uint32(dst)), nil
}

// Movk encodes "movk xD, #imm16, lsl #shift".
func Movk(dst Reg, imm uint16, shift uint32) (Insn, error) {
	if shift%16 != 0 || shift > 48 {
		return Insn{}, fmt.Errorf("asmgen: invalid MOVK shift %d", shift)
	}
	hw := shift / 16
	return insn(0xF2800000 | (hw << 21) | (uint32(imm) << 5) | uint32(dst)), nil
}

// Msr encodes "msr <sysreg>, xN" for the system registers in sysRegEncoding.
func Msr(sysReg string, src Reg) (Insn, error) {
	fields, ok := sysRegEncoding[sysReg]
	if !ok {
		return Insn{}, fmt.Errorf("asmgen: unsupported system register %q", sysReg)
	}
	return insn(0xD5100000 | fields<<5 | uint32(src)), nil
}

// Mrs encodes "mrs xN, <sysreg>".
func Mrs(dst Reg, sysReg string) (Insn, error) {
	fields, ok := sysRegEncoding[sysReg]
	if !ok {
		return Insn{}, fmt.Errorf("asmgen: unsupported system register %q", sysReg)
	}
	return insn(0xD5300000 | fields<<5 | uint32(dst)), nil
}

// Eret encodes "eret".
func Eret() Insn { return insn(0xD69F03E0) }

// Ret encodes "ret" (return via x30).
func Ret() Insn { return insn(0xD65F0000 | uint32(30)<<5) }

// Nop encodes "nop".
func Nop() Insn { return insn(0xD503201F) }

// Mov encodes "mov xD, xS" (alias for "orr xD, xzr, xS").
func Mov(dst, src Reg) Insn {
	return insn(0xAA0003E0 | (uint32(src) << 16) | uint32(dst))
}

// B encodes "b #offset", a PC-relative unconditional branch. offset is the
// byte displacement from the branch instruction and must be 4-byte aligned
// and fit in the 26-bit signed immediate.
func B(offset int32) (Insn, error) {
	if offset%4 != 0 {
		return Insn{}, fmt.Errorf("asmgen: branch offset %d not 4-byte aligned", offset)
	}
	imm := offset / 4
	if imm < -(1<<25) || imm >= (1<<25) {
		return Insn{}, fmt.Errorf("asmgen: branch offset %d out of range", offset)
	}
	return insn(0x14000000 | (uint32(imm) & 0x03FFFFFF)), nil
}

// MovImm assembles the instruction sequence that loads an arbitrary 64-bit
// immediate into dst using up to four movz/movk instructions, skipping
// all-zero halfwords except to guarantee at least one instruction is emitted.
func MovImm(dst Reg, value uint64) []Insn {
	var out []Insn
	first := true
	for shift := uint32(0); shift <= 48; shift += 16 {
		half := uint16(value >> shift)
		if half == 0 && !first && shift != 48 {
			continue
		}
		if first {
			i, _ := Movz(dst, half, shift)
			out = append(out, i)
			first = false
			continue
		}
		if half == 0 {
			continue
		}
		i, _ := Movk(dst, half, shift)
		out = append(out, i)
	}
	if len(out) == 0 {
		i, _ := Movz(dst, 0, 0)
		out = append(out, i)
	}
	return out
}

// WriteSystemRegister assembles the instruction sequence to move an arbitrary
// 64-bit immediate into a system register through a scratch general-purpose
// register: movz/movk... ; msr <sysreg>, scratch.
func WriteSystemRegister(sysReg string, scratch Reg, value uint64) ([]Insn, error) {
	out := MovImm(scratch, value)
	msr, err := Msr(sysReg, scratch)
	if err != nil {
		return nil, err
	}
	return append(out, msr), nil
}

// Encode flattens a sequence of instructions into their byte representation.
func Encode(insns []Insn) []byte {
	out := make([]byte, 0, len(insns)*4)
	for _, i := range insns {
		out = append(out, i[:]...)
	}
	return out
}

// AArch64Asm assembles a tiny subset of textual AArch64 assembly consisting
// of one mnemonic per line ("msr spsr_el3, x0", "eret", "ret", "nop"). It
// exists to mirror the call shape other rehosting components use
// ("aarch64_asm(text) -> bytes") without depending on a full assembler
// backend, matching spec §6's "Implementations may wrap any suitable
// backend" latitude.
func AArch64Asm(text string) ([]byte, error) {
	insns, err := parseLines(text)
	if err != nil {
		return nil, err
	}
	return Encode(insns), nil
}
