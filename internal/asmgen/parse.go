package asmgen

import (
	"fmt"
	"strconv"
	"strings"
)

// parseLines assembles one instruction per non-empty line of text. Supported
// mnemonics: msr, mrs, movz, movk, mov, eret, ret, nop, b. This is deliberately
// minimal — just enough for the inline MSR sequences the rehosting core needs
// to splice into a target's code region.
func parseLines(text string) ([]Insn, error) {
	var out []Insn
	for lineno, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		i, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("asmgen: line %d: %w", lineno+1, err)
		}
		out = append(out, i)
	}
	return out, nil
}

func parseLine(line string) (Insn, error) {
	mnem, rest, _ := strings.Cut(line, " ")
	mnem = strings.ToLower(strings.TrimSpace(mnem))
	operands := splitOperands(rest)

	switch mnem {
	case "nop":
		return Nop(), nil
	case "eret":
		return Eret(), nil
	case "ret":
		return Ret(), nil
	case "mov":
		if len(operands) != 2 {
			return Insn{}, fmt.Errorf("mov requires 2 operands, got %d", len(operands))
		}
		dst, err := ParseReg(operands[0])
		if err != nil {
			return Insn{}, err
		}
		src, err := ParseReg(operands[1])
		if err != nil {
			return Insn{}, err
		}
		return Mov(dst, src), nil
	case "msr":
		if len(operands) != 2 {
			return Insn{}, fmt.Errorf("msr requires 2 operands, got %d", len(operands))
		}
		src, err := ParseReg(operands[1])
		if err != nil {
			return Insn{}, err
		}
		return Msr(strings.ToLower(operands[0]), src)
	case "mrs":
		if len(operands) != 2 {
			return Insn{}, fmt.Errorf("mrs requires 2 operands, got %d", len(operands))
		}
		dst, err := ParseReg(operands[0])
		if err != nil {
			return Insn{}, err
		}
		return Mrs(dst, strings.ToLower(operands[1]))
	case "movz", "movk":
		return parseMovImm(mnem, operands)
	case "b":
		if len(operands) != 1 {
			return Insn{}, fmt.Errorf("b requires 1 operand, got %d", len(operands))
		}
		offset, err := strconv.ParseInt(normalizeImm(operands[0]), 0, 32)
		if err != nil {
			return Insn{}, fmt.Errorf("invalid branch offset %q: %w", operands[0], err)
		}
		return B(int32(offset))
	default:
		return Insn{}, fmt.Errorf("unsupported mnemonic %q", mnem)
	}
}

func parseMovImm(mnem string, operands []string) (Insn, error) {
	if len(operands) < 2 {
		return Insn{}, fmt.Errorf("%s requires at least 2 operands, got %d", mnem, len(operands))
	}
	dst, err := ParseReg(operands[0])
	if err != nil {
		return Insn{}, err
	}
	imm, err := strconv.ParseUint(normalizeImm(operands[1]), 0, 16)
	if err != nil {
		return Insn{}, fmt.Errorf("invalid immediate %q: %w", operands[1], err)
	}
	var shift uint64
	if len(operands) == 3 {
		shiftText := strings.TrimSpace(operands[2])
		shiftText = strings.TrimPrefix(shiftText, "lsl")
		shiftText = strings.TrimSpace(shiftText)
		shiftText = strings.TrimPrefix(shiftText, "#")
		shift, err = strconv.ParseUint(shiftText, 0, 8)
		if err != nil {
			return Insn{}, fmt.Errorf("invalid shift %q: %w", operands[2], err)
		}
	}
	if mnem == "movz" {
		return Movz(dst, uint16(imm), uint32(shift))
	}
	return Movk(dst, uint16(imm), uint32(shift))
}

func normalizeImm(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "#")
}

// splitOperands splits a comma-separated operand list, tolerating the
// "lsl #16" form inside the last operand (no commas inside it matter here).
func splitOperands(rest string) []string {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil
	}
	parts := strings.Split(rest, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
