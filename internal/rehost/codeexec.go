package rehost

import (
	"errors"
	"fmt"

	"github.com/zboralski/tzrehost/internal/asmgen"
	"github.com/zboralski/tzrehost/internal/target"
)

func aarch64Asm(text string) ([]byte, error) {
	return asmgen.AArch64Asm(text)
}

// ErrNoCodeAssembled is returned by Run when called before any code has
// been stored via AssembleAndStore.
var ErrNoCodeAssembled = errors.New("rehost: no code assembled in JIT scratch region")

// CodeExecHelper manages a small scratch memory region used to run
// just-in-time assembled code — the only way to reach system registers the
// debug protocol itself can't read or write, such as SPSR_EL3/ELR_EL3.
type CodeExecHelper struct {
	target   target.Target
	base     uint64
	codeSize int
}

// NewCodeExecHelper wraps target, using the region starting at base (which
// the caller must already have mapped, e.g. via internal/config's
// jit_code_region) to stage assembled instructions.
func NewCodeExecHelper(t target.Target, base uint64) *CodeExecHelper {
	return &CodeExecHelper{target: t, base: base}
}

// AssembleAndStore assembles assemblerCode and writes it into the scratch
// region, recording its size for Run's temporary breakpoint placement.
func (h *CodeExecHelper) AssembleAndStore(assemblerCode string) error {
	code, err := aarch64Asm(assemblerCode)
	if err != nil {
		return err
	}
	h.codeSize = len(code)
	return h.target.WriteMemory(h.base, code)
}

func (h *CodeExecHelper) breakpointLocation() uint64 {
	return h.base + uint64(h.codeSize) - 4
}

// Run executes the most recently assembled code to completion: it saves the
// current PC, redirects execution into the scratch region with a temporary
// breakpoint one instruction before the end, continues until that
// breakpoint, single-steps the final instruction, then restores the
// original PC and removes the breakpoint.
func (h *CodeExecHelper) Run() error {
	if h.codeSize == 0 {
		return ErrNoCodeAssembled
	}

	oldPC, err := h.target.ReadRegister("pc")
	if err != nil {
		return fmt.Errorf("rehost: saving PC before JIT run: %w", err)
	}

	if err := h.target.WriteRegister("pc", h.base); err != nil {
		return fmt.Errorf("rehost: redirecting PC into JIT region: %w", err)
	}

	bp := h.breakpointLocation()
	if err := h.target.SetBreakpoint(bp); err != nil {
		return fmt.Errorf("rehost: arming JIT completion breakpoint at %#x: %w", bp, err)
	}
	defer h.target.RemoveBreakpoint(bp)

	if _, err := h.target.Continue(); err != nil {
		return fmt.Errorf("rehost: running JIT code: %w", err)
	}

	// The breakpoint stops execution one instruction before the end; step
	// once more to retire it.
	if _, err := h.target.Step(); err != nil {
		return fmt.Errorf("rehost: retiring final JIT instruction: %w", err)
	}

	if err := h.target.WriteRegister("pc", oldPC); err != nil {
		return fmt.Errorf("rehost: restoring PC after JIT run: %w", err)
	}
	return nil
}
