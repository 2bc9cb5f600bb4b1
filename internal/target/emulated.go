package target

import (
	"fmt"
	"strings"
	"sync"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Default memory layout for an EmulatedTarget. internal/config overrides
// these from a per-TZOS YAML file; the constants here are just sane
// fallbacks and the values the teacher repo used for its own memory map.
const (
	DefaultCodeBase  = 0x40000000
	DefaultCodeSize  = 0x01000000
	DefaultStackBase = 0x80000000
	DefaultStackSize = 0x00100000
)

// namedGPRegisters maps general-purpose register names to Unicorn's ARM64
// register constants. Register names beyond these (the EL3 system registers
// an emulated secure monitor needs, like spsr_el3/elr_el3) are not directly
// addressable through Unicorn's register API — Unicorn models an ARMv8-A
// core without EL3 support, so those are instead written by executing an
// MSR instruction in place, via internal/rehost's JIT helper.
var namedGPRegisters = map[string]int{
	"x0": uc.ARM64_REG_X0, "x1": uc.ARM64_REG_X1, "x2": uc.ARM64_REG_X2,
	"x3": uc.ARM64_REG_X3, "x4": uc.ARM64_REG_X4, "x5": uc.ARM64_REG_X5,
	"x6": uc.ARM64_REG_X6, "x7": uc.ARM64_REG_X7, "x8": uc.ARM64_REG_X8,
	"x9": uc.ARM64_REG_X9, "x10": uc.ARM64_REG_X10, "x11": uc.ARM64_REG_X11,
	"x12": uc.ARM64_REG_X12, "x13": uc.ARM64_REG_X13, "x14": uc.ARM64_REG_X14,
	"x15": uc.ARM64_REG_X15, "x16": uc.ARM64_REG_X16, "x17": uc.ARM64_REG_X17,
	"x18": uc.ARM64_REG_X18, "x19": uc.ARM64_REG_X19, "x20": uc.ARM64_REG_X20,
	"x21": uc.ARM64_REG_X21, "x22": uc.ARM64_REG_X22, "x23": uc.ARM64_REG_X23,
	"x24": uc.ARM64_REG_X24, "x25": uc.ARM64_REG_X25, "x26": uc.ARM64_REG_X26,
	"x27": uc.ARM64_REG_X27, "x28": uc.ARM64_REG_X28, "x29": uc.ARM64_REG_X29,
	"x30": uc.ARM64_REG_X30, "lr": uc.ARM64_REG_LR, "sp": uc.ARM64_REG_SP,
	"pc": uc.ARM64_REG_PC, "tpidr_el0": uc.ARM64_REG_TPIDR_EL0,
}

// jitOnlyRegisters are accepted by name but rejected by ReadRegister /
// WriteRegister with a descriptive error, since they require the JIT
// write path rather than Unicorn's direct register access.
var jitOnlyRegisters = map[string]bool{
	"spsr_el3": true,
	"elr_el3":  true,
}

// EmulatedTarget runs the TZOS inside an in-process Unicorn Engine ARM64
// emulator.
type EmulatedTarget struct {
	mu uc.Unicorn

	breakpointsMu sync.RWMutex
	breakpoints   map[uint64]bool

	stopPC     uint64
	terminated bool
	running    bool

	codeBase, codeSize   uint64
	stackBase, stackSize uint64
}

// EmulatedTargetConfig describes the memory regions to map before the TZOS
// binary is loaded.
type EmulatedTargetConfig struct {
	CodeBase, CodeSize   uint64
	StackBase, StackSize uint64
	// ExtraRegions are additional address ranges to map (shared memory,
	// non-secure shared memory, the JIT code-execution scratch region).
	ExtraRegions []MemoryRegion
}

// MemoryRegion is an additional address range to map into an EmulatedTarget.
type MemoryRegion struct {
	Base, Size uint64
	Name       string
}

// DefaultEmulatedTargetConfig returns the fallback memory layout.
func DefaultEmulatedTargetConfig() EmulatedTargetConfig {
	return EmulatedTargetConfig{
		CodeBase:  DefaultCodeBase,
		CodeSize:  DefaultCodeSize,
		StackBase: DefaultStackBase,
		StackSize: DefaultStackSize,
	}
}

// NewEmulatedTarget creates a Unicorn-backed Target and maps the configured
// memory regions.
func NewEmulatedTarget(cfg EmulatedTargetConfig) (*EmulatedTarget, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_ARM64, uc.MODE_ARM)
	if err != nil {
		return nil, fmt.Errorf("target: create unicorn instance: %w", err)
	}

	t := &EmulatedTarget{
		mu:          mu,
		breakpoints: make(map[uint64]bool),
		codeBase:    cfg.CodeBase,
		codeSize:    cfg.CodeSize,
		stackBase:   cfg.StackBase,
		stackSize:   cfg.StackSize,
	}

	regions := []MemoryRegion{
		{cfg.CodeBase, cfg.CodeSize, "code"},
		{cfg.StackBase, cfg.StackSize, "stack"},
	}
	regions = append(regions, cfg.ExtraRegions...)

	for _, r := range regions {
		if err := mu.MemMap(r.Base, r.Size); err != nil {
			mu.Close()
			return nil, fmt.Errorf("target: map %s region at %#x: %w", r.Name, r.Base, err)
		}
	}

	if err := mu.RegWrite(uc.ARM64_REG_SP, cfg.StackBase+cfg.StackSize-0x1000); err != nil {
		mu.Close()
		return nil, fmt.Errorf("target: set initial SP: %w", err)
	}

	if _, err := mu.HookAdd(uc.HOOK_CODE, t.onCode, 1, 0); err != nil {
		mu.Close()
		return nil, fmt.Errorf("target: install code hook: %w", err)
	}

	return t, nil
}

func (t *EmulatedTarget) onCode(mu uc.Unicorn, addr uint64, size uint32) {
	t.breakpointsMu.RLock()
	hit := t.breakpoints[addr]
	t.breakpointsMu.RUnlock()
	if hit {
		t.stopPC = addr
		t.running = false
		t.mu.Stop()
	}
}

// LoadCode writes code bytes at the configured code base.
func (t *EmulatedTarget) LoadCode(code []byte) error {
	return t.mu.MemWrite(t.codeBase, code)
}

// MapRegion maps an additional memory region, for use after construction
// (e.g. a shared-memory or JIT scratch region computed from a loaded ELF's
// end address).
func (t *EmulatedTarget) MapRegion(addr, size uint64) error {
	return t.mu.MemMap(addr, size)
}

func (t *EmulatedTarget) State() State {
	switch {
	case t.terminated:
		return StateTerminated
	case t.running:
		return StateRunning
	default:
		return StateStopped
	}
}

func (t *EmulatedTarget) SetBreakpoint(addr uint64) error {
	t.breakpointsMu.Lock()
	defer t.breakpointsMu.Unlock()
	if t.breakpoints[addr] {
		return ErrBreakpointExists
	}
	t.breakpoints[addr] = true
	return nil
}

func (t *EmulatedTarget) RemoveBreakpoint(addr uint64) error {
	t.breakpointsMu.Lock()
	defer t.breakpointsMu.Unlock()
	if !t.breakpoints[addr] {
		return ErrNoBreakpoint
	}
	delete(t.breakpoints, addr)
	return nil
}

// Continue resumes Unicorn from the current PC. Unicorn's Start blocks the
// calling goroutine until a hook calls Stop or execution reaches the end
// address (0 here, meaning "run until a hook stops it"), so this call
// directly implements the running -> stopped transition without needing a
// background goroutine of its own.
func (t *EmulatedTarget) Continue() (uint64, error) {
	if t.terminated {
		return 0, ErrTerminated
	}
	pc, err := t.mu.RegRead(uc.ARM64_REG_PC)
	if err != nil {
		return 0, fmt.Errorf("target: read PC before continue: %w", err)
	}
	t.running = true
	if err := t.mu.Start(pc, 0); err != nil {
		t.running = false
		return 0, fmt.Errorf("target: continue from %#x: %w", pc, err)
	}
	t.running = false
	return t.stopPC, nil
}

// Step executes a single instruction via Unicorn's instruction-count-limited
// start (uc_emu_start with count=1), rather than continuing to the next
// breakpoint.
func (t *EmulatedTarget) Step() (uint64, error) {
	if t.terminated {
		return 0, ErrTerminated
	}
	pc, err := t.mu.RegRead(uc.ARM64_REG_PC)
	if err != nil {
		return 0, fmt.Errorf("target: read PC before step: %w", err)
	}
	t.running = true
	err = t.mu.StartWithOptions(pc, 0, &uc.UcOptions{Count: 1})
	t.running = false
	if err != nil {
		return 0, fmt.Errorf("target: step from %#x: %w", pc, err)
	}
	pc, err = t.mu.RegRead(uc.ARM64_REG_PC)
	if err != nil {
		return 0, fmt.Errorf("target: read PC after step: %w", err)
	}
	return pc, nil
}

func (t *EmulatedTarget) ReadRegister(name string) (uint64, error) {
	name = strings.ToLower(name)
	if jitOnlyRegisters[name] {
		return 0, fmt.Errorf("target: %s is not directly readable on an emulated target; use internal/rehost's JIT helper", name)
	}
	reg, ok := namedGPRegisters[name]
	if !ok {
		return 0, fmt.Errorf("target: unknown register %q", name)
	}
	return t.mu.RegRead(reg)
}

func (t *EmulatedTarget) WriteRegister(name string, value uint64) error {
	name = strings.ToLower(name)
	if jitOnlyRegisters[name] {
		return fmt.Errorf("target: %s is not directly writable on an emulated target; use internal/rehost's JIT helper", name)
	}
	reg, ok := namedGPRegisters[name]
	if !ok {
		return fmt.Errorf("target: unknown register %q", name)
	}
	return t.mu.RegWrite(reg, value)
}

func (t *EmulatedTarget) ReadMemory(addr uint64, size int) ([]byte, error) {
	return t.mu.MemRead(addr, uint64(size))
}

func (t *EmulatedTarget) WriteMemory(addr uint64, data []byte) error {
	return t.mu.MemWrite(addr, data)
}

func (t *EmulatedTarget) Close() error {
	t.terminated = true
	return t.mu.Close()
}
