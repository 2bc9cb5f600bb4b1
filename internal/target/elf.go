package target

import (
	"debug/elf"
	"fmt"
)

// ELFInfo is the parsed metadata of a loaded TZOS image: TrustedCore images
// are commonly AArch32 (elf.EM_ARM), OP-TEE images AArch64 (elf.EM_AARCH64).
type ELFInfo struct {
	Path     string
	Machine  elf.Machine
	Entry    uint64
	Symbols  map[string]uint64
	Segments []Segment
	BaseAddr uint64
	EndAddr  uint64
}

// Segment is one PT_LOAD segment of a loaded ELF.
type Segment struct {
	VAddr  uint64
	Offset uint64
	Size   uint64 // file size
	MemSz  uint64 // memory size, may exceed Size due to .bss
	Flags  elf.ProgFlag
	Data   []byte
}

// LoadELF parses path and writes its PT_LOAD segments into t's memory at
// their file virtual addresses (TZOS images are built to run at a fixed
// address, unlike the teacher's position-independent Android libraries, so
// no relocation base is computed here).
func (t *EmulatedTarget) LoadELF(path string) (*ELFInfo, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("target: open ELF %s: %w", path, err)
	}
	defer f.Close()

	if f.Machine != elf.EM_AARCH64 && f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("target: unsupported ELF machine %v (want EM_AARCH64 or EM_ARM)", f.Machine)
	}

	info := &ELFInfo{
		Path:    path,
		Machine: f.Machine,
		Entry:   f.Entry,
		Symbols: make(map[string]uint64),
	}

	fileBase := ^uint64(0)
	fileEnd := uint64(0)

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("target: read segment at %#x: %w", prog.Vaddr, err)
		}
		info.Segments = append(info.Segments, Segment{
			VAddr:  prog.Vaddr,
			Offset: prog.Off,
			Size:   prog.Filesz,
			MemSz:  prog.Memsz,
			Flags:  prog.Flags,
			Data:   data,
		})
		if prog.Vaddr < fileBase {
			fileBase = prog.Vaddr
		}
		if end := prog.Vaddr + prog.Memsz; end > fileEnd {
			fileEnd = end
		}
	}
	if len(info.Segments) == 0 {
		return nil, fmt.Errorf("target: %s has no PT_LOAD segments", path)
	}
	info.BaseAddr = fileBase
	info.EndAddr = fileEnd

	if syms, err := f.Symbols(); err == nil {
		for _, s := range syms {
			if s.Value != 0 && s.Name != "" {
				info.Symbols[s.Name] = s.Value
			}
		}
	}

	for _, seg := range info.Segments {
		if err := t.mu.MemWrite(seg.VAddr, seg.Data); err != nil {
			return nil, fmt.Errorf("target: write segment at %#x: %w", seg.VAddr, err)
		}
		if seg.MemSz > seg.Size {
			zeros := make([]byte, seg.MemSz-seg.Size)
			if err := t.mu.MemWrite(seg.VAddr+seg.Size, zeros); err != nil {
				return nil, fmt.Errorf("target: zero bss at %#x: %w", seg.VAddr+seg.Size, err)
			}
		}
	}

	return info, nil
}
