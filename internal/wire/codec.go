// Package wire implements the little-endian packed-struct wire formats
// exchanged with OP-TEE and TrustedCore over shared memory: parsing a struct
// out of a byte range and serializing one back must round-trip exactly, since
// both directions cross the same shared-memory buffer a TZOS reads and writes.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MemoryReader is the minimal memory-read capability a wire struct needs to
// parse itself out of a target's address space. internal/target.Target
// satisfies this.
type MemoryReader interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
}

// Struct is implemented by every wire-format struct in this package.
// Serialize writes the struct's wire representation to buf. Parsing is done
// by package-level Parse* functions rather than through this interface.
type Struct interface {
	Serialize(buf *bytes.Buffer)
}

// ToBytes serializes s into a freshly allocated byte slice.
func ToBytes(s Struct) []byte {
	var buf bytes.Buffer
	s.Serialize(&buf)
	return buf.Bytes()
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// readUint32Fields reads a run of little-endian uint32 fields from mem
// starting at addr, returning the decoded values.
func readUint32Fields(mem MemoryReader, addr uint64, count int) ([]uint32, error) {
	size := count * 4
	data, err := mem.ReadMemory(addr, size)
	if err != nil {
		return nil, fmt.Errorf("wire: reading %d uint32 fields at %#x: %w", count, addr, err)
	}
	if len(data) != size {
		return nil, fmt.Errorf("wire: short read at %#x: want %d bytes, got %d", addr, size, len(data))
	}
	r := bytes.NewReader(data)
	out := make([]uint32, count)
	for i := range out {
		v, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readUint64Fields(mem MemoryReader, addr uint64, count int) ([]uint64, error) {
	size := count * 8
	data, err := mem.ReadMemory(addr, size)
	if err != nil {
		return nil, fmt.Errorf("wire: reading %d uint64 fields at %#x: %w", count, addr, err)
	}
	if len(data) != size {
		return nil, fmt.Errorf("wire: short read at %#x: want %d bytes, got %d", addr, size, len(data))
	}
	r := bytes.NewReader(data)
	out := make([]uint64, count)
	for i := range out {
		v, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func writeUint32(w io.Writer, v uint32) {
	_ = binary.Write(w, binary.LittleEndian, v)
}

func writeUint64(w io.Writer, v uint64) {
	_ = binary.Write(w, binary.LittleEndian, v)
}
