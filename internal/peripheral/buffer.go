// Package peripheral implements memory-mapped peripherals the rehosting
// core attaches at addresses the TZOS or its normal-world counterpart expect
// to be backed by hardware: a plain in-memory buffer, and one that forwards
// accesses to a second target's address space.
package peripheral

import (
	"encoding/binary"
	"fmt"
)

// InMemoryBuffer is a peripheral backed by a flat byte buffer, addressable
// directly (Write/Read) without going through a target's memory interface —
// useful for staging data before a target exists, or for shared-memory
// regions the rehosting core itself owns.
type InMemoryBuffer struct {
	Name    string
	Address uint64
	Size    uint64
	buf     []byte
}

// NewInMemoryBuffer allocates a buffer peripheral covering [address,
// address+size).
func NewInMemoryBuffer(name string, address, size uint64) *InMemoryBuffer {
	return &InMemoryBuffer{Name: name, Address: address, Size: size, buf: make([]byte, size)}
}

func (b *InMemoryBuffer) offset(address uint64, size int) (int, error) {
	if address < b.Address || address+uint64(size) > b.Address+b.Size {
		return 0, fmt.Errorf("peripheral %s: access [%#x, %#x) out of bounds [%#x, %#x)",
			b.Name, address, address+uint64(size), b.Address, b.Address+b.Size)
	}
	return int(address - b.Address), nil
}

// ReadMemoryRaw returns size bytes read from address, zero-padded if the
// buffer is shorter than requested (mirroring the original's ljust padding).
// The start address must lie within [Address, Address+Size].
func (b *InMemoryBuffer) ReadMemoryRaw(address uint64, size int) ([]byte, error) {
	if address < b.Address || address > b.Address+b.Size {
		return nil, fmt.Errorf("peripheral %s: read at %#x outside [%#x, %#x)",
			b.Name, address, b.Address, b.Address+b.Size)
	}
	off := int(address - b.Address)
	out := make([]byte, size)
	copy(out, b.buf[off:])
	return out, nil
}

// ReadMemoryInt reads size bytes (at most 8) from address and interprets
// them as a little-endian unsigned integer, matching the non-raw mode the
// debug protocol's remote memory reads use.
func (b *InMemoryBuffer) ReadMemoryInt(address uint64, size int) (uint64, error) {
	if size > 8 {
		return 0, fmt.Errorf("peripheral %s: integer reads wider than 8 bytes are not supported (got %d)", b.Name, size)
	}
	data, err := b.ReadMemoryRaw(address, size)
	if err != nil {
		return 0, err
	}
	var padded [8]byte
	copy(padded[:], data)
	return binary.LittleEndian.Uint64(padded[:]), nil
}

// WriteMemoryRaw writes data at address.
func (b *InMemoryBuffer) WriteMemoryRaw(address uint64, data []byte) error {
	off, err := b.offset(address, len(data))
	if err != nil {
		return err
	}
	copy(b.buf[off:off+len(data)], data)
	return nil
}

// WriteMemoryInt writes the low size bytes (at most 8) of value to address
// in little-endian order.
func (b *InMemoryBuffer) WriteMemoryInt(address uint64, size int, value uint64) error {
	if size > 8 {
		return fmt.Errorf("peripheral %s: integer writes wider than 8 bytes are not supported (got %d)", b.Name, size)
	}
	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], value)
	return b.WriteMemoryRaw(address, full[:size])
}

// WriteAt writes data starting at the beginning of the buffer's address
// range, for staging content before any target reads it.
func (b *InMemoryBuffer) WriteAt(data []byte) error {
	return b.WriteMemoryRaw(b.Address, data)
}
