// Package shm implements the non-secure shared memory manager: a bump
// allocator over a fixed physical address range that OP-TEE and TrustedCore
// RPCs use to pass parameters too large to fit in SMC registers.
package shm

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultPageSize matches the page size OP-TEE's allocator rounds requests
// up to.
const DefaultPageSize = 0x1000

// ErrRangeNotFound is returned by Free when asked to release an address
// that isn't the start of a range this manager currently tracks.
var ErrRangeNotFound = errors.New("shm: memory range not found")

type entry struct {
	size uint64
}

// Manager allocates page-aligned ranges out of a single fixed address
// range. Freed ranges are forgotten rather than reused or coalesced — the
// allocator only ever grows forward. This mirrors a documented limitation of
// the system it emulates: real workloads never allocate and free enough
// shared memory in one session to exhaust the range, so reuse was never
// implemented.
type Manager struct {
	startAddress uint64
	pageSize     uint64
	next         uint64
	entries      map[uint64]entry
	log          *zap.SugaredLogger
}

// New creates a Manager that hands out ranges starting at startAddress,
// page-aligned to pageSize.
func New(startAddress uint64, pageSize uint64, log *zap.SugaredLogger) *Manager {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	return &Manager{
		startAddress: startAddress,
		pageSize:     pageSize,
		next:         startAddress,
		entries:      make(map[uint64]entry),
		log:          log,
	}
}

// AllocatePages reserves numPages pages and returns the base address of the
// new range.
func (m *Manager) AllocatePages(numPages uint64) uint64 {
	addr := m.next
	size := m.pageSize * numPages

	if m.log != nil {
		m.log.Debugw("allocating shared memory pages",
			"pages", numPages, "size", size, "address", fmt.Sprintf("%#x", addr))
	}

	m.entries[addr] = entry{size: size}
	m.next += size
	return addr
}

// AllocateBytes reserves a range at least numBytes in size, rounding up to
// whole pages, and returns its base address.
func (m *Manager) AllocateBytes(numBytes uint64) uint64 {
	numPages := numBytes / m.pageSize
	if numBytes%m.pageSize != 0 {
		numPages++
	}
	if m.log != nil {
		m.log.Debugw("allocating shared memory bytes", "bytes", numBytes, "pages", numPages)
	}
	return m.AllocatePages(numPages)
}

// Free releases the range starting at address. address must be the exact
// base address a prior Allocate* call returned.
func (m *Manager) Free(address uint64) error {
	if m.log != nil {
		m.log.Debugw("freeing shared memory range", "address", fmt.Sprintf("%#x", address))
	}
	if _, ok := m.entries[address]; !ok {
		return ErrRangeNotFound
	}
	delete(m.entries, address)
	return nil
}
