package peripheral

// RemoteMemory is the subset of internal/target.Target a forwarding
// peripheral needs from the destination machine.
type RemoteMemory interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
}

// Forwarder is a peripheral whose accesses are relayed to a second target's
// address space: reads/writes at [Address, Address+Size) on the local
// target are translated to [DestVA, DestVA+Size) on Dest. Used to expose a
// region of a physical device's normal-world memory to the rehosted
// emulator without copying it up front.
type Forwarder struct {
	Name    string
	Address uint64
	Size    uint64
	DestVA  uint64
	Dest    RemoteMemory
}

// NewForwarder constructs a Forwarder peripheral covering [address,
// address+size) on the local side, translated to start at destVA on dest.
func NewForwarder(name string, address, size, destVA uint64, dest RemoteMemory) *Forwarder {
	return &Forwarder{Name: name, Address: address, Size: size, DestVA: destVA, Dest: dest}
}

func (f *Forwarder) translate(address uint64) uint64 {
	return address - f.Address + f.DestVA
}

// ReadMemory reads size bytes from the destination machine at the address
// translated from the local access.
func (f *Forwarder) ReadMemory(address uint64, size int) ([]byte, error) {
	return f.Dest.ReadMemory(f.translate(address), size)
}

// WriteMemory writes data to the destination machine at the address
// translated from the local access.
func (f *Forwarder) WriteMemory(address uint64, data []byte) error {
	return f.Dest.WriteMemory(f.translate(address), data)
}
