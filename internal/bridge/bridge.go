// Package bridge decouples the rest of the rehosting core from a target's
// native register naming and memory addressing, so the same SMC emulator,
// TEE driver, and strategy code can run against either a plain AArch64
// target or a TZOS running in AArch32 compatibility mode under an AArch64
// core.
package bridge

// TargetBridge is implemented by anything that can translate register names
// and memory addresses before forwarding a read or write to the underlying
// target.
type TargetBridge interface {
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, value uint64) error
	ReadMemory(address uint64, size int) ([]byte, error)
	WriteMemory(address uint64, data []byte) error
}

// registerTarget is the subset of internal/target.Target a bridge forwards
// to.
type registerTarget interface {
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, value uint64) error
	ReadMemory(addr uint64, size int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
}

// baseBridge holds the wrapped target and the translation hooks a concrete
// bridge overrides.
type baseBridge struct {
	target            registerTarget
	translateRegister func(name string) string
	translateAddress  func(address uint64) uint64
}

func (b *baseBridge) ReadRegister(name string) (uint64, error) {
	return b.target.ReadRegister(b.translateRegister(name))
}

func (b *baseBridge) WriteRegister(name string, value uint64) error {
	return b.target.WriteRegister(b.translateRegister(name), value)
}

func (b *baseBridge) ReadMemory(address uint64, size int) ([]byte, error) {
	return b.target.ReadMemory(b.translateAddress(address), size)
}

func (b *baseBridge) WriteMemory(address uint64, data []byte) error {
	return b.target.WriteMemory(b.translateAddress(address), data)
}

// NewDefaultTargetBridge returns a TargetBridge that forwards every request
// to target unchanged.
func NewDefaultTargetBridge(target registerTarget) TargetBridge {
	return &baseBridge{
		target:            target,
		translateRegister: func(name string) string { return name },
		translateAddress:  func(address uint64) uint64 { return address },
	}
}
