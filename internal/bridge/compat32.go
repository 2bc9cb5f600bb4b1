package bridge

import (
	"regexp"
	"strings"
)

var rRegisterPattern = regexp.MustCompile(`^r(\d+)`)

// translateCompat32RegisterName maps AArch32 register names onto the
// AArch64 register names a TZOS running in svc32/usr32 compatibility mode
// actually exposes through the debug protocol: rN becomes xN, lr becomes
// x14 (AArch32 banked LR maps onto X14 in this mode, not X30), and dfsr is
// read out of the low 32 bits of ESR_EL1.
func translateCompat32RegisterName(name string) string {
	name = strings.ToLower(name)

	if m := rRegisterPattern.FindStringSubmatch(name); m != nil {
		name = "x" + m[1]
	}

	switch name {
	case "lr":
		name = "x14"
	case "dfsr":
		name = "ESR_EL1"
	}

	return name
}

// compat32Bridge is a TargetBridge that translates AArch32 compatibility
// register names and truncates register values to 32 bits, matching the
// architectural mapping ESR_EL1[31:0] == DFSR[31:0].
type compat32Bridge struct {
	baseBridge
}

// NewAArch64Compat32TargetBridge returns a TargetBridge for a TZOS that
// executes in AArch32 compatibility mode on an AArch64 core reached through
// the debug protocol's AArch64 register set.
func NewAArch64Compat32TargetBridge(target registerTarget) TargetBridge {
	b := &compat32Bridge{baseBridge{
		target:            target,
		translateRegister: translateCompat32RegisterName,
		translateAddress:  func(address uint64) uint64 { return address },
	}}
	return b
}

func (b *compat32Bridge) ReadRegister(name string) (uint64, error) {
	v, err := b.baseBridge.ReadRegister(name)
	if err != nil {
		return 0, err
	}
	return v & 0xFFFFFFFF, nil
}

func (b *compat32Bridge) WriteRegister(name string, value uint64) error {
	return b.baseBridge.WriteRegister(name, value&0xFFFFFFFF)
}
