package config

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zboralski/tzrehost/internal/runner"
)

// RegisterWriter is the narrow target surface BootPatcher needs: writing a
// named register (including "pc", to skip past an instruction entirely).
type RegisterWriter interface {
	WriteRegister(name string, value uint64) error
}

// BootPatcher applies a fixed set of register pokes every time execution
// stops at a patch's address (its handler stays armed after the first hit),
// generalizing the per-device
// boot-patch tables (e.g. OP-TEE's GIC sysreg skips) into data rather than
// enumerated code.
type BootPatcher struct {
	target  RegisterWriter
	patches []BootPatch
	log     *zap.SugaredLogger
}

// NewBootPatcher constructs a BootPatcher for patches, writing through
// target.
func NewBootPatcher(target RegisterWriter, patches []BootPatch, log *zap.SugaredLogger) *BootPatcher {
	return &BootPatcher{target: target, patches: patches, log: log}
}

// Install arms a breakpoint and handler on r for every configured patch.
func (p *BootPatcher) Install(r *runner.Runner) error {
	for _, patch := range p.patches {
		patch := patch
		if err := r.SetHandler(patch.Address, func(pc uint64) error {
			return p.apply(patch)
		}); err != nil {
			return fmt.Errorf("config: installing boot patch at %#x: %w", patch.Address, err)
		}
	}
	return nil
}

func (p *BootPatcher) apply(patch BootPatch) error {
	if err := p.target.WriteRegister(patch.Register, patch.Value); err != nil {
		return fmt.Errorf("config: applying boot patch at %#x: %w", patch.Address, err)
	}
	if p.log != nil {
		p.log.Debugw("boot patch applied", "address", fmt.Sprintf("%#x", patch.Address),
			"register", patch.Register, "value", fmt.Sprintf("%#x", patch.Value))
	}
	return nil
}
