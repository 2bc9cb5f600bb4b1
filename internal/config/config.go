// Package config loads the per-TZOS memory layout and boot-patch settings a
// rehosting run needs, expressed as YAML rather than the original's
// per-device Python tables.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TZOS identifies which call-into-TZOS strategy and wire structs a config
// targets.
type TZOS string

const (
	Optee       TZOS = "optee"
	TrustedCore TZOS = "trustedcore"
)

// SMCIdentifiers are the two SMC function identifiers the secure monitor
// emulator (internal/smc) case-switches on at a TZOS's own SMC entrypoint:
// the one-time boot-completion call and the call a TZOS issues to ask for
// normal-world RPC service. These are architectural constants of a TZOS
// flavor's own calling convention, not per-device tunables, so they live
// here rather than in Config's YAML schema.
//
// They are distinct from the normal-world-issued function identifiers
// internal/strategy and internal/teedriver switch on (OPTEE_SMC_CALL_WITH_ARG
// and friends), which belong to a different identifier space and are
// already fixed per flavor in those packages.
type SMCIdentifiers struct {
	ReturnFromBoot  uint64
	NormalWorldCall uint64
}

// SMCIdentifiers returns t's fixed SMC function identifiers. The OP-TEE
// values were identified by observing boot behavior rather than from any
// published calling convention; TrustedCore's are chosen in the same
// identifier space as its TSP_REQUEST call (0xB2000008).
func (t TZOS) SMCIdentifiers() SMCIdentifiers {
	switch t {
	case TrustedCore:
		return SMCIdentifiers{ReturnFromBoot: 0xB2000001, NormalWorldCall: 0xB2000002}
	default:
		return SMCIdentifiers{ReturnFromBoot: 0xBE000000, NormalWorldCall: 0xBE000005}
	}
}

// BootPatch is a single address→register poke applied each time the target
// stops at Address.
type BootPatch struct {
	Address  uint64 `yaml:"address"`
	Register string `yaml:"register"`
	Value    uint64 `yaml:"value"`
}

// Config is the full set of knobs a rehosting run needs, loaded from YAML.
type Config struct {
	TZOS TZOS `yaml:"tzos"`

	CodeBase  uint64 `yaml:"code_base"`
	StackBase uint64 `yaml:"stack_base"`
	StackSize uint64 `yaml:"stack_size"`

	SharedMemoryBase     uint64 `yaml:"shared_memory_base"`
	SharedMemorySize     uint64 `yaml:"shared_memory_size"`
	NsecSharedMemoryBase uint64 `yaml:"nsec_shared_memory_base"`
	NsecSharedMemorySize uint64 `yaml:"nsec_shared_memory_size"`

	SMCEntryAddress uint64 `yaml:"smc_entry_address"`
	JITCodeRegion   uint64 `yaml:"jit_code_region"`
	SMCSpsrValue    uint64 `yaml:"smc_spsr_value"`

	TrustedAppsDir   string `yaml:"trusted_apps_dir"`
	SecureStorageDir string `yaml:"secure_storage_dir"`

	BootPatches []BootPatch `yaml:"boot_patches"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.TZOS {
	case Optee, TrustedCore:
	case "":
		return fmt.Errorf("tzos field is required (expected %q or %q)", Optee, TrustedCore)
	default:
		return fmt.Errorf("unknown tzos %q (expected %q or %q)", c.TZOS, Optee, TrustedCore)
	}
	if c.SMCEntryAddress == 0 {
		return fmt.Errorf("smc_entry_address is required")
	}
	if c.SharedMemoryBase == 0 || c.SharedMemorySize == 0 {
		return fmt.Errorf("shared_memory_base and shared_memory_size are required")
	}
	return nil
}
