// Package strategy implements the call-into-TZOS step of issuing a command:
// writing its arguments into shared memory, setting up the EL3 registers an
// eret needs to hand control to the TZOS's SMC entrypoint, and later parsing
// the result back out of shared memory. Different TZOSs encode their
// command and result structures differently, so each gets its own strategy
// implementing the same interface.
package strategy

// CallIntoTzosStrategy decouples the SMC emulator and TZOS runner from the
// wire format a specific TZOS expects, so the same runner works against
// OP-TEE and TrustedCore images alike.
type CallIntoTzosStrategy interface {
	// ExecuteTzosCommand stages cmd in shared memory and writes the
	// registers/assembly needed to hand control to the TZOS.
	ExecuteTzosCommand(cmd any) error
	// ParseReturnValue reads and decodes the most recent command's result
	// from shared memory.
	ParseReturnValue() (any, error)
}
