// Package uuidcodec decodes the trusted application UUID OP-TEE's
// OPTEE_MSG_RPC_CMD_LOAD_TA RPC sends split across two little-endian
// 64-bit halves, into a standard UUID usable as a trusted-app filename.
package uuidcodec

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// TrustedApp decodes a TA UUID from the two little-endian 64-bit halves
// OP-TEE passes as params[0].value.a and params[0].value.b of a LOAD_TA
// command.
func TrustedApp(a, b uint64) uuid.UUID {
	var raw [16]byte
	binary.LittleEndian.PutUint64(raw[0:8], a)
	binary.LittleEndian.PutUint64(raw[8:16], b)
	return uuid.UUID(raw)
}

// TrustedAppFilename returns the ".ta" filename OP-TEE expects to find a
// trusted application's binary under, given its UUID.
func TrustedAppFilename(id uuid.UUID) string {
	return id.String() + ".ta"
}

// Halves splits id into the two little-endian 64-bit halves OP-TEE expects
// in params[0].value.a and params[0].value.b of an open-session command —
// the inverse of TrustedApp.
func Halves(id uuid.UUID) (a, b uint64) {
	raw := [16]byte(id)
	return binary.LittleEndian.Uint64(raw[0:8]), binary.LittleEndian.Uint64(raw[8:16])
}
