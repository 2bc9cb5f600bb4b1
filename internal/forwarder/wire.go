package forwarder

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// ForwardedSmc is the message exchanged between the rehosting process and a
// physical-device-side agent at each SMC world switch: the function
// identifier, the general-purpose argument registers x1-x6, and an optional
// snapshot of the shared memory region the command referenced.
type ForwardedSmc struct {
	FunctionID  uint64
	X           [6]uint64
	ShmSnapshot []byte
}

const (
	fieldFunctionID  = protowire.Number(1)
	fieldRegister    = protowire.Number(2)
	fieldShmSnapshot = protowire.Number(3)
)

// Encode serializes msg using the protobuf wire format directly, without a
// generated .pb.go message type — the message shape is small and fixed
// enough that hand-encoding with protowire avoids a codegen step.
func Encode(msg ForwardedSmc) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldFunctionID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, msg.FunctionID)
	for _, v := range msg.X {
		buf = protowire.AppendTag(buf, fieldRegister, protowire.Fixed64Type)
		buf = protowire.AppendFixed64(buf, v)
	}
	if len(msg.ShmSnapshot) > 0 {
		buf = protowire.AppendTag(buf, fieldShmSnapshot, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg.ShmSnapshot)
	}
	return buf
}

// Decode parses a ForwardedSmc previously produced by Encode.
func Decode(data []byte) (ForwardedSmc, error) {
	var msg ForwardedSmc
	var regIdx int

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ForwardedSmc{}, fmt.Errorf("forwarder: consuming tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldFunctionID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return ForwardedSmc{}, fmt.Errorf("forwarder: consuming function_id: %w", protowire.ParseError(n))
			}
			msg.FunctionID = v
			data = data[n:]

		case num == fieldRegister && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return ForwardedSmc{}, fmt.Errorf("forwarder: consuming register: %w", protowire.ParseError(n))
			}
			if regIdx < len(msg.X) {
				msg.X[regIdx] = v
				regIdx++
			}
			data = data[n:]

		case num == fieldShmSnapshot && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ForwardedSmc{}, fmt.Errorf("forwarder: consuming shm_snapshot: %w", protowire.ParseError(n))
			}
			msg.ShmSnapshot = append([]byte(nil), v...)
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ForwardedSmc{}, fmt.Errorf("forwarder: skipping unknown field: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return msg, nil
}

// WriteFrame writes msg to w as a 4-byte big-endian length prefix followed
// by its protobuf-wire-encoded bytes.
func WriteFrame(w io.Writer, msg ForwardedSmc) error {
	payload := Encode(msg)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("forwarder: writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("forwarder: writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-prefixed ForwardedSmc message from r.
func ReadFrame(r io.Reader) (ForwardedSmc, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return ForwardedSmc{}, fmt.Errorf("forwarder: reading frame length: %w", err)
	}

	payload := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return ForwardedSmc{}, fmt.Errorf("forwarder: reading frame payload: %w", err)
	}
	return Decode(payload)
}
