package wire

import "bytes"

// OpteeMsgAttr values identify the shape of an OpteeMsgParam's body. Only
// OpteeMsgAttrTypeValueInout and its siblings are observed in practice by
// this rehosting core; Tmem/Rmem are defined for completeness but
// parseOpteeMsgParam does not dispatch on attr (see DESIGN.md).
const (
	OpteeMsgAttrTypeNone        = 0x0
	OpteeMsgAttrTypeValueInput  = 0x1
	OpteeMsgAttrTypeValueOutput = 0x2
	OpteeMsgAttrTypeValueInout  = 0x3
	OpteeMsgAttrTypeRmemInput   = 0x5
	OpteeMsgAttrTypeRmemOutput  = 0x6
	OpteeMsgAttrTypeRmemInout   = 0x7
	OpteeMsgAttrTypeTmemInput   = 0x9
	OpteeMsgAttrTypeTmemOutput  = 0xa
	OpteeMsgAttrTypeTmemInout   = 0xb
)

// OpteeMsgParamTmem is the temp-memory variant of a message parameter body.
type OpteeMsgParamTmem struct {
	BufPtr uint64
	Size   uint64
	ShmRef uint64
}

func parseOpteeMsgParamTmem(mem MemoryReader, addr uint64) (OpteeMsgParamTmem, error) {
	f, err := readUint64Fields(mem, addr, 3)
	if err != nil {
		return OpteeMsgParamTmem{}, err
	}
	return OpteeMsgParamTmem{BufPtr: f[0], Size: f[1], ShmRef: f[2]}, nil
}

func (t OpteeMsgParamTmem) Serialize(buf *bytes.Buffer) {
	writeUint64(buf, t.BufPtr)
	writeUint64(buf, t.Size)
	writeUint64(buf, t.ShmRef)
}

// OpteeMsgParamRmem is the registered-memory variant of a message parameter body.
type OpteeMsgParamRmem struct {
	Offset uint64
	Size   uint64
	ShmRef uint64
}

func parseOpteeMsgParamRmem(mem MemoryReader, addr uint64) (OpteeMsgParamRmem, error) {
	f, err := readUint64Fields(mem, addr, 3)
	if err != nil {
		return OpteeMsgParamRmem{}, err
	}
	return OpteeMsgParamRmem{Offset: f[0], Size: f[1], ShmRef: f[2]}, nil
}

func (r OpteeMsgParamRmem) Serialize(buf *bytes.Buffer) {
	writeUint64(buf, r.Offset)
	writeUint64(buf, r.Size)
	writeUint64(buf, r.ShmRef)
}

// OpteeMsgParamValue is the plain-value variant of a message parameter body.
type OpteeMsgParamValue struct {
	A uint64
	B uint64
	C uint64
}

func parseOpteeMsgParamValue(mem MemoryReader, addr uint64) (OpteeMsgParamValue, error) {
	f, err := readUint64Fields(mem, addr, 3)
	if err != nil {
		return OpteeMsgParamValue{}, err
	}
	return OpteeMsgParamValue{A: f[0], B: f[1], C: f[2]}, nil
}

func (v OpteeMsgParamValue) Serialize(buf *bytes.Buffer) {
	writeUint64(buf, v.A)
	writeUint64(buf, v.B)
	writeUint64(buf, v.C)
}

// OpteeMsgParam is one entry of an OpteeMsgArg's parameter array. Attr names
// the body's shape; Value always holds the parsed 24-byte body regardless of
// attr, matching the original implementation's documented limitation of never
// dispatching to Tmem/Rmem (see DESIGN.md's Open Question entry).
type OpteeMsgParam struct {
	Attr  uint64
	Value OpteeMsgParamValue
}

// opteeMsgParamSize is the wire size of one parameter: 8 bytes attr + 24
// bytes body.
const opteeMsgParamSize = 8 + 24

func parseOpteeMsgParam(mem MemoryReader, addr uint64) (OpteeMsgParam, int, error) {
	attrFields, err := readUint64Fields(mem, addr, 1)
	if err != nil {
		return OpteeMsgParam{}, 0, err
	}
	value, err := parseOpteeMsgParamValue(mem, addr+8)
	if err != nil {
		return OpteeMsgParam{}, 0, err
	}
	return OpteeMsgParam{Attr: attrFields[0], Value: value}, opteeMsgParamSize, nil
}

func (p OpteeMsgParam) Serialize(buf *bytes.Buffer) {
	writeUint64(buf, p.Attr)
	p.Value.Serialize(buf)
}

// OpteeMsgArg is the OP-TEE message argument struct passed between the
// normal-world client and the TZOS over shared memory.
type OpteeMsgArg struct {
	Cmd       uint32
	Func      uint32
	Session   uint32
	CancelID  uint32
	Pad       uint32
	Ret       uint32
	RetOrigin uint32
	Params    []OpteeMsgParam
}

// opteeMsgArgHeaderFields is the number of uint32 header fields preceding
// the params array: cmd, func, session, cancel_id, pad, ret, ret_origin,
// num_params.
const opteeMsgArgHeaderFields = 8

// ParseOpteeMsgArg reads an OpteeMsgArg starting at addr in mem.
func ParseOpteeMsgArg(mem MemoryReader, addr uint64) (OpteeMsgArg, error) {
	header, err := readUint32Fields(mem, addr, opteeMsgArgHeaderFields)
	if err != nil {
		return OpteeMsgArg{}, err
	}
	numParams := header[7]

	offset := uint64(opteeMsgArgHeaderFields * 4)
	params := make([]OpteeMsgParam, 0, numParams)
	for i := uint32(0); i < numParams; i++ {
		param, consumed, err := parseOpteeMsgParam(mem, addr+offset)
		if err != nil {
			return OpteeMsgArg{}, err
		}
		params = append(params, param)
		offset += uint64(consumed)
	}

	return OpteeMsgArg{
		Cmd:       header[0],
		Func:      header[1],
		Session:   header[2],
		CancelID:  header[3],
		Pad:       header[4],
		Ret:       header[5],
		RetOrigin: header[6],
		Params:    params,
	}, nil
}

func (a OpteeMsgArg) Serialize(buf *bytes.Buffer) {
	writeUint32(buf, a.Cmd)
	writeUint32(buf, a.Func)
	writeUint32(buf, a.Session)
	writeUint32(buf, a.CancelID)
	writeUint32(buf, a.Pad)
	writeUint32(buf, a.Ret)
	writeUint32(buf, a.RetOrigin)
	writeUint32(buf, uint32(len(a.Params)))
	for _, p := range a.Params {
		p.Serialize(buf)
	}
}
