package wire

import "bytes"

// TCParam is one of a TC_Operation's four fixed parameter slots.
type TCParam struct {
	A uint32
	B uint32
}

func parseTCParam(mem MemoryReader, addr uint64) (TCParam, error) {
	f, err := readUint32Fields(mem, addr, 2)
	if err != nil {
		return TCParam{}, err
	}
	return TCParam{A: f[0], B: f[1]}, nil
}

func (p TCParam) Serialize(buf *bytes.Buffer) {
	writeUint32(buf, p.A)
	writeUint32(buf, p.B)
}

// tcOperationParamCount is the fixed number of parameter slots a
// TC_Operation carries, regardless of how many paramTypes actually encodes
// as in-use.
const tcOperationParamCount = 4

// TCOperation mirrors TrustedCore's TC_Operation: a param-type bitmask
// followed by four fixed parameter slots.
type TCOperation struct {
	ParamTypes uint32
	Params     [tcOperationParamCount]TCParam
}

// ParseTCOperation reads a TC_Operation starting at addr in mem.
func ParseTCOperation(mem MemoryReader, addr uint64) (TCOperation, error) {
	header, err := readUint32Fields(mem, addr, 1)
	if err != nil {
		return TCOperation{}, err
	}
	op := TCOperation{ParamTypes: header[0]}
	for i := 0; i < tcOperationParamCount; i++ {
		p, err := parseTCParam(mem, addr+4+uint64(i)*8)
		if err != nil {
			return TCOperation{}, err
		}
		op.Params[i] = p
	}
	return op, nil
}

func (o TCOperation) Serialize(buf *bytes.Buffer) {
	writeUint32(buf, o.ParamTypes)
	for _, p := range o.Params {
		p.Serialize(buf)
	}
}

// TCNsSmcCmd mirrors TrustedCore's TC_NS_SMC_CMD, the command struct
// exchanged between the normal-world TEE client and the secure-world driver
// over the ring buffer strategy (internal/strategy.TrustedCore).
type TCNsSmcCmd struct {
	UUIDPhys      uint32
	CmdID         uint32
	DevFileID     uint32
	ContextID     uint32
	AgentID       uint32
	OperationPhys uint32
	LoginMethod   uint32
	LoginData     uint32
	ErrOrigin     uint32
	RetVal        uint32
	EventNr       uint32
	Remap         uint32
	UID           uint32
	Started       uint32
}

// tcNsSmcCmdFields is the number of uint32 fields in TC_NS_SMC_CMD.
const tcNsSmcCmdFields = 14

// ParseTCNsSmcCmd reads a TC_NS_SMC_CMD starting at addr in mem.
func ParseTCNsSmcCmd(mem MemoryReader, addr uint64) (TCNsSmcCmd, error) {
	f, err := readUint32Fields(mem, addr, tcNsSmcCmdFields)
	if err != nil {
		return TCNsSmcCmd{}, err
	}
	return TCNsSmcCmd{
		UUIDPhys:      f[0],
		CmdID:         f[1],
		DevFileID:     f[2],
		ContextID:     f[3],
		AgentID:       f[4],
		OperationPhys: f[5],
		LoginMethod:   f[6],
		LoginData:     f[7],
		ErrOrigin:     f[8],
		RetVal:        f[9],
		EventNr:       f[10],
		Remap:         f[11],
		UID:           f[12],
		Started:       f[13],
	}, nil
}

func (c TCNsSmcCmd) Serialize(buf *bytes.Buffer) {
	writeUint32(buf, c.UUIDPhys)
	writeUint32(buf, c.CmdID)
	writeUint32(buf, c.DevFileID)
	writeUint32(buf, c.ContextID)
	writeUint32(buf, c.AgentID)
	writeUint32(buf, c.OperationPhys)
	writeUint32(buf, c.LoginMethod)
	writeUint32(buf, c.LoginData)
	writeUint32(buf, c.ErrOrigin)
	writeUint32(buf, c.RetVal)
	writeUint32(buf, c.EventNr)
	writeUint32(buf, c.Remap)
	writeUint32(buf, c.UID)
	writeUint32(buf, c.Started)
}
