// Package supplicant emulates the OP-TEE TEE supplicant: the normal-world
// daemon that services OPTEE_SMC_RPC_FUNC_CMD requests the TZOS can't
// handle on its own — allocating normal-world shared memory on its own
// behalf, loading trusted application binaries, and secure storage I/O.
package supplicant

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/zboralski/tzrehost/internal/events"
	"github.com/zboralski/tzrehost/internal/shm"
	"github.com/zboralski/tzrehost/internal/uuidcodec"
	"github.com/zboralski/tzrehost/internal/wire"
)

// Target is the subset of target.Target the supplicant and its secure
// storage emulator need: register access to find shared memory, and
// memory access to read/write its contents.
type Target interface {
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, value uint64) error
	wire.MemoryReader
	WriteMemory(addr uint64, data []byte) error
}

// OP-TEE message RPC command identifiers (OPTEE_MSG_RPC_CMD_*).
const (
	cmdLoadTA   = 0
	cmdFS       = 2
	cmdShmAlloc = 6
	cmdShmFree  = 7
)

// teecOrigComms is written to arg.ret_origin on every reply.
const teecOrigComms = 0x2

// opteeMsgAttrTypeTmemOutput marks a shared-memory-allocation reply's
// parameter as an output temp-memory reference.
const opteeMsgAttrTypeTmemOutput = 0xa

// Supplicant services OPTEE_SMC_RPC_FUNC_CMD requests.
type Supplicant struct {
	target        Target
	shm           *shm.Manager
	storage       *SecureStorage
	trustedAppDir string
	log           *zap.SugaredLogger
}

// New constructs a Supplicant. trustedAppDir holds ".ta" binaries;
// secureStorageDir is where the secure storage filesystem is emulated.
func New(t Target, mgr *shm.Manager, trustedAppDir, secureStorageDir string, log *zap.SugaredLogger) (*Supplicant, error) {
	storage, err := NewSecureStorage(t, secureStorageDir, log)
	if err != nil {
		return nil, err
	}
	return &Supplicant{
		target:        t,
		shm:           mgr,
		storage:       storage,
		trustedAppDir: trustedAppDir,
		log:           log,
	}, nil
}

// HandleRPCCmd reads the shared-memory address passed in x2/x3, parses the
// optee_msg_arg found there, dispatches it by cmd, and writes the result
// back to the same address.
func (s *Supplicant) HandleRPCCmd() error {
	hi, err := s.target.ReadRegister("x2")
	if err != nil {
		return err
	}
	lo, err := s.target.ReadRegister("x3")
	if err != nil {
		return err
	}
	shmAddr := (hi << 32) + lo
	if s.log != nil {
		s.log.Debugw("tzos sent cmd", "shm_address", fmt.Sprintf("%#x", shmAddr))
	}

	arg, err := wire.ParseOpteeMsgArg(s.target, shmAddr)
	if err != nil {
		return fmt.Errorf("supplicant: parsing optee_msg_arg at %#x: %w", shmAddr, err)
	}
	if s.log != nil {
		s.log.Debugw("received command", "cmd", arg.Cmd, "num_params", len(arg.Params))
	}

	switch arg.Cmd {
	case cmdShmAlloc:
		s.handleShmAlloc(&arg)
	case cmdShmFree:
		if err := s.handleShmFree(&arg); err != nil {
			return err
		}
	case cmdLoadTA:
		if err := s.handleLoadTA(&arg); err != nil {
			return err
		}
	case cmdFS:
		if s.log != nil {
			s.log.Debugw("received filesystem command", "sub_op", arg.Params[0].Value.A)
		}
		if err := s.storage.HandleRPC(&arg); err != nil {
			return err
		}
	default:
		return &events.UnknownCommandError{CommandID: uint64(arg.Cmd)}
	}

	arg.RetOrigin = teecOrigComms

	if err := s.target.WriteMemory(shmAddr, wire.ToBytes(arg)); err != nil {
		return fmt.Errorf("supplicant: writing cmd reply to shared memory: %w", err)
	}

	for reg, value := range map[string]uint64{
		"x1": 0x0,
		"x2": shmAddr,
		"x3": 0x0,
		"x4": 0x0,
		"x5": 0x0,
		"x6": 0x0,
	} {
		if err := s.target.WriteRegister(reg, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supplicant) handleShmAlloc(arg *wire.OpteeMsgArg) {
	requested := arg.Params[0].Value.B
	addr := s.shm.AllocateBytes(requested)

	arg.Params[0].Attr = opteeMsgAttrTypeTmemOutput
	arg.Params[0].Value.A = addr
	arg.Params[0].Value.B = requested
	arg.Params[0].Value.C = addr
	arg.Ret = 0
}

func (s *Supplicant) handleShmFree(arg *wire.OpteeMsgArg) error {
	if err := s.shm.Free(arg.Params[0].Value.B); err != nil {
		return fmt.Errorf("supplicant: freeing supplicant-owned shm: %w", err)
	}
	arg.Ret = 0
	return nil
}

func (s *Supplicant) handleLoadTA(arg *wire.OpteeMsgArg) error {
	id := uuidcodec.TrustedApp(arg.Params[0].Value.A, arg.Params[0].Value.B)
	filename := uuidcodec.TrustedAppFilename(id)
	if s.log != nil {
		s.log.Debugw("received load ta command", "uuid", id.String())
	}

	content, err := os.ReadFile(filepath.Join(s.trustedAppDir, filename))
	if err != nil {
		return fmt.Errorf("supplicant: loading trusted app %s: %w", filename, err)
	}

	if arg.Params[1].Value.B != 0 {
		if err := s.target.WriteMemory(arg.Params[1].Value.C, content); err != nil {
			return fmt.Errorf("supplicant: writing ta binary into shared memory: %w", err)
		}
	}
	arg.Params[1].Value.B = uint64(len(content))
	arg.Ret = 0
	return nil
}
