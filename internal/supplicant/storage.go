package supplicant

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/zboralski/tzrehost/internal/target"
	"github.com/zboralski/tzrehost/internal/wire"
)

// OP-TEE secure storage RPC sub-operations, identified by params[0].value.a
// in the received optee_msg_arg.
const (
	mrfOpen   = 0
	mrfCreate = 1
	mrfRead   = 3
	mrfWrite  = 4
)

const errStorageCorruptObject = 0xFFFF0008

// SecureStorage emulates OP-TEE's secure storage filesystem, usually mounted
// as /data/tee in the normal world. RPCs arriving through the TEE
// supplicant look just like POSIX file operations; this type executes them
// against a directory on the host and reflects results back into the
// optee_msg_arg the caller will serialize back to shared memory.
type SecureStorage struct {
	target  Target
	baseDir string
	nextFD  uint64
	fdToFile map[uint64]string
	log      *zap.SugaredLogger
}

// NewSecureStorage creates a SecureStorage rooted at baseDir, creating the
// directory if it does not already exist.
func NewSecureStorage(t Target, baseDir string, log *zap.SugaredLogger) (*SecureStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("supplicant: creating secure storage dir %s: %w", baseDir, err)
	}
	return &SecureStorage{
		target:   t,
		baseDir:  baseDir,
		nextFD:   5,
		fdToFile: make(map[uint64]string),
		log:      log,
	}, nil
}

func (s *SecureStorage) resolvePath(fname string) (string, error) {
	if !strings.HasPrefix(fname, "/") {
		return "", fmt.Errorf("supplicant: unsupported filename received from normal world: %q", fname)
	}
	return filepath.Join(s.baseDir, strings.TrimLeft(fname, "/")), nil
}

func (s *SecureStorage) readFilenameParam(arg *wire.OpteeMsgArg) (string, error) {
	p := arg.Params[1].Value
	data, err := s.target.ReadMemory(p.C, int(p.B))
	if err != nil {
		return "", fmt.Errorf("supplicant: reading filename from shared memory: %w", err)
	}
	return strings.TrimRight(string(data), "\x00"), nil
}

func (s *SecureStorage) findFDByName(fname string) (uint64, bool) {
	for fd, name := range s.fdToFile {
		if name == fname {
			return fd, true
		}
	}
	return 0, false
}

func (s *SecureStorage) addEntry(fname string) uint64 {
	fd := s.nextFD
	s.nextFD++
	s.fdToFile[fd] = fname
	return fd
}

func (s *SecureStorage) handleOpen(arg *wire.OpteeMsgArg) error {
	fname, err := s.readFilenameParam(arg)
	if err != nil {
		return err
	}
	resolved, err := s.resolvePath(fname)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(resolved); statErr != nil {
		if s.log != nil {
			s.log.Warnw("tried to open file that does not exist", "file", fname)
		}
		arg.Params[2].Value.A = 0
		arg.Ret = errStorageCorruptObject
		return nil
	}

	fd, ok := s.findFDByName(fname)
	if !ok {
		fd = s.addEntry(fname)
	}
	arg.Params[2].Value.A = fd
	arg.Ret = 0
	return nil
}

func (s *SecureStorage) handleCreate(arg *wire.OpteeMsgArg) error {
	fname, err := s.readFilenameParam(arg)
	if err != nil {
		return err
	}
	resolved, err := s.resolvePath(fname)
	if err != nil {
		return err
	}

	fd, ok := s.findFDByName(fname)
	if !ok {
		fd = s.addEntry(fname)
	}
	arg.Params[2].Value.A = fd

	f, err := os.OpenFile(resolved, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("supplicant: creating secure storage file %s: %w", resolved, err)
	}
	f.Close()

	arg.Ret = 0
	return nil
}

func (s *SecureStorage) handleRead(arg *wire.OpteeMsgArg) error {
	fd := arg.Params[0].Value.B
	fname, ok := s.fdToFile[fd]
	if !ok {
		return fmt.Errorf("supplicant: read from unknown file descriptor %d", fd)
	}
	resolved, err := s.resolvePath(fname)
	if err != nil {
		return err
	}

	f, err := os.Open(resolved)
	if err != nil {
		return fmt.Errorf("supplicant: opening secure storage file for read %s: %w", resolved, err)
	}
	defer f.Close()

	offset := int64(arg.Params[0].Value.C)
	size := int(arg.Params[1].Value.B)
	chunk := make([]byte, size)
	n, err := f.ReadAt(chunk, offset)
	if err != nil && n == 0 {
		return fmt.Errorf("supplicant: reading secure storage file %s at offset %d: %w", resolved, offset, err)
	}

	if err := s.target.WriteMemory(arg.Params[1].Value.A, chunk[:n]); err != nil {
		return fmt.Errorf("supplicant: writing read result into shared memory: %w", err)
	}
	arg.Ret = 0
	return nil
}

func (s *SecureStorage) handleWrite(arg *wire.OpteeMsgArg) error {
	fd := arg.Params[0].Value.B
	fname, ok := s.fdToFile[fd]
	if !ok {
		return fmt.Errorf("supplicant: write to unknown file descriptor %d", fd)
	}
	resolved, err := s.resolvePath(fname)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(resolved, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("supplicant: opening secure storage file for write %s: %w", resolved, err)
	}
	defer f.Close()

	offset := int64(arg.Params[0].Value.C)
	size := int(arg.Params[1].Value.B)
	chunk, err := s.target.ReadMemory(arg.Params[1].Value.A, size)
	if err != nil {
		return fmt.Errorf("supplicant: reading write payload from shared memory: %w", err)
	}
	if _, err := f.WriteAt(chunk, offset); err != nil {
		return fmt.Errorf("supplicant: writing secure storage file %s: %w", resolved, err)
	}
	arg.Ret = 0
	return nil
}

// HandleRPC dispatches a filesystem RPC by its first parameter's sub-op
// code.
func (s *SecureStorage) HandleRPC(arg *wire.OpteeMsgArg) error {
	switch arg.Params[0].Value.A {
	case mrfOpen:
		return s.handleOpen(arg)
	case mrfCreate:
		return s.handleCreate(arg)
	case mrfRead:
		return s.handleRead(arg)
	case mrfWrite:
		return s.handleWrite(arg)
	default:
		return fmt.Errorf("supplicant: unsupported secure storage sub-op %#x", arg.Params[0].Value.A)
	}
}
