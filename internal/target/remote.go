package target

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
)

// remoteGPRegisterOrder is the order GDB's "g" (read all registers) and "G"
// (write all registers) packets use for an AArch64 target: x0-x30, sp, pc,
// then cpsr, matching the register layout GDB's aarch64-core.xml target
// description advertises.
var remoteGPRegisterOrder = []string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8", "x9", "x10",
	"x11", "x12", "x13", "x14", "x15", "x16", "x17", "x18", "x19", "x20",
	"x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28", "x29", "x30",
	"sp", "pc", "cpsr",
}

// RemoteTarget drives a physical device over the GDB remote serial
// protocol: a single TCP connection carrying "$<packet>#<checksum>" frames,
// the same wire format avatar2's OpenOCDTarget/JLinkTarget speak to a debug
// probe. It implements internal/target.Target so the cross-device forwarder
// can treat a real device and an EmulatedTarget identically.
type RemoteTarget struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader

	terminated bool
	running    bool
}

// DialRemoteTarget connects to a GDB remote-serial-protocol server (e.g. a
// gdbserver stub running on or alongside the physical device) at addr.
func DialRemoteTarget(addr string) (*RemoteTarget, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("target: dial remote %s: %w", addr, err)
	}
	t := &RemoteTarget{conn: conn, r: bufio.NewReader(conn)}
	if _, err := t.transact("qSupported"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("target: handshake with %s: %w", addr, err)
	}
	return t, nil
}

func checksum(packet string) byte {
	var sum byte
	for i := 0; i < len(packet); i++ {
		sum += packet[i]
	}
	return sum
}

func (t *RemoteTarget) send(packet string) error {
	frame := fmt.Sprintf("$%s#%02x", packet, checksum(packet))
	_, err := t.conn.Write([]byte(frame))
	return err
}

// transact sends packet and returns the first non-ack reply's payload.
func (t *RemoteTarget) transact(packet string) (string, error) {
	if err := t.send(packet); err != nil {
		return "", err
	}
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("target: reading reply to %q: %w", packet, err)
		}
		switch b {
		case '+', '-':
			continue // ack/nack of our outgoing packet
		case '$':
			payload, err := t.r.ReadString('#')
			if err != nil {
				return "", err
			}
			payload = strings.TrimSuffix(payload, "#")
			// consume the two checksum hex digits
			if _, err := t.readN(2); err != nil {
				return "", err
			}
			return payload, nil
		default:
			return "", fmt.Errorf("target: unexpected reply byte %q", b)
		}
	}
}

func (t *RemoteTarget) readN(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := t.r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (t *RemoteTarget) State() State {
	switch {
	case t.terminated:
		return StateTerminated
	case t.running:
		return StateRunning
	default:
		return StateStopped
	}
}

func (t *RemoteTarget) SetBreakpoint(addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	reply, err := t.transact(fmt.Sprintf("Z0,%x,4", addr))
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("target: set breakpoint at %#x: remote replied %q", addr, reply)
	}
	return nil
}

func (t *RemoteTarget) RemoveBreakpoint(addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	reply, err := t.transact(fmt.Sprintf("z0,%x,4", addr))
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("target: remove breakpoint at %#x: remote replied %q", addr, reply)
	}
	return nil
}

// Continue sends a GDB "c" (continue) packet and blocks for the stop-reply
// packet the remote sends once the device halts at a breakpoint.
func (t *RemoteTarget) Continue() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminated {
		return 0, ErrTerminated
	}
	t.running = true
	reply, err := t.transact("c")
	t.running = false
	if err != nil {
		return 0, err
	}
	if strings.HasPrefix(reply, "W") {
		t.terminated = true
		return 0, ErrTerminated
	}
	pc, err := t.readRegister("pc")
	if err != nil {
		return 0, fmt.Errorf("target: read PC after stop: %w", err)
	}
	return pc, nil
}

// Step sends a GDB "s" (single-step) packet and blocks for the stop-reply.
func (t *RemoteTarget) Step() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminated {
		return 0, ErrTerminated
	}
	t.running = true
	reply, err := t.transact("s")
	t.running = false
	if err != nil {
		return 0, err
	}
	if strings.HasPrefix(reply, "W") {
		t.terminated = true
		return 0, ErrTerminated
	}
	pc, err := t.readRegister("pc")
	if err != nil {
		return 0, fmt.Errorf("target: read PC after step: %w", err)
	}
	return pc, nil
}

func (t *RemoteTarget) ReadRegister(name string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readRegister(name)
}

func (t *RemoteTarget) readRegister(name string) (uint64, error) {
	idx := -1
	for i, n := range remoteGPRegisterOrder {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("target: unknown remote register %q", name)
	}
	reply, err := t.transact("g")
	if err != nil {
		return 0, err
	}
	raw, err := hex.DecodeString(reply)
	if err != nil {
		return 0, fmt.Errorf("target: decoding register dump: %w", err)
	}
	off := idx * 8
	if off+8 > len(raw) {
		return 0, fmt.Errorf("target: register dump too short for %q", name)
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(raw[off+i]) << (8 * i)
	}
	return v, nil
}

func (t *RemoteTarget) WriteRegister(name string, value uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := -1
	for i, n := range remoteGPRegisterOrder {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("target: unknown remote register %q", name)
	}
	reply, err := t.transact("g")
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(reply)
	if err != nil {
		return fmt.Errorf("target: decoding register dump: %w", err)
	}
	off := idx * 8
	for i := 0; i < 8; i++ {
		raw[off+i] = byte(value >> (8 * i))
	}
	reply, err = t.transact("G" + hex.EncodeToString(raw))
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("target: write registers: remote replied %q", reply)
	}
	return nil
}

func (t *RemoteTarget) ReadMemory(addr uint64, size int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reply, err := t.transact(fmt.Sprintf("m%x,%x", addr, size))
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(reply)
	if err != nil {
		return nil, fmt.Errorf("target: decoding memory read at %#x: %w", addr, err)
	}
	return data, nil
}

func (t *RemoteTarget) WriteMemory(addr uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	reply, err := t.transact(fmt.Sprintf("M%x,%x:%s", addr, len(data), hex.EncodeToString(data)))
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("target: write memory at %#x: remote replied %q", addr, reply)
	}
	return nil
}

func (t *RemoteTarget) Close() error {
	t.terminated = true
	return t.conn.Close()
}
