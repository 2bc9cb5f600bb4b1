// Package script embeds a goja JavaScript engine that drives a booted TZOS
// runner the way the original scripts/tzos-rehosting/*.py driver scripts
// drive avatar2: boot once, then open a session, invoke commands against it,
// and close it again.
package script

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zboralski/tzrehost/internal/config"
	"github.com/zboralski/tzrehost/internal/tzos"
	"github.com/zboralski/tzrehost/internal/uuidcodec"
	"github.com/zboralski/tzrehost/internal/wire"
)

// Engine wraps a goja runtime with bindings onto a *tzos.Runner. Script
// authors call boot(), openSession(uuid, loginMethod), invokeCommand(session,
// funcID, value), closeSession(session) for OP-TEE images, or the flavor-
// agnostic execute(cmd) for anything the convenience bindings don't cover.
type Engine struct {
	vm     *goja.Runtime
	runner *tzos.Runner
	flavor config.TZOS
	log    *zap.SugaredLogger
}

// New constructs an Engine bound to runner, registering its JS bindings.
// flavor selects which wire struct execute() builds from a plain JS object.
func New(runner *tzos.Runner, flavor config.TZOS, log *zap.SugaredLogger) *Engine {
	e := &Engine{vm: goja.New(), runner: runner, flavor: flavor, log: log}

	e.vm.Set("boot", e.boot)
	e.vm.Set("openSession", e.openSession)
	e.vm.Set("closeSession", e.closeSession)
	e.vm.Set("invokeCommand", e.invokeCommand)
	e.vm.Set("execute", e.execute)
	e.vm.Set("print", e.print)

	return e
}

// Run executes a script's source against the engine's runtime.
func (e *Engine) Run(source string) (goja.Value, error) {
	return e.vm.RunString(source)
}

func (e *Engine) print(args ...interface{}) {
	if e.log == nil {
		return
	}
	e.log.Infof("%s", fmt.Sprint(args...))
}

// boot resumes the target past its initial return-from-boot breakpoint.
func (e *Engine) boot() error {
	_, err := e.runner.Cont()
	return err
}

// openSession opens an OP-TEE TA session for hexUUID, reverse-engineered
// from get_open_session_meta: two OPTEE_MSG_ATTR_META value parameters, the
// first carrying the TA's UUID split into two 64-bit halves, the second
// carrying the client login method.
func (e *Engine) openSession(hexUUID string, loginMethod uint64) (map[string]interface{}, error) {
	id, err := uuid.Parse(hexUUID)
	if err != nil {
		return nil, fmt.Errorf("script: invalid TA uuid %q: %w", hexUUID, err)
	}
	a, b := uuidcodec.Halves(id)

	const optreeMsgAttrMeta = 0x101
	cmd := wire.OpteeMsgArg{
		Cmd: 0, // OPTEE_MSG_CMD_OPEN_SESSION
		Params: []wire.OpteeMsgParam{
			{Attr: optreeMsgAttrMeta, Value: wire.OpteeMsgParamValue{A: a, B: b}},
			{Attr: optreeMsgAttrMeta, Value: wire.OpteeMsgParamValue{C: loginMethod}},
		},
	}

	result, err := e.runner.ExecuteTzosCommand(cmd, false)
	if err != nil {
		return nil, err
	}
	return opteeResultToJS(result)
}

// closeSession closes a previously opened TA session.
func (e *Engine) closeSession(session uint64) (map[string]interface{}, error) {
	cmd := wire.OpteeMsgArg{
		Cmd:     2, // OPTEE_MSG_CMD_CLOSE_SESSION
		Session: uint32(session),
	}

	result, err := e.runner.ExecuteTzosCommand(cmd, false)
	if err != nil {
		return nil, err
	}
	return opteeResultToJS(result)
}

// invokeCommand invokes funcID on an open session with a single inout value
// parameter, matching ta_invoke_increment_command's shape.
func (e *Engine) invokeCommand(session, funcID, value uint64) (map[string]interface{}, error) {
	cmd := wire.OpteeMsgArg{
		Cmd:     1, // OPTEE_MSG_CMD_INVOKE_COMMAND
		Func:    uint32(funcID),
		Session: uint32(session),
		Params: []wire.OpteeMsgParam{
			{Attr: wire.OpteeMsgAttrTypeValueInout, Value: wire.OpteeMsgParamValue{A: value}},
		},
	}

	result, err := e.runner.ExecuteTzosCommand(cmd, false)
	if err != nil {
		return nil, err
	}
	return opteeResultToJS(result)
}

// execute stages a flavor-specific command object built directly from JS and
// returns the parsed result as a plain value map. cmd is duck-typed: an
// object carrying "cmd"/"session"/"func" fields builds an OpteeMsgArg; one
// carrying "cmdId"/"uuidPhys" builds a TCNsSmcCmd.
func (e *Engine) execute(cmd map[string]interface{}) (map[string]interface{}, error) {
	switch e.flavor {
	case config.Optee:
		arg := wire.OpteeMsgArg{
			Cmd:     uint32(toUint64(cmd["cmd"])),
			Func:    uint32(toUint64(cmd["func"])),
			Session: uint32(toUint64(cmd["session"])),
		}
		result, err := e.runner.ExecuteTzosCommand(arg, false)
		if err != nil {
			return nil, err
		}
		return opteeResultToJS(result)

	case config.TrustedCore:
		tc := wire.TCNsSmcCmd{
			UUIDPhys:      uint32(toUint64(cmd["uuidPhys"])),
			CmdID:         uint32(toUint64(cmd["cmdId"])),
			ContextID:     uint32(toUint64(cmd["contextId"])),
			AgentID:       uint32(toUint64(cmd["agentId"])),
			OperationPhys: uint32(toUint64(cmd["operationPhys"])),
			LoginMethod:   uint32(toUint64(cmd["loginMethod"])),
			LoginData:     uint32(toUint64(cmd["loginData"])),
			UID:           uint32(toUint64(cmd["uid"])),
		}
		result, err := e.runner.ExecuteTzosCommand(tc, false)
		if err != nil {
			return nil, err
		}
		return trustedCoreResultToJS(result)

	default:
		return nil, fmt.Errorf("script: unknown tzos flavor %q", e.flavor)
	}
}

func toUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case int64:
		return uint64(n)
	case float64:
		return uint64(n)
	case uint64:
		return n
	default:
		return 0
	}
}

func opteeResultToJS(result interface{}) (map[string]interface{}, error) {
	arg, ok := result.(wire.OpteeMsgArg)
	if !ok {
		return nil, fmt.Errorf("script: unexpected result type %T for an OP-TEE command", result)
	}
	return map[string]interface{}{
		"session":   arg.Session,
		"ret":       arg.Ret,
		"retOrigin": arg.RetOrigin,
	}, nil
}

func trustedCoreResultToJS(result interface{}) (map[string]interface{}, error) {
	cmd, ok := result.(wire.TCNsSmcCmd)
	if !ok {
		return nil, fmt.Errorf("script: unexpected result type %T for a TrustedCore command", result)
	}
	return map[string]interface{}{
		"contextId": cmd.ContextID,
		"retVal":    cmd.RetVal,
		"errOrigin": cmd.ErrOrigin,
	}, nil
}
