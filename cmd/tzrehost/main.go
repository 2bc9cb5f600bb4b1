// Command tzrehost boots an ARM TrustZone TZOS image inside an in-process
// emulator, drives it through the same SMC/RPC/shared-memory plumbing a
// real secure monitor and TEE driver provide, and runs scripted commands
// against it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zboralski/tzrehost/internal/bridge"
	"github.com/zboralski/tzrehost/internal/config"
	glog "github.com/zboralski/tzrehost/internal/log"
	"github.com/zboralski/tzrehost/internal/rehost"
	"github.com/zboralski/tzrehost/internal/runner"
	"github.com/zboralski/tzrehost/internal/script"
	"github.com/zboralski/tzrehost/internal/shm"
	"github.com/zboralski/tzrehost/internal/smc"
	"github.com/zboralski/tzrehost/internal/strategy"
	"github.com/zboralski/tzrehost/internal/supplicant"
	"github.com/zboralski/tzrehost/internal/target"
	"github.com/zboralski/tzrehost/internal/teedriver"
	"github.com/zboralski/tzrehost/internal/trace"
	"github.com/zboralski/tzrehost/internal/tzos"
	"github.com/zboralski/tzrehost/internal/ui/colorize"
	"github.com/zboralski/tzrehost/internal/ui/live"
)

var (
	verbose   bool
	uiMode    string
	forward   string
	scriptArg string
)

func main() {
	root := &cobra.Command{
		Use:   "tzrehost",
		Short: "Rehost and interact with an ARM TrustZone TZOS image",
		Long: `tzrehost boots a TZOS binary (OP-TEE or TrustedCore) inside an in-process
ARM64 emulator, answers the SMCs it issues the way a real secure monitor and
TEE driver would, and drives it through opening sessions, invoking trusted
application commands, and handling the shared-memory RPCs that fall out of
that (TA loading, secure storage, memory allocation).

Examples:
  tzrehost info tzos.elf
  tzrehost boot config.yaml tzos.elf
  tzrehost run config.yaml tzos.elf --script=cmds.js`,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	root.PersistentFlags().StringVar(&uiMode, "ui", "plain", "trace output: plain or live")

	infoCmd := &cobra.Command{
		Use:   "info <tzos-binary>",
		Short: "Show TZOS binary information",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}

	bootCmd := &cobra.Command{
		Use:   "boot <config.yaml> <tzos-binary>",
		Short: "Boot a TZOS image and exit once it reaches its idle SMC loop",
		Args:  cobra.ExactArgs(2),
		RunE:  runBoot,
	}
	bootCmd.Flags().StringVar(&forward, "forward", "", "host:port of an SMC forwarding agent; boot returns an error when this is set, since the CLI does not attach internal/forwarder")

	runCmd := &cobra.Command{
		Use:   "run <config.yaml> <tzos-binary>",
		Short: "Boot a TZOS image and run a JavaScript driver script against it",
		Args:  cobra.ExactArgs(2),
		RunE:  runScript,
	}
	runCmd.Flags().StringVar(&scriptArg, "script", "", "path to a JavaScript driver script (required)")

	root.AddCommand(infoCmd, bootCmd, runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tzrehost:", err)
		os.Exit(1)
	}
}

func runInfo(cmd *cobra.Command, args []string) error {
	binaryPath := args[0]

	t, err := target.NewEmulatedTarget(target.DefaultEmulatedTargetConfig())
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	defer t.Close()

	info, err := t.LoadELF(binaryPath)
	if err != nil {
		return fmt.Errorf("load ELF: %w", err)
	}

	fmt.Printf("Binary:  %s\n", binaryPath)
	fmt.Printf("Machine: %s\n", info.Machine)
	fmt.Printf("Entry:   %#x\n", info.Entry)
	fmt.Printf("Base:    %#x\n", info.BaseAddr)
	fmt.Printf("End:     %#x\n", info.EndAddr)
	fmt.Printf("Symbols: %d\n", len(info.Symbols))
	for _, seg := range info.Segments {
		fmt.Printf("  segment %#x +%#x (flags %s)\n", seg.VAddr, seg.MemSz, seg.Flags)
	}
	for _, vt := range trace.VTableClasses(info.Symbols) {
		fmt.Printf("  vtable %#x %s\n", vt.Address, vt.Name)
	}
	return nil
}

// rig is everything a boot/run invocation wires together: an emulated
// target loaded with the TZOS image, the shared rehosting context every
// component reads from, and the high-level Runner a script or the boot
// command drives.
type rig struct {
	target  *target.EmulatedTarget
	ctx     *rehost.Context
	runner  *tzos.Runner
	cfg     *config.Config
	log     *zap.SugaredLogger
	symbols map[string]uint64 // the loaded TZOS image's ELF symbol table
	events  chan *trace.Event // non-nil only under --ui=live
}

func setup(cfgPath, binaryPath string) (*rig, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	glog.Init(verbose)
	log := glog.L.Sugar()

	var events chan *trace.Event
	if uiMode == "live" {
		events = make(chan *trace.Event, 256)
	}

	targetCfg := target.EmulatedTargetConfig{
		CodeBase:  cfg.CodeBase,
		CodeSize:  target.DefaultCodeSize,
		StackBase: cfg.StackBase,
		StackSize: cfg.StackSize,
		ExtraRegions: []target.MemoryRegion{
			{Base: cfg.SharedMemoryBase, Size: cfg.SharedMemorySize, Name: "shared_mem"},
			{Base: cfg.NsecSharedMemoryBase, Size: cfg.NsecSharedMemorySize, Name: "nsec_shared_mem"},
			{Base: cfg.SMCEntryAddress, Size: shm.DefaultPageSize, Name: "smc_entry"},
			{Base: cfg.JITCodeRegion, Size: shm.DefaultPageSize, Name: "jit_code"},
		},
	}

	t, err := target.NewEmulatedTarget(targetCfg)
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}

	info, err := t.LoadELF(binaryPath)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("load ELF: %w", err)
	}
	if err := t.WriteRegister("pc", info.Entry); err != nil {
		t.Close()
		return nil, fmt.Errorf("set entry pc: %w", err)
	}

	var tb bridge.TargetBridge
	if cfg.TZOS == config.TrustedCore {
		tb = bridge.NewAArch64Compat32TargetBridge(t)
	} else {
		tb = bridge.NewDefaultTargetBridge(t)
	}

	ids := cfg.TZOS.SMCIdentifiers()
	ctx := &rehost.Context{
		Target:                          t,
		TargetBridge:                    tb,
		CodeExec:                        rehost.NewCodeExecHelper(t, cfg.JITCodeRegion),
		SMCEntrypointAddress:            cfg.SMCEntryAddress,
		SharedMemoryAddress:             cfg.SharedMemoryBase,
		SharedMemorySize:                cfg.SharedMemorySize,
		NsecSharedMemoryAddress:         cfg.NsecSharedMemoryBase,
		NsecSharedMemorySize:            cfg.NsecSharedMemorySize,
		SMCSpsrRegisterValue:            cfg.SMCSpsrValue,
		SMCReturnFromTzosBootIdentifier: ids.ReturnFromBoot,
		SMCNormalWorldCallIdentifier:    ids.NormalWorldCall,
		TrustedAppsDir:                  cfg.TrustedAppsDir,
		SecureStorageDir:                cfg.SecureStorageDir,
	}

	shmMgr := shm.New(ctx.NsecSharedMemoryAddress, shm.DefaultPageSize, log)

	var teeDriver smc.TeeDriver
	var strat strategy.CallIntoTzosStrategy
	switch cfg.TZOS {
	case config.TrustedCore:
		teeDriver = teedriver.NewTrustedCoreDriver()
		strat = strategy.NewTrustedCore(ctx, log)
	default:
		supp, err := supplicant.New(tb, shmMgr, cfg.TrustedAppsDir, cfg.SecureStorageDir, log)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("create supplicant: %w", err)
		}
		teeDriver = teedriver.NewOpteeDriver(tb, shmMgr, supp, log)
		strat = strategy.NewOptee(ctx)
	}

	smcEmu := smc.New(ctx, teeDriver, log)
	r := runner.New(t)
	if err := r.SetHandler(cfg.SMCEntryAddress, smcEmu.Handle); err != nil {
		t.Close()
		return nil, fmt.Errorf("install smc handler: %w", err)
	}
	if err := config.NewBootPatcher(t, cfg.BootPatches, log).Install(r); err != nil {
		t.Close()
		return nil, fmt.Errorf("install boot patches: %w", err)
	}

	return &rig{
		target:  t,
		ctx:     ctx,
		runner:  tzos.New(r, strat),
		cfg:     cfg,
		log:     log,
		symbols: info.Symbols,
		events:  events,
	}, nil
}

func runBoot(cmd *cobra.Command, args []string) error {
	if forward != "" {
		return fmt.Errorf("forward mode is not yet wired into the boot command: connect to %s manually via internal/forwarder", forward)
	}

	rg, err := setup(args[0], args[1])
	if err != nil {
		return err
	}
	defer rg.target.Close()
	stopUI := startLiveUI(rg)
	defer stopUI()

	emit(rg, "boot", "boot_started", fmt.Sprintf("tzos=%s", rg.cfg.TZOS))
	if _, err := rg.runner.Cont(); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	emit(rg, "boot", "boot_completed", "")
	printStatus("tzos booted")
	return nil
}

func runScript(cmd *cobra.Command, args []string) error {
	if scriptArg == "" {
		return fmt.Errorf("--script is required")
	}
	source, err := os.ReadFile(scriptArg)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	rg, err := setup(args[0], args[1])
	if err != nil {
		return err
	}
	defer rg.target.Close()
	stopUI := startLiveUI(rg)
	defer stopUI()

	emit(rg, "script", "script_started", scriptArg)
	engine := script.New(rg.runner, rg.cfg.TZOS, rg.log)
	if _, err := engine.Run(string(source)); err != nil {
		return fmt.Errorf("run script: %w", err)
	}
	emit(rg, "script", "script_finished", scriptArg)
	return nil
}

// emit surfaces a CLI-level milestone (boot started/completed, script
// started/finished) either to the live dashboard's event channel or as a
// colorized line on stdout, depending on --ui. Fine-grained SMC/RPC
// tracing stays in the structured zap log that internal/smc,
// internal/teedriver, and internal/strategy already write through their own
// *zap.SugaredLogger, independent of this CLI's choice of UI.
//
// Where the target's current pc falls inside a symbol from the loaded
// image, the milestone is annotated with that (demangled) symbol name and
// offset, the way an objdump-style trace would.
func emit(rg *rig, category, name, detail string) {
	pc, _ := rg.target.ReadRegister("pc")
	if sym, offset, ok := trace.ResolveSymbol(pc, rg.symbols); ok {
		detail = fmt.Sprintf("%s symbol=%s+%#x", detail, sym, offset)
	}

	if rg.events != nil {
		rg.events <- trace.NewEvent(pc, category, name, detail)
		return
	}
	fmt.Printf("%s %s\n", colorize.Tag(category), colorize.Detail(name+" "+detail))
}

// startLiveUI starts the --ui=live dashboard in the background when rg was
// set up for it, returning a function that tears it down. For --ui=plain it
// is a no-op; emit prints colorized lines directly in that mode instead.
// Tearing down waits for the user to quit the dashboard (q/ctrl+c), since
// closing the event channel alone doesn't end the bubbletea program.
func startLiveUI(rg *rig) func() {
	if rg.events == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		live.Run(rg.events)
	}()
	return func() {
		close(rg.events)
		<-done
	}
}

func printStatus(msg string) {
	if colorize.IsDisabled() || uiMode == "live" {
		fmt.Println(msg)
		return
	}
	fmt.Println(colorize.Header(msg))
}
