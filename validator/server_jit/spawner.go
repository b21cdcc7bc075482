package server_jit

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/metrics"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/gojit/validator"
	"github.com/offchainlabs/gojit/validator/server_common"
)

var jitValidationsCounter = metrics.NewRegisteredCounter("jit/validations", nil)

type JitSpawnerConfig struct {
	Workers              int    `koanf:"workers"`
	Cranelift            bool   `koanf:"cranelift"`
	WasmMemoryUsageLimit uint64 `koanf:"wasm-memory-usage-limit"`
}

type JitSpawnerConfigFecher func() *JitSpawnerConfig

var DefaultJitSpawnerConfig = JitSpawnerConfig{
	Workers:              0,
	Cranelift:            true,
	WasmMemoryUsageLimit: DefaultJitMachineConfig.WasmMemoryUsageLimit,
}

func JitSpawnerConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Int(prefix+".workers", DefaultJitSpawnerConfig.Workers, "number of concurrent validation threads (0 to use the number of cpus)")
	f.Bool(prefix+".cranelift", DefaultJitSpawnerConfig.Cranelift, "compile the replay binary instead of interpreting it")
	f.Uint64(prefix+".wasm-memory-usage-limit", DefaultJitSpawnerConfig.WasmMemoryUsageLimit, "if memory used by a session exceeds this limit, a warning is logged")
}

type JitSpawner struct {
	locator       *server_common.MachineLocator
	machineLoader *JitMachineLoader
	config        JitSpawnerConfigFecher
}

func NewJitSpawner(locator *server_common.MachineLocator, config JitSpawnerConfigFecher, fatalErrChan chan error) (*JitSpawner, error) {
	machineConfig := DefaultJitMachineConfig
	machineConfig.JitCranelift = config().Cranelift
	machineConfig.WasmMemoryUsageLimit = config().WasmMemoryUsageLimit
	loader, err := NewJitMachineLoader(&machineConfig, locator, fatalErrChan)
	if err != nil {
		return nil, err
	}
	return &JitSpawner{
		locator:       locator,
		machineLoader: loader,
		config:        config,
	}, nil
}

func (v *JitSpawner) Execute(
	ctx context.Context, entry *validator.ValidationInput, moduleRoot common.Hash,
) (validator.GoGlobalState, error) {
	machine, err := v.machineLoader.GetMachine(ctx, moduleRoot)
	if err != nil {
		return validator.GoGlobalState{}, fmt.Errorf("unable to get the jit machine: %w", err)
	}
	state, err := machine.prove(ctx, entry)
	if err == nil {
		jitValidationsCounter.Inc(1)
	}
	return state, err
}

func (v *JitSpawner) LatestWasmModuleRoot() (common.Hash, error) {
	return v.locator.LatestWasmModuleRoot(), nil
}

func (v *JitSpawner) Name() string {
	if v.config().Cranelift {
		return "jit-cranelift"
	}
	return "jit"
}

func (v *JitSpawner) Room() int {
	avail := v.config().Workers
	if avail == 0 {
		avail = runtime.NumCPU()
	}
	return avail
}

func (v *JitSpawner) Stop() {
	v.machineLoader.Stop()
}
