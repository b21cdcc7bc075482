// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package machine

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/offchainlabs/gojit/gostack"
	"github.com/offchainlabs/gojit/hostio"
)

type Config struct {
	Binary    string // path to the replay binary, a go js/wasm build
	CachePath string // directory for compiled machine artifacts, empty to disable
	Cranelift bool   // compile the wasm instead of interpreting it (the name is historical)
	Stdout    io.Writer
	Stderr    io.Writer
}

// A Machine runs the replay binary against a host environment. The
// compiled module is reusable, but only one run may be in flight at a
// time since the host bindings share per-run state.
type Machine struct {
	mutex       sync.Mutex
	runtime     wazero.Runtime
	compiled    wazero.CompiledModule
	stdout      io.Writer
	stderr      io.Writer
	hostExports map[string]bool

	// state of the run in flight, only touched with the mutex held
	env        *hostio.WasmEnv
	js         *jsEnv
	escape     error
	memoryUsed uint64
}

type RunResult struct {
	MemoryUsed uint64
}

func New(ctx context.Context, config *Config) (*Machine, error) {
	binary, err := os.ReadFile(config.Binary)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read the replay binary")
	}
	runtimeConfig := wazero.NewRuntimeConfigInterpreter()
	if config.Cranelift {
		runtimeConfig = wazero.NewRuntimeConfig()
	}
	if config.CachePath != "" {
		cache, err := wazero.NewCompilationCacheWithDir(config.CachePath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open the machine cache")
		}
		runtimeConfig = runtimeConfig.WithCompilationCache(cache)
	}
	machine := &Machine{
		runtime:     wazero.NewRuntimeWithConfig(ctx, runtimeConfig),
		stdout:      config.Stdout,
		stderr:      config.Stderr,
		hostExports: make(map[string]bool),
	}
	if machine.stdout == nil {
		machine.stdout = os.Stdout
	}
	if machine.stderr == nil {
		machine.stderr = os.Stderr
	}
	compiled, err := machine.runtime.CompileModule(ctx, binary)
	if err != nil {
		_ = machine.runtime.Close(ctx)
		return nil, errors.Wrap(err, "failed to compile the replay binary")
	}
	machine.compiled = compiled
	if err := machine.buildHostModule(ctx); err != nil {
		_ = machine.runtime.Close(ctx)
		return nil, errors.Wrap(err, "failed to build the host module")
	}
	return machine, nil
}

// Run executes the replay binary to completion against the given
// environment. A go program built for js/wasm parks itself whenever its
// goroutines block, so after the initial call this loop keeps resuming
// the guest until it exits: first delivering any events host calls have
// queued, then firing due timers.
func (m *Machine) Run(ctx context.Context, env *hostio.WasmEnv) (*RunResult, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.env = env
	m.js = newJsEnv(m.stdout, m.stderr)
	m.escape = nil
	m.memoryUsed = 0

	modConfig := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to instantiate the replay binary")
	}
	defer mod.Close(ctx)

	memory := mod.Memory()
	run := mod.ExportedFunction("run")
	resume := mod.ExportedFunction("resume")
	if memory == nil || run == nil || resume == nil {
		return nil, errors.New("the replay binary is not a go js/wasm build")
	}

	argc, argv, err := writeBootArgs(moduleMemory{memory})
	if err != nil {
		return nil, err
	}

	_, err = run.Call(ctx, argc, argv)
	for err == nil {
		if m.js.nextEvent() {
			_, err = resume.Call(ctx)
		} else if m.js.fireTimeout() {
			_, err = resume.Call(ctx)
		} else {
			return nil, errors.New("the replay binary went idle without exiting")
		}
	}
	if m.escape != nil {
		return nil, m.escape
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		if exit.ExitCode() == 0 {
			return &RunResult{MemoryUsed: m.memoryUsed}, nil
		}
		return nil, fmt.Errorf("the replay binary exited with code %d", exit.ExitCode())
	}
	return nil, errors.Wrap(err, "error while running the replay binary")
}

func (m *Machine) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// export registers a host binding under go's import module. Bindings
// report faults by closing the module, which unwinds the in-flight
// guest call back to Run.
func (m *Machine) export(builder wazero.HostModuleBuilder, name string, impl func(sp uint32, mem gostack.Memory) error) {
	m.hostExports[name] = true
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			mem := moduleMemory{mod.Memory()}
			m.noteMemory(mem.Size())
			if err := impl(uint32(stack[0]), mem); err != nil {
				m.escapeWith(ctx, mod, err)
			}
		}), []api.ValueType{api.ValueTypeI32}, nil).
		Export(name)
}

func (m *Machine) escapeWith(ctx context.Context, mod api.Module, err error) {
	if m.escape == nil {
		m.escape = err
	}
	_ = mod.CloseWithExitCode(ctx, 1)
}

func (m *Machine) noteMemory(size uint64) {
	if size > m.memoryUsed {
		m.memoryUsed = size
	}
}

// moduleMemory adapts the engine's 32-bit memory view to the host
// bindings, which index with 64-bit offsets.
type moduleMemory struct {
	mem api.Memory
}

func (m moduleMemory) Size() uint64 {
	return uint64(m.mem.Size())
}

func (m moduleMemory) Read(offset, count uint64) ([]byte, bool) {
	if offset > math.MaxUint32 || count > math.MaxUint32 {
		return nil, false
	}
	return m.mem.Read(uint32(offset), uint32(count))
}

func (m moduleMemory) Write(offset uint64, data []byte) bool {
	if offset > math.MaxUint32 {
		return false
	}
	return m.mem.Write(uint32(offset), data)
}

const bootArgsAddr = 4096

// writeBootArgs lays out the block the guest's runtime reads its
// arguments from: nul-terminated strings starting at a fixed address,
// then a table of (pointer, 0) word pairs listing the argument
// pointers, a null terminator, and the count of environment variables.
func writeBootArgs(mem gostack.Memory) (uint64, uint64, error) {
	args := []string{"js"}
	offset := uint64(bootArgsAddr)
	pointers := make([]uint64, 0, len(args)+2)
	for _, arg := range args {
		data := append([]byte(arg), 0)
		if !mem.Write(offset, data) {
			return 0, 0, errors.New("failed to write boot arguments to guest memory")
		}
		pointers = append(pointers, offset)
		offset += uint64(len(data))
		if offset%8 != 0 {
			offset += 8 - offset%8
		}
	}
	pointers = append(pointers, 0) // argv terminator
	pointers = append(pointers, 0) // no environment variables
	table := offset
	words := make([]byte, 0, 8*len(pointers))
	for _, ptr := range pointers {
		words = binary.LittleEndian.AppendUint32(words, uint32(ptr))
		words = binary.LittleEndian.AppendUint32(words, 0)
	}
	if !mem.Write(table, words) {
		return 0, 0, errors.New("failed to write boot arguments to guest memory")
	}
	return uint64(len(args)), table, nil
}
