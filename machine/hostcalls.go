// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package machine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/offchainlabs/gojit/arbcompress"
	"github.com/offchainlabs/gojit/gostack"
)

// Import names are fully qualified go symbols, the way the js/wasm
// compiler emits calls to body-less functions.
const (
	wavmioPrefix   = "github.com/offchainlabs/gojit/wavmio."
	compressPrefix = "github.com/offchainlabs/gojit/arbcompress."
)

func (m *Machine) buildHostModule(ctx context.Context) error {
	builder := m.runtime.NewHostModuleBuilder("go")

	// runtime.wasmExit closes the module, so it cannot go through the
	// regular adapter
	m.hostExports["runtime.wasmExit"] = true
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			mem := moduleMemory{mod.Memory()}
			m.noteMemory(mem.Size())
			code := uint32(0)
			if frame, err := gostack.NewStack(uint32(stack[0]), 1, mem); err == nil {
				code = frame.ReadU32(0)
			}
			_ = mod.CloseWithExitCode(ctx, code)
		}), []api.ValueType{api.ValueTypeI32}, nil).
		Export("runtime.wasmExit")

	noop := func(sp uint32, mem gostack.Memory) error { return nil }

	m.export(builder, "runtime.wasmWrite", func(sp uint32, mem gostack.Memory) error {
		return m.js.wasmWrite(sp, mem)
	})
	m.export(builder, "runtime.resetMemoryDataView", noop)
	m.export(builder, "runtime.nanotime1", func(sp uint32, mem gostack.Memory) error {
		return m.js.nanotime1(sp, mem)
	})
	m.export(builder, "runtime.walltime", func(sp uint32, mem gostack.Memory) error {
		return m.js.walltime(sp, mem)
	})
	m.export(builder, "runtime.scheduleTimeoutEvent", func(sp uint32, mem gostack.Memory) error {
		return m.js.scheduleTimeoutEvent(sp, mem)
	})
	m.export(builder, "runtime.clearTimeoutEvent", func(sp uint32, mem gostack.Memory) error {
		return m.js.clearTimeoutEvent(sp, mem)
	})
	m.export(builder, "runtime.getRandomData", func(sp uint32, mem gostack.Memory) error {
		return m.js.getRandomData(sp, mem)
	})
	m.export(builder, "debug", noop)

	m.export(builder, "syscall/js.finalizeRef", func(sp uint32, mem gostack.Memory) error {
		return m.js.finalizeRef(sp, mem)
	})
	m.export(builder, "syscall/js.stringVal", func(sp uint32, mem gostack.Memory) error {
		return m.js.stringVal(sp, mem)
	})
	m.export(builder, "syscall/js.valueGet", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueGet(sp, mem)
	})
	m.export(builder, "syscall/js.valueSet", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueSet(sp, mem)
	})
	m.export(builder, "syscall/js.valueDelete", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueDelete(sp, mem)
	})
	m.export(builder, "syscall/js.valueIndex", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueIndex(sp, mem)
	})
	m.export(builder, "syscall/js.valueSetIndex", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueSetIndex(sp, mem)
	})
	m.export(builder, "syscall/js.valueCall", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueCall(sp, mem)
	})
	m.export(builder, "syscall/js.valueInvoke", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueInvoke(sp, mem)
	})
	m.export(builder, "syscall/js.valueNew", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueNew(sp, mem)
	})
	m.export(builder, "syscall/js.valueLength", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueLength(sp, mem)
	})
	m.export(builder, "syscall/js.valuePrepareString", func(sp uint32, mem gostack.Memory) error {
		return m.js.valuePrepareString(sp, mem)
	})
	m.export(builder, "syscall/js.valueLoadString", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueLoadString(sp, mem)
	})
	m.export(builder, "syscall/js.valueInstanceOf", func(sp uint32, mem gostack.Memory) error {
		return m.js.valueInstanceOf(sp, mem)
	})
	m.export(builder, "syscall/js.copyBytesToGo", func(sp uint32, mem gostack.Memory) error {
		return m.js.copyBytesToGo(sp, mem)
	})
	m.export(builder, "syscall/js.copyBytesToJS", func(sp uint32, mem gostack.Memory) error {
		return m.js.copyBytesToJS(sp, mem)
	})

	m.export(builder, wavmioPrefix+"getGlobalStateBytes32", func(sp uint32, mem gostack.Memory) error {
		return m.env.GetGlobalStateBytes32(sp, mem)
	})
	m.export(builder, wavmioPrefix+"setGlobalStateBytes32", func(sp uint32, mem gostack.Memory) error {
		return m.env.SetGlobalStateBytes32(sp, mem)
	})
	m.export(builder, wavmioPrefix+"getGlobalStateU64", func(sp uint32, mem gostack.Memory) error {
		return m.env.GetGlobalStateU64(sp, mem)
	})
	m.export(builder, wavmioPrefix+"setGlobalStateU64", func(sp uint32, mem gostack.Memory) error {
		return m.env.SetGlobalStateU64(sp, mem)
	})
	m.export(builder, wavmioPrefix+"readInboxMessage", func(sp uint32, mem gostack.Memory) error {
		return m.env.ReadInboxMessage(sp, mem)
	})
	m.export(builder, wavmioPrefix+"readDelayedInboxMessage", func(sp uint32, mem gostack.Memory) error {
		return m.env.ReadDelayedInboxMessage(sp, mem)
	})
	m.export(builder, wavmioPrefix+"resolvePreImage", func(sp uint32, mem gostack.Memory) error {
		return m.env.ResolvePreImage(sp, mem)
	})

	m.export(builder, compressPrefix+"brotliCompress", m.brotliCompress)
	m.export(builder, compressPrefix+"brotliDecompress", m.brotliDecompress)

	m.stubMissingImports(builder)

	_, err := builder.Instantiate(ctx)
	return err
}

// stubMissingImports registers a failing binding for every go import
// the replay binary names that has no implementation here. A replay
// step whose outcome depends on one of these cannot be deterministic,
// so calling a stub escapes the session instead of faulting at link
// time, where a binary that never reaches the import would be rejected
// too.
func (m *Machine) stubMissingImports(builder wazero.HostModuleBuilder) {
	for _, def := range m.compiled.ImportedFunctions() {
		module, name, ok := def.Import()
		if !ok || module != "go" || m.hostExports[name] {
			continue
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				m.escapeWith(ctx, mod, fmt.Errorf("the replay binary called the unimplemented host import %q", name))
			}), def.ParamTypes(), def.ResultTypes()).
			Export(name)
	}
}

func (m *Machine) brotliCompress(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 9, mem)
	if err != nil {
		return err
	}
	input, err := frame.ReadSlice(frame.ReadU64(0), frame.ReadU64(1))
	if err != nil {
		return err
	}
	outPtr := frame.ReadU64(3)
	outLen := frame.ReadU64(4)
	level := frame.ReadU64(6)
	compressed, err := arbcompress.CompressLevel(input, int(level))
	if err != nil || uint64(len(compressed)) > outLen {
		frame.WriteU64(8, ^uint64(0))
		return nil
	}
	if err := frame.WriteSlice(outPtr, compressed); err != nil {
		return err
	}
	frame.WriteU64(8, uint64(len(compressed)))
	return nil
}

func (m *Machine) brotliDecompress(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 7, mem)
	if err != nil {
		return err
	}
	input, err := frame.ReadSlice(frame.ReadU64(0), frame.ReadU64(1))
	if err != nil {
		return err
	}
	outPtr := frame.ReadU64(3)
	outLen := frame.ReadU64(4)
	decompressed, err := arbcompress.Decompress(input, int(outLen))
	if err != nil {
		frame.WriteU64(6, ^uint64(0))
		return nil
	}
	if err := frame.WriteSlice(outPtr, decompressed); err != nil {
		return err
	}
	frame.WriteU64(6, uint64(len(decompressed)))
	return nil
}
