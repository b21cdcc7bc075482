// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/gojit/gostack"
)

// GetGlobalStateBytes32 copies a 32-byte global into a guest buffer.
// A short buffer gets a prefix and a diagnostic rather than an escape,
// since the replay binary always passes exactly 32 bytes.
func (env *WasmEnv) GetGlobalStateBytes32(sp uint32, mem gostack.Memory) error {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	if err := env.readyHostIo(); err != nil {
		return err
	}
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	global := uint64(uint32(frame.ReadU64(0)))
	outPtr := frame.ReadU64(1)
	outLen := frame.ReadU64(2)
	if outLen < 32 {
		log.Warn("Go trying to read block hash into short buffer", "len", outLen)
	} else {
		outLen = 32
	}
	if global >= uint64(len(env.largeGlobals)) {
		return escapef(ErrGlobalOutOfBounds, "global read out of bounds in wavmio.getGlobalStateBytes32")
	}
	value := env.largeGlobals[global]
	return frame.WriteSlice(outPtr, value[:outLen])
}

// SetGlobalStateBytes32 overwrites a 32-byte global from a guest buffer.
func (env *WasmEnv) SetGlobalStateBytes32(sp uint32, mem gostack.Memory) error {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	if err := env.readyHostIo(); err != nil {
		return err
	}
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	global := uint64(uint32(frame.ReadU64(0)))
	srcPtr := frame.ReadU64(1)
	srcLen := frame.ReadU64(2)
	if srcLen != 32 {
		log.Warn("Go trying to set 32-byte global with wrong size buffer", "len", srcLen)
		return nil
	}
	slice, err := frame.ReadSlice(srcPtr, srcLen)
	if err != nil {
		return err
	}
	if global >= uint64(len(env.largeGlobals)) {
		return escapef(ErrGlobalOutOfBounds, "global write out of bounds in wavmio.setGlobalStateBytes32")
	}
	env.largeGlobals[global] = common.BytesToHash(slice)
	return nil
}

// GetGlobalStateU64 returns a u64 global on the stack.
func (env *WasmEnv) GetGlobalStateU64(sp uint32, mem gostack.Memory) error {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	if err := env.readyHostIo(); err != nil {
		return err
	}
	frame, err := gostack.NewStack(sp, 2, mem)
	if err != nil {
		return err
	}
	global := uint64(uint32(frame.ReadU64(0)))
	if global >= uint64(len(env.smallGlobals)) {
		return escapef(ErrGlobalOutOfBounds, "global read out of bounds in wavmio.getGlobalStateU64")
	}
	frame.WriteU64(1, env.smallGlobals[global])
	return nil
}

// SetGlobalStateU64 overwrites a u64 global from the stack.
func (env *WasmEnv) SetGlobalStateU64(sp uint32, mem gostack.Memory) error {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	if err := env.readyHostIo(); err != nil {
		return err
	}
	frame, err := gostack.NewStack(sp, 2, mem)
	if err != nil {
		return err
	}
	global := uint64(uint32(frame.ReadU64(0)))
	if global >= uint64(len(env.smallGlobals)) {
		return escapef(ErrGlobalOutOfBounds, "global write out of bounds in wavmio.setGlobalStateU64")
	}
	env.smallGlobals[global] = frame.ReadU64(1)
	return nil
}
