// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"math"

	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/gojit/gostack"
	"github.com/offchainlabs/gojit/util/arbmath"
)

// ReadInboxMessage copies a 32-byte chunk of a sequencer message into
// guest memory.
func (env *WasmEnv) ReadInboxMessage(sp uint32, mem gostack.Memory) error {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	if err := env.readyHostIo(); err != nil {
		return err
	}
	return env.inboxMessage(sp, mem, env.sequencerMessages, "wavmio.readInboxMessage")
}

// ReadDelayedInboxMessage copies a 32-byte chunk of a delayed message
// into guest memory.
func (env *WasmEnv) ReadDelayedInboxMessage(sp uint32, mem gostack.Memory) error {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	if err := env.readyHostIo(); err != nil {
		return err
	}
	return env.inboxMessage(sp, mem, env.delayedMessages, "wavmio.readDelayedInboxMessage")
}

// note: the order of the checks matters and pins down which failure a
// malformed call reports
func (env *WasmEnv) inboxMessage(sp uint32, mem gostack.Memory, inbox map[uint64][]byte, name string) error {
	frame, err := gostack.NewStack(sp, 6, mem)
	if err != nil {
		return err
	}
	msgNum := frame.ReadU64(0)
	offset := frame.ReadU64(1)
	outPtr := frame.ReadU64(2)
	outLen := frame.ReadU64(3)
	if outLen != 32 {
		log.Warn("Go trying to read inbox message into wrong size buffer", "name", name, "len", outLen)
		frame.WriteU64(5, 0)
		return nil
	}
	message, ok := inbox[msgNum]
	if !ok {
		if msgNum < env.firstTooFar {
			return escapef(ErrMissingMessage, "missing inbox message %v of %v in %v", msgNum, env.firstTooFar, name)
		}
		return escapef(ErrMessageTooFar, "message %v of %v too far in %v", msgNum, env.firstTooFar, name)
	}
	if arbmath.SaturatingUAdd(outPtr, 32) > frame.MemorySize() {
		return escapef(ErrUnknownMessageType, "unknown message type in %v", name)
	}
	if offset > math.MaxUint32 {
		return escapef(ErrBadOffset, "bad offset %v in %v", offset, name)
	}
	length := arbmath.MinInt(uint64(32), arbmath.SaturatingUSub(uint64(len(message)), offset))
	var chunk []byte
	if length > 0 {
		chunk = message[offset : offset+length]
	}
	if err := frame.WriteSlice(outPtr, chunk); err != nil {
		return err
	}
	frame.WriteU64(5, length)
	return nil
}
