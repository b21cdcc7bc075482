// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package machine

import (
	"fmt"

	"github.com/offchainlabs/gojit/gostack"
)

// The go runtime imports below must behave deterministically: replaying
// the same session twice has to produce identical results, so time is a
// counter and randomness a seeded stream.

func (js *jsEnv) wasmWrite(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	fd := frame.ReadU64(0)
	ptr := frame.ReadU64(1)
	count := frame.ReadU32(2)
	data, err := frame.ReadSlice(ptr, uint64(count))
	if err != nil {
		return err
	}
	switch fd {
	case 1:
		_, err = js.stdout.Write(data)
	case 2:
		_, err = js.stderr.Write(data)
	default:
		return fmt.Errorf("runtime write to unsupported fd %v", fd)
	}
	return err
}

func (js *jsEnv) nanotime1(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 1, mem)
	if err != nil {
		return err
	}
	frame.WriteU64(0, uint64(js.nanotime()))
	return nil
}

func (js *jsEnv) walltime(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 2, mem)
	if err != nil {
		return err
	}
	now := js.nanotime()
	frame.WriteU64(0, uint64(now/1_000_000_000))
	frame.WriteU32(1, uint32(now%1_000_000_000))
	return nil
}

func (js *jsEnv) scheduleTimeoutEvent(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 2, mem)
	if err != nil {
		return err
	}
	id := js.scheduleTimeout(int64(frame.ReadU64(0)))
	frame.WriteU32(1, id)
	return nil
}

func (js *jsEnv) clearTimeoutEvent(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 1, mem)
	if err != nil {
		return err
	}
	js.clearTimeout(frame.ReadU32(0))
	return nil
}

func (js *jsEnv) getRandomData(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	ptr := frame.ReadU64(0)
	count := frame.ReadU64(1)
	data := make([]byte, count)
	js.rng.Read(data)
	return frame.WriteSlice(ptr, data)
}
