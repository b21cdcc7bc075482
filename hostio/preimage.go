// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/gojit/gostack"
	"github.com/offchainlabs/gojit/util/arbmath"
)

// ResolvePreImage copies a 32-byte chunk of the preimage behind a hash
// into guest memory. Unlike the inbox reads this never triggers a
// bootstrap: preimages are only ever requested while replaying a
// message, by which point the session state is in place.
func (env *WasmEnv) ResolvePreImage(sp uint32, mem gostack.Memory) error {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	frame, err := gostack.NewStack(sp, 8, mem)
	if err != nil {
		return err
	}
	name := "wavmio.resolvePreImage"
	hashPtr := frame.ReadU64(0)
	hashLen := frame.ReadU64(1)
	offset := frame.ReadU64(3)
	outPtr := frame.ReadU64(4)
	outLen := frame.ReadU64(5)
	if hashLen != 32 || outLen != 32 {
		log.Warn("Go trying to resolve preimage with wrong size buffers", "hashLen", hashLen, "outLen", outLen)
		frame.WriteU64(7, 0)
		return nil
	}
	hashSlice, err := frame.ReadSlice(hashPtr, hashLen)
	if err != nil {
		return err
	}
	hash := common.BytesToHash(hashSlice)
	preimage, ok := env.preimages[hash]
	if !ok {
		return escapef(ErrMissingPreimage, "Missing requested preimage for hash %v in %v", common.Bytes2Hex(hash[:]), name)
	}
	if offset > math.MaxUint32 {
		return escapef(ErrBadOffset, "bad offset %v in %v", offset, name)
	}
	length := arbmath.MinInt(uint64(32), arbmath.SaturatingUSub(uint64(len(preimage)), offset))
	var chunk []byte
	if length > 0 {
		chunk = preimage[offset : offset+length]
	}
	if err := frame.WriteSlice(outPtr, chunk); err != nil {
		return err
	}
	frame.WriteU64(7, length)
	return nil
}
