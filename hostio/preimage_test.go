// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/gojit/util/testhelpers"
)

func preimageFrame(mem *guestMemory, hash common.Hash, offset, outPtr, outLen uint64) {
	const hashPtr = 4096
	copy(mem.data[hashPtr:], hash[:])
	mem.setSlot(0, hashPtr)
	mem.setSlot(1, 32)
	mem.setSlot(3, offset)
	mem.setSlot(4, outPtr)
	mem.setSlot(5, outLen)
	mem.setSlot(7, 0xffff)
}

func TestPreimageChunkReads(t *testing.T) {
	env := NewPreloadedEnv()
	preimage := testhelpers.RandomSlice(80)
	hash := env.AddPreimage(preimage)

	mem := newGuestMemory(1 << 16)
	const outPtr = 8192

	var got []byte
	for offset := uint64(0); ; offset += 32 {
		preimageFrame(mem, hash, offset, outPtr, 32)
		Require(t, env.ResolvePreImage(testSp, mem))
		count := mem.getSlot(7)
		got = append(got, mem.data[outPtr:outPtr+count]...)
		if count < 32 {
			break
		}
	}
	if !bytes.Equal(got, preimage) {
		Fail(t, "chunked reads did not reassemble the preimage")
	}
}

func TestPreimageMissing(t *testing.T) {
	env := NewPreloadedEnv()
	env.AddPreimage([]byte("present"))

	mem := newGuestMemory(1 << 16)
	absent := common.HexToHash("0xabcdef")
	preimageFrame(mem, absent, 0, 8192, 32)
	err := env.ResolvePreImage(testSp, mem)
	if !errors.Is(err, ErrMissingPreimage) {
		Fail(t, "expected a missing preimage, got", err)
	}
	if !strings.Contains(err.Error(), common.Bytes2Hex(absent[:])) {
		Fail(t, "diagnostic does not name the hash:", err.Error())
	}
}

func TestPreimageWrongSizeBuffers(t *testing.T) {
	testhelpers.InitTestLog(t, log.LvlError)

	env := NewPreloadedEnv()
	hash := env.AddPreimage([]byte("data"))

	mem := newGuestMemory(1 << 16)
	preimageFrame(mem, hash, 0, 8192, 31)
	Require(t, env.ResolvePreImage(testSp, mem))
	if mem.getSlot(7) != 0 {
		Fail(t, "expected a zero count, got", mem.getSlot(7))
	}

	preimageFrame(mem, hash, 0, 8192, 32)
	mem.setSlot(1, 20)
	Require(t, env.ResolvePreImage(testSp, mem))
	if mem.getSlot(7) != 0 {
		Fail(t, "expected a zero count, got", mem.getSlot(7))
	}
}

func TestPreimageBadOffset(t *testing.T) {
	env := NewPreloadedEnv()
	hash := env.AddPreimage([]byte("data"))

	mem := newGuestMemory(1 << 16)
	preimageFrame(mem, hash, 1<<40, 8192, 32)
	if err := env.ResolvePreImage(testSp, mem); !errors.Is(err, ErrBadOffset) {
		Fail(t, "expected a bad offset, got", err)
	}
}
