// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/gojit/util/testhelpers"
)

func inboxFrame(mem *guestMemory, msgNum, offset, outPtr, outLen uint64) {
	mem.setSlot(0, msgNum)
	mem.setSlot(1, offset)
	mem.setSlot(2, outPtr)
	mem.setSlot(3, outLen)
	mem.setSlot(5, 0xffff)
}

func TestInboxChunkReads(t *testing.T) {
	env := NewPreloadedEnv()
	message := testhelpers.RandomSlice(70)
	env.PreloadSequencer(3, message)

	mem := newGuestMemory(1 << 16)
	const outPtr = 8192

	// a full chunk from the middle
	inboxFrame(mem, 3, 32, outPtr, 32)
	Require(t, env.ReadInboxMessage(testSp, mem))
	if mem.getSlot(5) != 32 {
		Fail(t, "expected a full chunk, got", mem.getSlot(5))
	}
	if !bytes.Equal(mem.data[outPtr:outPtr+32], message[32:64]) {
		Fail(t, "wrong chunk contents")
	}

	// the tail is clamped to what remains
	inboxFrame(mem, 3, 64, outPtr, 32)
	Require(t, env.ReadInboxMessage(testSp, mem))
	if mem.getSlot(5) != 6 {
		Fail(t, "expected the 6-byte tail, got", mem.getSlot(5))
	}
	if !bytes.Equal(mem.data[outPtr:outPtr+6], message[64:]) {
		Fail(t, "wrong tail contents")
	}

	// reading past the end yields zero bytes, not an error
	inboxFrame(mem, 3, 70, outPtr, 32)
	Require(t, env.ReadInboxMessage(testSp, mem))
	if mem.getSlot(5) != 0 {
		Fail(t, "expected an empty read, got", mem.getSlot(5))
	}
}

func TestDelayedInboxReads(t *testing.T) {
	env := NewPreloadedEnv()
	message := []byte("delayed message payload")
	env.PreloadDelayed(7, message)
	env.PreloadSequencer(0, []byte("unrelated"))

	mem := newGuestMemory(1 << 16)
	const outPtr = 8192
	inboxFrame(mem, 7, 0, outPtr, 32)
	Require(t, env.ReadDelayedInboxMessage(testSp, mem))
	count := mem.getSlot(5)
	if count != uint64(len(message)) {
		Fail(t, "wrong count", count)
	}
	if !bytes.Equal(mem.data[outPtr:outPtr+count], message) {
		Fail(t, "wrong delayed contents")
	}
}

func TestInboxMissingVersusTooFar(t *testing.T) {
	env := NewPreloadedEnv()
	env.PreloadSequencer(4, []byte("four"), []byte("five"))

	mem := newGuestMemory(1 << 16)

	// a hole below the horizon means the inputs are incomplete
	inboxFrame(mem, 3, 0, 8192, 32)
	err := env.ReadInboxMessage(testSp, mem)
	if !errors.Is(err, ErrMissingMessage) {
		Fail(t, "expected a missing message, got", err)
	}
	if err.Error() != "missing inbox message 3 of 6 in wavmio.readInboxMessage" {
		Fail(t, "wrong diagnostic:", err.Error())
	}

	// past the horizon the replay simply asked for more than this
	// session covers
	inboxFrame(mem, 6, 0, 8192, 32)
	err = env.ReadInboxMessage(testSp, mem)
	if !errors.Is(err, ErrMessageTooFar) {
		Fail(t, "expected too far, got", err)
	}
	if err.Error() != "message 6 of 6 too far in wavmio.readInboxMessage" {
		Fail(t, "wrong diagnostic:", err.Error())
	}
}

func TestInboxWrongSizeBuffer(t *testing.T) {
	testhelpers.InitTestLog(t, log.LvlError)

	env := NewPreloadedEnv()
	env.PreloadSequencer(0, []byte("payload"))

	mem := newGuestMemory(1 << 16)
	inboxFrame(mem, 0, 0, 8192, 16)
	Require(t, env.ReadInboxMessage(testSp, mem))
	if mem.getSlot(5) != 0 {
		Fail(t, "expected a zero count, got", mem.getSlot(5))
	}
	for _, b := range mem.data[8192 : 8192+16] {
		if b != 0 {
			Fail(t, "guest buffer was written")
		}
	}
}

func TestInboxBufferPastMemoryEnd(t *testing.T) {
	env := NewPreloadedEnv()
	env.PreloadSequencer(0, []byte("payload"))

	mem := newGuestMemory(1 << 16)
	inboxFrame(mem, 0, 0, mem.Size()-16, 32)
	if err := env.ReadInboxMessage(testSp, mem); !errors.Is(err, ErrUnknownMessageType) {
		Fail(t, "expected the unknown message type escape, got", err)
	}
}

func TestInboxBadOffset(t *testing.T) {
	env := NewPreloadedEnv()
	env.PreloadSequencer(0, []byte("payload"))

	mem := newGuestMemory(1 << 16)
	inboxFrame(mem, 0, 1<<33, 8192, 32)
	err := env.ReadInboxMessage(testSp, mem)
	if !errors.Is(err, ErrBadOffset) {
		Fail(t, "expected a bad offset, got", err)
	}
}
