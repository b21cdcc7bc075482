// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package gostack

import (
	"bytes"
	"testing"

	"github.com/offchainlabs/gojit/util/testhelpers"
)

type pageMemory struct {
	data []byte
}

func (m *pageMemory) Size() uint64 {
	return uint64(len(m.data))
}

func (m *pageMemory) Read(offset, count uint64) ([]byte, bool) {
	if offset+count < offset || offset+count > m.Size() {
		return nil, false
	}
	return m.data[offset : offset+count], true
}

func (m *pageMemory) Write(offset uint64, data []byte) bool {
	end := offset + uint64(len(data))
	if end < offset || end > m.Size() {
		return false
	}
	copy(m.data[offset:end], data)
	return true
}

func TestStackSlots(t *testing.T) {
	mem := &pageMemory{data: make([]byte, 4096)}
	sp, err := NewStack(64, 6, mem)
	Require(t, err)

	sp.WriteU64(0, 0xdeadbeef)
	sp.WriteU64(5, 1)
	if sp.ReadU64(0) != 0xdeadbeef || sp.ReadU64(5) != 1 {
		Fail(t, "slot roundtrip failed")
	}

	// words are little-endian at sp+8+8*slot
	if mem.data[64+8] != 0xef {
		Fail(t, "slot 0 not little-endian at the right offset")
	}
}

func TestStackPartialSlots(t *testing.T) {
	mem := &pageMemory{data: make([]byte, 4096)}
	sp, err := NewStack(64, 2, mem)
	Require(t, err)

	// narrow accesses only touch the low bytes of a word
	sp.WriteU64(0, 0xffffffffffffffff)
	sp.WriteU32(0, 7)
	if sp.ReadU32(0) != 7 {
		Fail(t, "u32 roundtrip failed")
	}
	if sp.ReadU64(0) != 0xffffffff00000007 {
		Fail(t, "u32 write touched the high bytes")
	}

	sp.WriteU64(1, 0xffffffffffffffff)
	sp.WriteU8(1, 0)
	if sp.ReadU64(1) != 0xffffffffffffff00 {
		Fail(t, "u8 write touched more than one byte")
	}
}

func TestStackFrameBounds(t *testing.T) {
	mem := &pageMemory{data: make([]byte, 128)}
	if _, err := NewStack(120, 2, mem); err == nil {
		Fail(t, "out-of-memory frame must be rejected")
	}
	if _, err := NewStack(104, 2, mem); err != nil {
		Fail(t, "frame ending exactly at memory size must be accepted")
	}
}

func TestStackSlices(t *testing.T) {
	mem := &pageMemory{data: make([]byte, 256)}
	sp, err := NewStack(0, 2, mem)
	Require(t, err)

	payload := testhelpers.RandomSlice(32)
	Require(t, sp.WriteSlice(100, payload))
	read, err := sp.ReadSlice(100, 32)
	Require(t, err)
	if !bytes.Equal(read, payload) {
		Fail(t, "slice roundtrip failed")
	}

	if err := sp.WriteSlice(250, payload); err == nil {
		Fail(t, "out-of-bounds write must fail")
	}
	if _, err := sp.ReadSlice(250, 32); err == nil {
		Fail(t, "out-of-bounds read must fail")
	}
	if sp.MemorySize() != 256 {
		Fail(t, "wrong memory size")
	}
}

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}
