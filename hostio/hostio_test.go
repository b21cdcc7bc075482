// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"encoding/binary"
	"testing"

	"github.com/offchainlabs/gojit/util/testhelpers"
)

// guestMemory stands in for the replay binary's linear memory.
type guestMemory struct {
	data []byte
}

func newGuestMemory(size uint64) *guestMemory {
	return &guestMemory{data: make([]byte, size)}
}

func (m *guestMemory) Size() uint64 {
	return uint64(len(m.data))
}

func (m *guestMemory) Read(offset, count uint64) ([]byte, bool) {
	if count > uint64(len(m.data)) || offset > uint64(len(m.data))-count {
		return nil, false
	}
	return m.data[offset : offset+count], true
}

func (m *guestMemory) Write(offset uint64, data []byte) bool {
	if uint64(len(data)) > uint64(len(m.data)) || offset > uint64(len(m.data))-uint64(len(data)) {
		return false
	}
	copy(m.data[offset:], data)
	return true
}

// Call frames in the tests all live at the same stack pointer, with
// arguments laid out the way the go-js ABI does.
const testSp = 1024

func (m *guestMemory) setSlot(slot uint64, val uint64) {
	binary.LittleEndian.PutUint64(m.data[testSp+8+8*slot:], val)
}

func (m *guestMemory) getSlot(slot uint64) uint64 {
	return binary.LittleEndian.Uint64(m.data[testSp+8+8*slot:])
}

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}
