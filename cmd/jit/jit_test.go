// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/gojit/util/socketio"
	"github.com/offchainlabs/gojit/util/testhelpers"
	"github.com/offchainlabs/gojit/validator"
)

func TestDispatchSessions(t *testing.T) {
	var ports []string
	err := dispatchSessions(strings.NewReader("2001\n2002\n"), func(port string) {
		ports = append(ports, port)
	})
	Require(t, err)
	if len(ports) != 2 || ports[0] != "2001" || ports[1] != "2002" {
		Fail(t, "wrong sessions dispatched", ports)
	}
}

func TestDispatchSessionsStopsOnBareNewline(t *testing.T) {
	var ports []string
	err := dispatchSessions(strings.NewReader("2001\n\n2002\n"), func(port string) {
		ports = append(ports, port)
	})
	Require(t, err)
	if len(ports) != 1 || ports[0] != "2001" {
		Fail(t, "dispatcher should stop at the controller's close", ports)
	}
}

func TestDispatchSessionsRejectsGarbage(t *testing.T) {
	err := dispatchSessions(strings.NewReader("not-a-port\n"), func(port string) {
		Fail(t, "dispatched a malformed session request", port)
	})
	if err == nil {
		Fail(t, "expected a malformed port to fail the dispatcher")
	}
}

func TestWriteOutcomeSuccess(t *testing.T) {
	state := validator.GoGlobalState{
		Batch:      6,
		PosInBatch: 0,
		BlockHash:  common.HexToHash("0x33"),
		SendRoot:   common.HexToHash("0x44"),
	}
	var frame bytes.Buffer
	Require(t, writeOutcome(&frame, state, 12345, nil))

	kind, err := socketio.ReadUint8(&frame)
	Require(t, err)
	if kind != successByte {
		Fail(t, "wrong verdict byte", kind)
	}
	batch, err := socketio.ReadUint64(&frame)
	Require(t, err)
	posInBatch, err := socketio.ReadUint64(&frame)
	Require(t, err)
	blockHash, err := socketio.ReadBytes32(&frame)
	Require(t, err)
	sendRoot, err := socketio.ReadBytes32(&frame)
	Require(t, err)
	memoryUsed, err := socketio.ReadUint64(&frame)
	Require(t, err)
	if batch != 6 || posInBatch != 0 || blockHash != state.BlockHash || sendRoot != state.SendRoot {
		Fail(t, "wrong final state reported", batch, posInBatch, blockHash, sendRoot)
	}
	if memoryUsed != 12345 {
		Fail(t, "wrong memory usage reported", memoryUsed)
	}
	if frame.Len() != 0 {
		Fail(t, "trailing bytes after the result frame", frame.Len())
	}
}

func TestWriteOutcomeFailure(t *testing.T) {
	var frame bytes.Buffer
	runErr := errors.New("missing inbox message 4 of 4 in wavmio.readInboxMessage")
	Require(t, writeOutcome(&frame, validator.GoGlobalState{}, 0, runErr))

	kind, err := socketio.ReadUint8(&frame)
	Require(t, err)
	if kind != failureByte {
		Fail(t, "wrong verdict byte", kind)
	}
	message, err := socketio.ReadBytes(&frame)
	Require(t, err)
	if string(message) != runErr.Error() {
		Fail(t, "wrong failure message", string(message))
	}
}

// guestMemory stands in for wasm linear memory so the preloaded state
// can be read back through the host calls.
type guestMemory struct {
	data []byte
}

func (m *guestMemory) Size() uint64 {
	return uint64(len(m.data))
}

func (m *guestMemory) Read(offset, count uint64) ([]byte, bool) {
	end := offset + count
	if end < offset || end > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset:end], true
}

func (m *guestMemory) Write(offset uint64, data []byte) bool {
	end := offset + uint64(len(data))
	if end < offset || end > uint64(len(m.data)) {
		return false
	}
	copy(m.data[offset:end], data)
	return true
}

const testSp = 1024

func (m *guestMemory) setSlot(slot uint64, value uint64) {
	binary.LittleEndian.PutUint64(m.data[testSp+8+8*slot:], value)
}

func (m *guestMemory) getSlot(slot uint64) uint64 {
	return binary.LittleEndian.Uint64(m.data[testSp+8+8*slot:])
}

func writeStateFile(t *testing.T, dir string, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	Require(t, os.WriteFile(path, data, 0600))
	return path
}

func TestSessionEnvFromFiles(t *testing.T) {
	dir := t.TempDir()
	preimage := []byte("preloaded oracle data")
	preimageFile := make([]byte, 8)
	binary.LittleEndian.PutUint64(preimageFile, uint64(len(preimage)))
	preimageFile = append(preimageFile, preimage...)

	config := &JitConfig{
		Binary:                "replay.wasm",
		InboxPosition:         5,
		PositionWithinMessage: 2,
		LastBlockHash:         "0x11",
		LastSendRoot:          "0x22",
		Inbox: []string{
			writeStateFile(t, dir, "batch5.bin", []byte("alpha")),
			writeStateFile(t, dir, "batch6.bin", []byte("beta")),
		},
		DelayedInboxPosition: 3,
		DelayedInbox: []string{
			writeStateFile(t, dir, "delayed3.bin", []byte("gamma")),
		},
		Preimages: writeStateFile(t, dir, "preimages.bin", preimageFile),
	}
	env, err := sessionEnv(config)
	Require(t, err)

	small, large := env.Globals()
	if small[0] != 5 || small[1] != 2 {
		Fail(t, "wrong small globals", small)
	}
	if large[0] != common.HexToHash("0x11") || large[1] != common.HexToHash("0x22") {
		Fail(t, "wrong large globals", large)
	}

	// read message 6 back through the host call
	mem := &guestMemory{data: make([]byte, 64*1024)}
	mem.setSlot(0, 6)    // message number
	mem.setSlot(1, 0)    // offset
	mem.setSlot(2, 4096) // out ptr
	mem.setSlot(3, 32)   // out len
	mem.setSlot(4, 32)
	Require(t, env.ReadInboxMessage(testSp, mem))
	if count := mem.getSlot(5); count != 4 {
		Fail(t, "wrong chunk size", count)
	}
	if string(mem.data[4096:4100]) != "beta" {
		Fail(t, "wrong message data", mem.data[4096:4100])
	}

	// the delayed message sits at its own position
	mem.setSlot(0, 3)
	Require(t, env.ReadDelayedInboxMessage(testSp, mem))
	if count := mem.getSlot(5); count != 5 {
		Fail(t, "wrong delayed chunk size", count)
	}
	if string(mem.data[4096:4101]) != "gamma" {
		Fail(t, "wrong delayed message data", mem.data[4096:4101])
	}

	// and the preimage resolves by its keccak hash
	hash := crypto.Keccak256Hash(preimage)
	copy(mem.data[8192:], hash[:])
	mem.setSlot(0, 8192) // hash ptr
	mem.setSlot(1, 32)   // hash len
	mem.setSlot(2, 32)
	mem.setSlot(3, 0)    // offset
	mem.setSlot(4, 4096) // out ptr
	mem.setSlot(5, 32)   // out len
	mem.setSlot(6, 32)
	Require(t, env.ResolvePreImage(testSp, mem))
	if count := mem.getSlot(7); count != uint64(len(preimage)) {
		Fail(t, "wrong preimage chunk size", mem.getSlot(7))
	}
	if string(mem.data[4096:4096+len(preimage)]) != string(preimage) {
		Fail(t, "wrong preimage data")
	}
}

func TestSessionEnvLazyWithPort(t *testing.T) {
	env, err := sessionEnv(&JitConfig{Binary: "replay.wasm", SessionPort: 52000})
	Require(t, err)
	if env.Socket() != nil {
		Fail(t, "session env should not dial before the first host call")
	}
}

func Require(t *testing.T, err error, text ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, text...)
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}
