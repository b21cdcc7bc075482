// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package server_jit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/gojit/hostio"
	"github.com/offchainlabs/gojit/util/socketio"
	"github.com/offchainlabs/gojit/util/testhelpers"
	"github.com/offchainlabs/gojit/validator"
)

// guestMemory lets the test play the worker's host calls without a
// wasm engine behind them.
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

type proveOutcome struct {
	state validator.GoGlobalState
	err   error
}

// startProve runs prove against a pipe standing in for the dispatcher's
// stdin, returning the loopback address built from the announced port.
func startProve(t *testing.T, entry *validator.ValidationInput) (string, chan proveOutcome) {
	t.Helper()
	stdinRead, stdinWrite := io.Pipe()
	machine := &JitMachine{
		binary:               "replay.wasm",
		stdin:                stdinWrite,
		wasmMemoryUsageLimit: DefaultJitMachineConfig.WasmMemoryUsageLimit,
	}
	outcome := make(chan proveOutcome, 1)
	go func() {
		state, err := machine.prove(context.Background(), entry)
		outcome <- proveOutcome{state, err}
	}()
	line, err := bufio.NewReader(stdinRead).ReadString('\n')
	Require(t, err)
	return "127.0.0.1:" + strings.TrimSpace(line), outcome
}

func TestProveRoundTrip(t *testing.T) {
	preimage := []byte("oracle data the replay will ask for")
	preimageHash := crypto.Keccak256Hash(preimage)
	entry := &validator.ValidationInput{
		Id: 1,
		StartState: validator.GoGlobalState{
			Batch:      5,
			PosInBatch: 2,
			BlockHash:  common.HexToHash("0x11"),
			SendRoot:   common.HexToHash("0x22"),
		},
		BatchInfo: []validator.BatchInfo{
			{Number: 5, Data: []byte("alpha")},
			{Number: 6, Data: []byte("beta")},
		},
		HasDelayedMsg: true,
		DelayedMsgNr:  3,
		DelayedMsg:    []byte("gamma"),
		Preimages:     map[common.Hash][]byte{preimageHash: preimage},
	}
	address, outcome := startProve(t, entry)

	// play the worker: bootstrap over the announced port, check the
	// session contents, then report a final state
	env := hostio.NewSessionEnv(address)
	mem := &guestMemory{data: make([]byte, 64*1024)}
	mem.setSlot(0, 0) // batch number global
	Require(t, env.GetGlobalStateU64(testSp, mem))
	if mem.getSlot(1) != 5 {
		Fail(t, "worker bootstrapped the wrong batch", mem.getSlot(1))
	}
	small, large := env.Globals()
	if small[1] != 2 || large[0] != entry.StartState.BlockHash || large[1] != entry.StartState.SendRoot {
		Fail(t, "worker bootstrapped the wrong globals", small, large)
	}

	const outPtr = 8192
	readMessage := func(read func(sp uint32, mem *guestMemory) error, msgNum uint64) []byte {
		mem.setSlot(0, msgNum)
		mem.setSlot(1, 0) // offset
		mem.setSlot(2, outPtr)
		mem.setSlot(3, 32)
		mem.setSlot(4, 32)
		Require(t, read(testSp, mem))
		return mem.data[outPtr : outPtr+mem.getSlot(5)]
	}
	readInbox := func(sp uint32, mem *guestMemory) error { return env.ReadInboxMessage(sp, mem) }
	readDelayed := func(sp uint32, mem *guestMemory) error { return env.ReadDelayedInboxMessage(sp, mem) }

	if !bytes.Equal(readMessage(readInbox, 5), []byte("alpha")) {
		Fail(t, "wrong message at the starting batch")
	}
	if !bytes.Equal(readMessage(readInbox, 6), []byte("beta")) {
		Fail(t, "wrong message after the starting batch")
	}
	if !bytes.Equal(readMessage(readDelayed, 3), []byte("gamma")) {
		Fail(t, "wrong delayed message")
	}

	// resolve the preimage the controller sent during bootstrap
	const hashPtr = 4096
	mem.Write(hashPtr, preimageHash[:])
	mem.setSlot(0, hashPtr)
	mem.setSlot(1, 32)
	mem.setSlot(2, 32)
	mem.setSlot(3, 0) // offset
	mem.setSlot(4, outPtr)
	mem.setSlot(5, 32)
	mem.setSlot(6, 32)
	Require(t, env.ResolvePreImage(testSp, mem))
	if !bytes.Equal(mem.data[outPtr:outPtr+mem.getSlot(7)], preimage[:32]) {
		Fail(t, "wrong preimage chunk")
	}

	// report success the way a finished session does
	socket := env.Socket()
	if socket == nil {
		Fail(t, "bootstrap left no socket to report over")
	}
	final := validator.GoGlobalState{
		Batch:      6,
		PosInBatch: 0,
		BlockHash:  common.HexToHash("0x33"),
		SendRoot:   common.HexToHash("0x44"),
	}
	Require(t, socketio.WriteUint8(socket, successByte))
	Require(t, socketio.WriteUint64(socket, final.Batch))
	Require(t, socketio.WriteUint64(socket, final.PosInBatch))
	Require(t, socketio.WriteBytes32(socket, final.BlockHash))
	Require(t, socketio.WriteBytes32(socket, final.SendRoot))
	Require(t, socketio.WriteUint64(socket, 12345))

	result := awaitProve(t, outcome)
	Require(t, result.err)
	if result.state != final {
		Fail(t, "controller read back the wrong state", result.state)
	}
}

func TestProveReportsWorkerFailure(t *testing.T) {
	entry := &validator.ValidationInput{
		StartState: validator.GoGlobalState{Batch: 9},
		Preimages:  map[common.Hash][]byte{},
	}
	address, outcome := startProve(t, entry)

	env := hostio.NewSessionEnv(address)
	mem := &guestMemory{data: make([]byte, 64*1024)}
	mem.setSlot(0, 0)
	Require(t, env.GetGlobalStateU64(testSp, mem))

	socket := env.Socket()
	Require(t, socketio.WriteUint8(socket, failureByte))
	Require(t, socketio.WriteBytes(socket, []byte("missing inbox message 9 of 9 in wavmio.readInboxMessage")))

	result := awaitProve(t, outcome)
	if result.err == nil {
		Fail(t, "controller ignored the worker's failure")
	}
	if !strings.Contains(result.err.Error(), "missing inbox message") {
		Fail(t, "failure message lost in transit", result.err)
	}
}

func TestProveRejectsOutOfOrderBatches(t *testing.T) {
	entry := &validator.ValidationInput{
		StartState: validator.GoGlobalState{Batch: 4},
		BatchInfo:  []validator.BatchInfo{{Number: 7, Data: []byte("stray")}},
		Preimages:  map[common.Hash][]byte{},
	}
	address, outcome := startProve(t, entry)

	// the connection must be up for prove to reach the batch check
	env := hostio.NewSessionEnv(address)
	mem := &guestMemory{data: make([]byte, 64*1024)}
	mem.setSlot(0, 0)
	_ = env.GetGlobalStateU64(testSp, mem)

	result := awaitProve(t, outcome)
	if result.err == nil || !strings.Contains(result.err.Error(), "out of order") {
		Fail(t, "expected an out of order batch error", result.err)
	}
}

func awaitProve(t *testing.T, outcome chan proveOutcome) proveOutcome {
	t.Helper()
	select {
	case result := <-outcome:
		return result
	case <-time.After(time.Minute):
		Fail(t, "prove did not finish")
		return proveOutcome{}
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
