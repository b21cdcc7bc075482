// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/gojit/util/socketio"
)

// bootstrapState is a fully decoded session, held apart from the
// environment until the whole stream has been read. A truncated or
// malformed stream must not leave the environment half updated.
type bootstrapState struct {
	inboxPosition         uint64
	positionWithinMessage uint64
	lastBlockHash         common.Hash
	lastSendRoot          common.Hash
	delayedPosition       uint64
	sequencer             [][]byte
	delayed               [][]byte
	preimages             map[common.Hash][]byte
}

// readyHostIo installs session state if none is present yet, dialing
// the controller and ingesting everything it sends. Requires the
// environment mutex.
func (env *WasmEnv) readyHostIo() error {
	if !env.lazy {
		return nil
	}
	socket, err := net.Dial("tcp", env.address)
	if err != nil {
		return escapef(ErrBootstrapIO, "error connecting to controller at %v: %v", env.address, err)
	}
	state, err := readBootstrapState(bufio.NewReader(socket))
	if err != nil {
		socket.Close()
		return escapef(ErrBootstrapIO, "error reading session state: %v", err)
	}
	env.install(state, socket)
	return nil
}

func readBootstrapState(in io.Reader) (*bootstrapState, error) {
	state := &bootstrapState{
		preimages: make(map[common.Hash][]byte),
	}
	var err error
	if state.inboxPosition, err = socketio.ReadUint64(in); err != nil {
		return nil, fmt.Errorf("inbox position: %w", err)
	}
	if state.positionWithinMessage, err = socketio.ReadUint64(in); err != nil {
		return nil, fmt.Errorf("position within message: %w", err)
	}
	if state.lastBlockHash, err = socketio.ReadBytes32(in); err != nil {
		return nil, fmt.Errorf("block hash: %w", err)
	}
	if state.lastSendRoot, err = socketio.ReadBytes32(in); err != nil {
		return nil, fmt.Errorf("send root: %w", err)
	}
	if state.delayedPosition, err = socketio.ReadUint64(in); err != nil {
		return nil, fmt.Errorf("delayed inbox position: %w", err)
	}
	if state.sequencer, err = readMessageStream(in); err != nil {
		return nil, fmt.Errorf("sequencer inbox: %w", err)
	}
	if state.delayed, err = readMessageStream(in); err != nil {
		return nil, fmt.Errorf("delayed inbox: %w", err)
	}
	if err = readPreimageStream(in, state.preimages); err != nil {
		return nil, fmt.Errorf("preimages: %w", err)
	}
	return state, nil
}

// readMessageStream reads length-prefixed messages until a zero
// continuation flag.
func readMessageStream(in io.Reader) ([][]byte, error) {
	var messages [][]byte
	for {
		flag, err := socketio.ReadUint8(in)
		if err != nil {
			return nil, err
		}
		if flag == 0 {
			return messages, nil
		}
		message, err := socketio.ReadBytes(in)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
}

func readPreimageStream(in io.Reader, preimages map[common.Hash][]byte) error {
	for {
		flag, err := socketio.ReadUint8(in)
		if err != nil {
			return err
		}
		if flag == 0 {
			return nil
		}
		hash, err := socketio.ReadBytes32(in)
		if err != nil {
			return err
		}
		data, err := socketio.ReadBytes(in)
		if err != nil {
			return err
		}
		preimages[hash] = data
	}
}

// install swaps the decoded session in. The inbox maps are rebuilt from
// scratch, preimages accumulate, and the socket stays open so the
// session can report its result when the replay finishes.
func (env *WasmEnv) install(state *bootstrapState, socket net.Conn) {
	env.smallGlobals = []uint64{state.inboxPosition, state.positionWithinMessage}
	env.largeGlobals = []common.Hash{state.lastBlockHash, state.lastSendRoot}
	env.sequencerMessages = make(map[uint64][]byte, len(state.sequencer))
	for i, message := range state.sequencer {
		env.sequencerMessages[state.inboxPosition+uint64(i)] = message
	}
	env.firstTooFar = state.inboxPosition + uint64(len(state.sequencer))
	env.delayedMessages = make(map[uint64][]byte, len(state.delayed))
	for i, message := range state.delayed {
		env.delayedMessages[state.delayedPosition+uint64(i)] = message
	}
	for hash, data := range state.preimages {
		env.preimages[hash] = data
	}
	env.socket = socket
	env.lazy = false
}
