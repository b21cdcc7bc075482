// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package hostio implements the host side of the wavmio surface exposed
// to the replay binary: the rollup's global state slots, the sequencer
// and delayed inbox oracles, and the content addressed preimage oracle.
//
// Host calls decode their arguments from a go-js stack frame and read or
// write guest memory through gostack. All session state lives in a
// WasmEnv. In session mode the state arrives lazily over a loopback
// socket the first time a host call needs it, so that compiling and
// instantiating the replay binary can be paid for before any particular
// validation request exists.
package hostio

import (
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// WasmEnv holds the deterministic inputs of a single replay session and
// the results the guest writes back. The zero global state vectors have
// two slots each, matching what the replay binary expects to address.
type WasmEnv struct {
	mutex sync.Mutex

	// session bootstrap, see bootstrap.go
	lazy    bool
	address string
	socket  net.Conn

	smallGlobals      []uint64
	largeGlobals      []common.Hash
	sequencerMessages map[uint64][]byte
	delayedMessages   map[uint64][]byte
	preimages         map[common.Hash][]byte

	// lowest sequencer message index past the provided range, used to
	// tell a hole in the inputs from a read beyond them
	firstTooFar uint64
}

func newWasmEnv() *WasmEnv {
	return &WasmEnv{
		smallGlobals:      make([]uint64, 2),
		largeGlobals:      make([]common.Hash, 2),
		sequencerMessages: make(map[uint64][]byte),
		delayedMessages:   make(map[uint64][]byte),
		preimages:         make(map[common.Hash][]byte),
	}
}

// NewSessionEnv creates an environment that bootstraps itself from the
// controller listening on the given loopback address. Nothing is dialed
// until the guest first touches session state.
func NewSessionEnv(address string) *WasmEnv {
	env := newWasmEnv()
	env.lazy = true
	env.address = address
	return env
}

// NewPreloadedEnv creates an environment whose inputs are installed up
// front by the caller, for running a session from files or in tests.
func NewPreloadedEnv() *WasmEnv {
	return newWasmEnv()
}

// SetGlobals replaces both global state vectors wholesale.
func (env *WasmEnv) SetGlobals(small []uint64, large []common.Hash) {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	env.smallGlobals = append([]uint64{}, small...)
	env.largeGlobals = append([]common.Hash{}, large...)
}

// Globals returns copies of the current global state vectors.
func (env *WasmEnv) Globals() ([]uint64, []common.Hash) {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	small := append([]uint64{}, env.smallGlobals...)
	large := append([]common.Hash{}, env.largeGlobals...)
	return small, large
}

// PreloadSequencer installs sequencer messages at consecutive indices
// starting from position, and moves the too-far horizon past them.
func (env *WasmEnv) PreloadSequencer(position uint64, messages ...[]byte) {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	for i, message := range messages {
		env.sequencerMessages[position+uint64(i)] = message
	}
	env.firstTooFar = position + uint64(len(messages))
}

// PreloadDelayed installs delayed messages at consecutive indices
// starting from position.
func (env *WasmEnv) PreloadDelayed(position uint64, messages ...[]byte) {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	for i, message := range messages {
		env.delayedMessages[position+uint64(i)] = message
	}
}

// AddPreimage records data under its Keccak-256 hash and returns the
// hash it is now resolvable by.
func (env *WasmEnv) AddPreimage(data []byte) common.Hash {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	hash := crypto.Keccak256Hash(data)
	env.preimages[hash] = data
	return hash
}

// Socket returns the connection retained from bootstrap, or nil if no
// bootstrap has run. The session reports its result over it.
func (env *WasmEnv) Socket() net.Conn {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	return env.socket
}
