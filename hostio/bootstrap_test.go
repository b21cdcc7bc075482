// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/gojit/util/socketio"
	"github.com/offchainlabs/gojit/util/testhelpers"
)

type testSession struct {
	inboxPosition         uint64
	positionWithinMessage uint64
	lastBlockHash         common.Hash
	lastSendRoot          common.Hash
	delayedPosition       uint64
	sequencer             [][]byte
	delayed               [][]byte
	preimages             map[common.Hash][]byte
}

func encodeSession(t *testing.T, session *testSession) []byte {
	t.Helper()
	var buf bytes.Buffer
	write := func(err error) {
		t.Helper()
		Require(t, err)
	}
	write(socketio.WriteUint64(&buf, session.inboxPosition))
	write(socketio.WriteUint64(&buf, session.positionWithinMessage))
	write(socketio.WriteBytes32(&buf, session.lastBlockHash))
	write(socketio.WriteBytes32(&buf, session.lastSendRoot))
	write(socketio.WriteUint64(&buf, session.delayedPosition))
	for _, message := range session.sequencer {
		write(socketio.WriteUint8(&buf, 1))
		write(socketio.WriteBytes(&buf, message))
	}
	write(socketio.WriteUint8(&buf, 0))
	for _, message := range session.delayed {
		write(socketio.WriteUint8(&buf, 1))
		write(socketio.WriteBytes(&buf, message))
	}
	write(socketio.WriteUint8(&buf, 0))
	for hash, data := range session.preimages {
		write(socketio.WriteUint8(&buf, 1))
		write(socketio.WriteBytes32(&buf, hash))
		write(socketio.WriteBytes(&buf, data))
	}
	write(socketio.WriteUint8(&buf, 0))
	return buf.Bytes()
}

// serveSession answers every connection with the given bytes. With
// closeAfterWrite the controller hangs up right away instead of keeping
// the connection for the result.
func serveSession(t *testing.T, stream []byte, closeAfterWrite bool) (string, *atomic.Int32) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Require(t, err)
	var accepted atomic.Int32
	var mutex sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		listener.Close()
		mutex.Lock()
		defer mutex.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			_, _ = conn.Write(stream)
			if closeAfterWrite {
				conn.Close()
				continue
			}
			mutex.Lock()
			conns = append(conns, conn)
			mutex.Unlock()
		}
	}()
	return listener.Addr().String(), &accepted
}

func TestBootstrapOnFirstHostCall(t *testing.T) {
	prand := testhelpers.NewPseudoRandomDataSource(t, 0)
	oracleHash := prand.GetHash()
	session := &testSession{
		inboxPosition:         4,
		positionWithinMessage: 2,
		lastBlockHash:         prand.GetHash(),
		lastSendRoot:          prand.GetHash(),
		delayedPosition:       7,
		sequencer:             [][]byte{[]byte("alpha"), []byte("beta")},
		delayed:               [][]byte{[]byte("gamma")},
		preimages:             map[common.Hash][]byte{oracleHash: []byte("oracle data")},
	}
	addr, accepted := serveSession(t, encodeSession(t, session), false)
	env := NewSessionEnv(addr)

	mem := newGuestMemory(1 << 16)
	const outPtr = 8192

	// the first touch of session state pulls everything in
	mem.setSlot(0, 0)
	Require(t, env.GetGlobalStateU64(testSp, mem))
	if mem.getSlot(1) != session.inboxPosition {
		Fail(t, "wrong inbox position", mem.getSlot(1))
	}
	mem.setSlot(0, 1)
	Require(t, env.GetGlobalStateU64(testSp, mem))
	if mem.getSlot(1) != session.positionWithinMessage {
		Fail(t, "wrong position within message", mem.getSlot(1))
	}
	small, large := env.Globals()
	if small[0] != 4 || small[1] != 2 {
		Fail(t, "wrong small globals", small)
	}
	if large[0] != session.lastBlockHash || large[1] != session.lastSendRoot {
		Fail(t, "wrong large globals")
	}

	// sequencer messages land at consecutive indices from the inbox
	// position, delayed ones from the delayed position
	inboxFrame(mem, 4, 0, outPtr, 32)
	Require(t, env.ReadInboxMessage(testSp, mem))
	if string(mem.data[outPtr:outPtr+mem.getSlot(5)]) != "alpha" {
		Fail(t, "wrong message at the inbox position")
	}
	inboxFrame(mem, 5, 0, outPtr, 32)
	Require(t, env.ReadInboxMessage(testSp, mem))
	if string(mem.data[outPtr:outPtr+mem.getSlot(5)]) != "beta" {
		Fail(t, "wrong second sequencer message")
	}
	inboxFrame(mem, 6, 0, outPtr, 32)
	if err := env.ReadInboxMessage(testSp, mem); !errors.Is(err, ErrMessageTooFar) {
		Fail(t, "expected the horizon right past the ingested messages, got", err)
	}
	inboxFrame(mem, 7, 0, outPtr, 32)
	Require(t, env.ReadDelayedInboxMessage(testSp, mem))
	if string(mem.data[outPtr:outPtr+mem.getSlot(5)]) != "gamma" {
		Fail(t, "wrong delayed message")
	}

	preimageFrame(mem, oracleHash, 0, outPtr, 32)
	Require(t, env.ResolvePreImage(testSp, mem))
	if string(mem.data[outPtr:outPtr+mem.getSlot(7)]) != "oracle data" {
		Fail(t, "wrong preimage data")
	}

	if env.Socket() == nil {
		Fail(t, "bootstrap did not retain the controller connection")
	}
	if got := accepted.Load(); got != 1 {
		Fail(t, "expected exactly one bootstrap connection, got", got)
	}
}

func TestBootstrapEmptySession(t *testing.T) {
	session := &testSession{inboxPosition: 9, delayedPosition: 3}
	addr, _ := serveSession(t, encodeSession(t, session), false)
	env := NewSessionEnv(addr)

	mem := newGuestMemory(1 << 16)
	inboxFrame(mem, 9, 0, 8192, 32)
	err := env.ReadInboxMessage(testSp, mem)
	if !errors.Is(err, ErrMessageTooFar) {
		Fail(t, "with no messages the horizon sits at the inbox position, got", err)
	}
}

func TestBootstrapTruncatedStream(t *testing.T) {
	session := &testSession{
		inboxPosition: 4,
		sequencer:     [][]byte{[]byte("alpha")},
	}
	stream := encodeSession(t, session)
	// cut inside the first sequencer message
	addr, _ := serveSession(t, stream[:8+8+32+32+8+1+4], true)
	env := NewSessionEnv(addr)

	mem := newGuestMemory(1 << 16)
	mem.setSlot(0, 0)
	err := env.GetGlobalStateU64(testSp, mem)
	if !errors.Is(err, ErrBootstrapIO) {
		Fail(t, "expected a bootstrap failure, got", err)
	}

	// nothing of the partial stream may leak into the environment
	small, large := env.Globals()
	if small[0] != 0 || small[1] != 0 || large[0] != (common.Hash{}) || large[1] != (common.Hash{}) {
		Fail(t, "truncated bootstrap left state behind")
	}
	if env.Socket() != nil {
		Fail(t, "truncated bootstrap retained the connection")
	}
}

func TestBootstrapControllerAbsent(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Require(t, err)
	addr := listener.Addr().String()
	Require(t, listener.Close())

	env := NewSessionEnv(addr)
	mem := newGuestMemory(1 << 16)
	mem.setSlot(0, 0)
	if err := env.GetGlobalStateU64(testSp, mem); !errors.Is(err, ErrBootstrapIO) {
		Fail(t, "expected a bootstrap failure, got", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	first := &testSession{
		inboxPosition: 10,
		lastBlockHash: common.HexToHash("0x11"),
		sequencer:     [][]byte{[]byte("first session message")},
	}
	second := &testSession{
		inboxPosition: 20,
		lastBlockHash: common.HexToHash("0x22"),
		sequencer:     [][]byte{[]byte("second session message")},
	}
	firstAddr, _ := serveSession(t, encodeSession(t, first), false)
	secondAddr, _ := serveSession(t, encodeSession(t, second), false)
	envs := []*WasmEnv{NewSessionEnv(firstAddr), NewSessionEnv(secondAddr)}

	const outPtr = 8192
	for i, session := range []*testSession{first, second} {
		mem := newGuestMemory(1 << 16)
		inboxFrame(mem, session.inboxPosition, 0, outPtr, 32)
		Require(t, envs[i].ReadInboxMessage(testSp, mem))
		if string(mem.data[outPtr:outPtr+mem.getSlot(5)]) != string(session.sequencer[0]) {
			Fail(t, "session", i, "served another session's message")
		}
		small, large := envs[i].Globals()
		if small[0] != session.inboxPosition || large[0] != session.lastBlockHash {
			Fail(t, "session", i, "holds another session's globals")
		}
		// the other session's message must stay invisible here
		other := []*testSession{second, first}[i]
		inboxFrame(mem, other.inboxPosition, 0, outPtr, 32)
		if err := envs[i].ReadInboxMessage(testSp, mem); err == nil {
			Fail(t, "session", i, "can see another session's inbox index")
		}
	}
}

func TestPreimageResolutionSkipsBootstrap(t *testing.T) {
	// the address is never dialed: preimage resolution must work off
	// what is already present
	env := NewSessionEnv("127.0.0.1:1")
	hash := env.AddPreimage([]byte("local data"))

	mem := newGuestMemory(1 << 16)
	preimageFrame(mem, hash, 0, 8192, 32)
	Require(t, env.ResolvePreImage(testSp, mem))
	if string(mem.data[8192:8192+mem.getSlot(7)]) != "local data" {
		Fail(t, "wrong preimage data")
	}
}
