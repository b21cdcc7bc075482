// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package server_jit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/offchainlabs/gojit/util/socketio"
	"github.com/offchainlabs/gojit/validator"
)

var jitWasmMemoryUsage = metrics.NewRegisteredHistogram("jit/wasm/memoryusage", nil, metrics.NewExpDecaySample(1028, 0.015))

type JitMachine struct {
	binary               string
	process              *exec.Cmd
	stdin                io.WriteCloser
	wasmMemoryUsageLimit uint64
}

func createJitMachine(jitBinary string, binaryPath string, cranelift bool, wasmMemoryUsageLimit uint64, moduleRoot common.Hash, fatalErrChan chan error) (*JitMachine, error) {
	invocation := []string{"--binary", binaryPath, "--forks"}
	if cranelift {
		invocation = append(invocation, "--cranelift")
	}
	process := exec.Command(jitBinary, invocation...)
	stdin, err := process.StdinPipe()
	if err != nil {
		return nil, err
	}
	process.Stdout = os.Stdout
	process.Stderr = os.Stderr
	go func() {
		if err := process.Run(); err != nil {
			fatalErrChan <- fmt.Errorf("lost jit machine %v: %w", moduleRoot, err)
		}
	}()

	machine := &JitMachine{
		binary:               binaryPath,
		process:              process,
		stdin:                stdin,
		wasmMemoryUsageLimit: wasmMemoryUsageLimit,
	}
	return machine, nil
}

// close tells the dispatcher no more sessions are coming. An empty
// port line reads as end-of-input on the far side.
func (machine *JitMachine) close() {
	_, err := machine.stdin.Write([]byte("\n"))
	if err != nil {
		log.Error("error closing jit machine", "error", err)
	}
}

const (
	streamMore = 0x1
	streamDone = 0x0

	successByte = 0x0
	failureByte = 0x1
)

func (machine *JitMachine) prove(
	ctxIn context.Context, entry *validator.ValidationInput,
) (validator.GoGlobalState, error) {
	ctx, cancel := context.WithCancel(ctxIn)
	defer cancel() // ensure our cleanup functions run when we're done
	state := validator.GoGlobalState{}

	timeout := time.Now().Add(60 * time.Second)
	tcp, err := net.ListenTCP("tcp4", &net.TCPAddr{
		IP: []byte{127, 0, 0, 1},
	})
	if err != nil {
		return state, err
	}
	if err := tcp.SetDeadline(timeout); err != nil {
		return state, err
	}
	go func() {
		<-ctx.Done()
		err := tcp.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("error closing session listener", "err", err)
		}
	}()
	// tell the dispatcher the port for the new session
	portLine := fmt.Sprintf("%v\n", tcp.Addr().(*net.TCPAddr).Port)
	if _, err := machine.stdin.Write([]byte(portLine)); err != nil {
		return state, err
	}

	// wait for the worker to connect
	conn, err := tcp.Accept()
	if err != nil {
		return state, fmt.Errorf("error waiting for the session worker to connect back: %w", err)
	}
	go func() {
		<-ctx.Done()
		err := conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("error closing session connection", "err", err)
		}
	}()
	if err := conn.SetReadDeadline(timeout); err != nil {
		return state, err
	}
	if err := conn.SetWriteDeadline(timeout); err != nil {
		return state, err
	}

	// send the starting global state and the delayed inbox position
	start := entry.StartState
	if err := socketio.WriteUint64(conn, start.Batch); err != nil {
		return state, err
	}
	if err := socketio.WriteUint64(conn, start.PosInBatch); err != nil {
		return state, err
	}
	if err := socketio.WriteBytes32(conn, start.BlockHash); err != nil {
		return state, err
	}
	if err := socketio.WriteBytes32(conn, start.SendRoot); err != nil {
		return state, err
	}
	if err := socketio.WriteUint64(conn, entry.DelayedMsgNr); err != nil {
		return state, err
	}

	// sequencer messages land at consecutive positions after the start
	// batch, so their numbers stay off the wire
	for i, batch := range entry.BatchInfo {
		if batch.Number != start.Batch+uint64(i) {
			return state, fmt.Errorf("batch %v out of order in validation input, expected %v", batch.Number, start.Batch+uint64(i))
		}
		if err := socketio.WriteUint8(conn, streamMore); err != nil {
			return state, err
		}
		if err := socketio.WriteBytes(conn, batch.Data); err != nil {
			return state, err
		}
	}
	if err := socketio.WriteUint8(conn, streamDone); err != nil {
		return state, err
	}

	// the delayed inbox carries at most the one message this step reads
	if entry.HasDelayedMsg {
		if err := socketio.WriteUint8(conn, streamMore); err != nil {
			return state, err
		}
		if err := socketio.WriteBytes(conn, entry.DelayedMsg); err != nil {
			return state, err
		}
	}
	if err := socketio.WriteUint8(conn, streamDone); err != nil {
		return state, err
	}

	// send known preimages
	for hash, preimage := range entry.Preimages {
		if err := socketio.WriteUint8(conn, streamMore); err != nil {
			return state, err
		}
		if err := socketio.WriteBytes32(conn, hash); err != nil {
			return state, err
		}
		if err := socketio.WriteBytes(conn, preimage); err != nil {
			return state, err
		}
	}
	if err := socketio.WriteUint8(conn, streamDone); err != nil {
		return state, err
	}

	// wait for the worker's verdict
	kind, err := socketio.ReadUint8(conn)
	if err != nil {
		return state, fmt.Errorf("error reading the session result: %w", err)
	}
	switch kind {
	case failureByte:
		message, err := socketio.ReadBytes(conn)
		if err != nil {
			return state, err
		}
		log.Error("Jit Machine Failure", "message", string(message))
		return state, errors.New(string(message))
	case successByte:
		if state.Batch, err = socketio.ReadUint64(conn); err != nil {
			return state, err
		}
		if state.PosInBatch, err = socketio.ReadUint64(conn); err != nil {
			return state, err
		}
		if state.BlockHash, err = socketio.ReadBytes32(conn); err != nil {
			return state, err
		}
		if state.SendRoot, err = socketio.ReadBytes32(conn); err != nil {
			return state, err
		}
		memoryUsed, err := socketio.ReadUint64(conn)
		if err != nil {
			return state, fmt.Errorf("failed to read the session's memory usage: %w", err)
		}
		if memoryUsed > machine.wasmMemoryUsageLimit {
			log.Warn("memory used by the session exceeds the limit", "limit", machine.wasmMemoryUsageLimit, "memoryUsed", memoryUsed)
		}
		// #nosec G115
		jitWasmMemoryUsage.Update(int64(memoryUsed))
		return state, nil
	default:
		log.Error("Jit Machine Failure", "message", "inter-process communication failure")
		return state, errors.New("inter-process communication failure")
	}
}
