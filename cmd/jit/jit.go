// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// The jit machine binary. A controller starts it in forks mode and
// writes one loopback port per validation session to its stdin; each
// line dispatches an isolated worker process that bootstraps its state
// from that port, replays one chain step, and reports the final global
// state back over the same connection. Without --forks the binary runs
// a single session, either from a controller port or entirely from
// state files named on the command line.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"

	"github.com/offchainlabs/gojit/cmd/genericconf"
	"github.com/offchainlabs/gojit/cmd/util/confighelpers"
	"github.com/offchainlabs/gojit/hostio"
	"github.com/offchainlabs/gojit/machine"
	"github.com/offchainlabs/gojit/util/socketio"
	"github.com/offchainlabs/gojit/validator"
)

var sessionsCounter = metrics.NewRegisteredCounter("jit/sessions", nil)

const (
	successByte = 0x0
	failureByte = 0x1
)

func printSampleUsage(name string) {
	fmt.Printf("Sample usage: %s --binary replay.wasm --forks\n", name)
}

func main() {
	os.Exit(mainImpl())
}

// Returns the exit code
func mainImpl() int {
	args := os.Args[1:]
	config, err := ParseJit(args)
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}

	logFormat, err := genericconf.ParseLogType(config.LogType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing log type: %v\n", err)
		return 1
	}
	glogger := log.NewGlogHandler(log.StreamHandler(os.Stderr, logFormat))
	glogger.Verbosity(log.Lvl(config.LogLevel))
	log.Root().SetHandler(glogger)

	if config.Metrics {
		go metrics.CollectProcessMetrics(config.MetricsServer.UpdateInterval)

		if config.MetricsServer.Addr != "" {
			address := fmt.Sprintf("%v:%v", config.MetricsServer.Addr, config.MetricsServer.Port)
			if config.MetricsServer.Pprof {
				genericconf.StartPprof(address)
			} else {
				exp.Setup(address)
			}
		}
	}

	if config.Forks {
		return runDispatcher(config)
	}
	return runSession(context.Background(), config)
}

// runDispatcher serves session requests until the controller closes our
// stdin, which is the clean way to say no more sessions are coming.
func runDispatcher(config *JitConfig) int {
	err := dispatchSessions(os.Stdin, func(port string) {
		sessionsCounter.Inc(1)
		go spawnWorker(config, port)
	})
	if err != nil {
		log.Error("error reading session requests", "err", err)
		return 1
	}
	return 0
}

// dispatchSessions hands every session port to spawn until the input is
// exhausted or a bare newline arrives, which is what the controller's
// close writes. Workers are separate processes and outlive us, so a
// clean shutdown only stops new sessions from starting.
func dispatchSessions(input io.Reader, spawn func(port string)) error {
	reader := bufio.NewReader(input)
	for {
		line, err := reader.ReadString('\n')
		port := strings.TrimSpace(line)
		if port != "" {
			if _, malformed := strconv.Atoi(port); malformed != nil {
				return fmt.Errorf("malformed session port %q", port)
			}
			spawn(port)
		} else if err == nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// spawnWorker re-execs this binary to serve one session. The worker
// owns its outcome and reports failures to the controller over the
// session socket, so the dispatcher only logs them.
func spawnWorker(config *JitConfig, port string) {
	executable, err := os.Executable()
	if err != nil {
		log.Error("cannot find own executable to spawn a session worker", "err", err)
		return
	}
	args := []string{
		"--binary", config.Binary,
		"--session-port", port,
		"--log-level", strconv.Itoa(config.LogLevel),
		"--log-type", config.LogType,
	}
	if config.Cranelift {
		args = append(args, "--cranelift")
	}
	if config.MachineCachePath != "" {
		args = append(args, "--machine-cache-path", config.MachineCachePath)
	}
	worker := exec.Command(executable, args...)
	worker.Stdout = os.Stdout
	worker.Stderr = os.Stderr
	if err := worker.Run(); err != nil {
		log.Warn("session worker failed", "port", port, "err", err)
	}
}

func runSession(ctx context.Context, config *JitConfig) int {
	env, err := sessionEnv(config)
	if err != nil {
		log.Error("error preparing the session state", "err", err)
		return 1
	}
	mach, err := machine.New(ctx, &machine.Config{
		Binary:    config.Binary,
		CachePath: config.MachineCachePath,
		Cranelift: config.Cranelift,
	})
	if err != nil {
		log.Error("error loading the replay binary", "binary", config.Binary, "err", err)
		return 1
	}
	defer mach.Close(ctx)

	result, runErr := mach.Run(ctx, env)
	return reportOutcome(env, result, runErr)
}

// sessionEnv builds the host environment the replay binary will run
// against: a lazy one bootstrapping from the controller's port, or one
// preloaded from the state files given on the command line.
func sessionEnv(config *JitConfig) (*hostio.WasmEnv, error) {
	if config.SessionPort != 0 {
		return hostio.NewSessionEnv(fmt.Sprintf("127.0.0.1:%d", config.SessionPort)), nil
	}
	env := hostio.NewPreloadedEnv()
	env.SetGlobals(
		[]uint64{config.InboxPosition, config.PositionWithinMessage},
		[]common.Hash{common.HexToHash(config.LastBlockHash), common.HexToHash(config.LastSendRoot)},
	)
	if err := env.LoadSequencerMessageFiles(config.InboxPosition, config.Inbox...); err != nil {
		return nil, err
	}
	if err := env.LoadDelayedMessageFiles(config.DelayedInboxPosition, config.DelayedInbox...); err != nil {
		return nil, err
	}
	if config.Preimages != "" {
		if err := env.LoadPreimagesFile(config.Preimages); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func reportOutcome(env *hostio.WasmEnv, result *machine.RunResult, runErr error) int {
	state := finalState(env)
	var memoryUsed uint64
	if result != nil {
		memoryUsed = result.MemoryUsed
	}
	socket := env.Socket()
	if socket == nil {
		// no controller to tell, the session state came from files
		if runErr != nil {
			log.Error("error while replaying", "err", runErr)
			return 1
		}
		log.Info("validation succeeded", "batch", state.Batch, "posInBatch", state.PosInBatch,
			"blockHash", state.BlockHash, "sendRoot", state.SendRoot, "memoryUsed", memoryUsed)
		return 0
	}
	defer socket.Close()
	if err := writeOutcome(socket, state, memoryUsed, runErr); err != nil {
		log.Error("error reporting the session outcome", "err", err)
		return 1
	}
	if runErr != nil {
		log.Error("error while replaying", "err", runErr)
		return 1
	}
	return 0
}

// finalState reads back the globals the guest wrote.
func finalState(env *hostio.WasmEnv) validator.GoGlobalState {
	small, large := env.Globals()
	return validator.GoGlobalState{
		Batch:      small[0],
		PosInBatch: small[1],
		BlockHash:  large[0],
		SendRoot:   large[1],
	}
}

// writeOutcome reports the session verdict in the shape the controller
// reads: a success byte followed by the final global state and the peak
// memory size, or a failure byte followed by the error text.
func writeOutcome(conn io.Writer, state validator.GoGlobalState, memoryUsed uint64, runErr error) error {
	if runErr != nil {
		if err := socketio.WriteUint8(conn, failureByte); err != nil {
			return err
		}
		return socketio.WriteBytes(conn, []byte(runErr.Error()))
	}
	if err := socketio.WriteUint8(conn, successByte); err != nil {
		return err
	}
	if err := socketio.WriteUint64(conn, state.Batch); err != nil {
		return err
	}
	if err := socketio.WriteUint64(conn, state.PosInBatch); err != nil {
		return err
	}
	if err := socketio.WriteBytes32(conn, state.BlockHash); err != nil {
		return err
	}
	if err := socketio.WriteBytes32(conn, state.SendRoot); err != nil {
		return err
	}
	return socketio.WriteUint64(conn, memoryUsed)
}
