package redis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/gojit/util/redisutil"
	"github.com/offchainlabs/gojit/util/testhelpers"
	"github.com/offchainlabs/gojit/validator"
	"github.com/offchainlabs/gojit/validator/server_api"
)

// stubSpawner validates by hashing the first batch, and rejects inputs
// whose delayed message is poisoned.
type stubSpawner struct{}

func (s *stubSpawner) Execute(ctx context.Context, entry *validator.ValidationInput, _ common.Hash) (validator.GoGlobalState, error) {
	if string(entry.DelayedMsg) == "poison" {
		return validator.GoGlobalState{}, errors.New("the replay binary rejected the input")
	}
	var payload []byte
	if len(entry.BatchInfo) > 0 {
		payload = entry.BatchInfo[0].Data
	}
	return validator.GoGlobalState{
		Batch:     entry.StartState.Batch + 1,
		BlockHash: crypto.Keccak256Hash(payload),
		SendRoot:  entry.StartState.SendRoot,
	}, nil
}

func (s *stubSpawner) Name() string { return "stub" }

func (s *stubSpawner) Room() int { return 4 }

func (s *stubSpawner) Stop() {}

func TestRedisValidationRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	redisURL := redisutil.CreateTestRedis(ctx, t)
	moduleRoot := common.HexToHash("0xff01")

	clientConfig := TestValidationClientConfig
	clientConfig.RedisURL = redisURL
	client, err := NewValidationClient(&clientConfig)
	Require(t, err)
	Require(t, client.Start(ctx))
	Require(t, client.Initialize([]common.Hash{moduleRoot}))

	serverConfig := server_api.TestRedisValidationServerConfig
	serverConfig.RedisURL = redisURL
	serverConfig.ModuleRoots = []string{moduleRoot.Hex()}
	server, err := server_api.NewRedisValidationServer(&serverConfig, &stubSpawner{})
	Require(t, err)
	server.Start(ctx)

	execCtx, execCancel := context.WithTimeout(ctx, time.Minute)
	defer execCancel()

	entry := &validator.ValidationInput{
		Id:         1,
		StartState: validator.GoGlobalState{Batch: 4, SendRoot: common.HexToHash("0x22")},
		BatchInfo:  []validator.BatchInfo{{Number: 4, Data: []byte("payload")}},
		Preimages:  map[common.Hash][]byte{},
	}
	got, err := client.Execute(execCtx, entry, moduleRoot)
	Require(t, err)
	want := validator.GoGlobalState{
		Batch:     5,
		BlockHash: crypto.Keccak256Hash([]byte("payload")),
		SendRoot:  common.HexToHash("0x22"),
	}
	if got != want {
		Fail(t, "wrong state validated over redis", got, "want", want)
	}

	// the worker's failure must cross back as the promise's error
	poisoned := &validator.ValidationInput{
		Id:            2,
		HasDelayedMsg: true,
		DelayedMsgNr:  1,
		DelayedMsg:    []byte("poison"),
		StartState:    validator.GoGlobalState{Batch: 4},
		Preimages:     map[common.Hash][]byte{},
	}
	if _, err := client.Execute(execCtx, poisoned, moduleRoot); err == nil || !strings.Contains(err.Error(), "rejected the input") {
		Fail(t, "expected the spawner's failure, got", err)
	}

	// an unconfigured module root is refused without touching redis
	if _, err := client.Execute(execCtx, entry, common.HexToHash("0xbad")); err == nil {
		Fail(t, "unconfigured module root accepted")
	}

	client.Stop()
}

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}
