// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package validator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type ValidationSpawner interface {
	Execute(ctx context.Context, entry *ValidationInput, moduleRoot common.Hash) (GoGlobalState, error)
	Name() string
	// Room is a static bound on concurrent sessions, used by callers to
	// size their dispatch.
	Room() int
	Stop()
}
