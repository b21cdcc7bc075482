//
// Copyright 2021, Offchain Labs, Inc. All rights reserved.
//

package wavmio

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// Native builds must get only the stub declarations; the real
// implementations are js-only and would otherwise collide with them.
func TestStubsOffWavmPlatform(t *testing.T) {
	if GetLastBlockHash() != (common.Hash{}) {
		t.Fatal("stub returned a block hash off the wavm platform")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("mutating host state off the wavm platform must panic")
		}
	}()
	AdvanceInboxMessage()
}
