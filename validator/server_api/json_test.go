package server_api

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"

	"github.com/offchainlabs/gojit/util/testhelpers"
	"github.com/offchainlabs/gojit/validator"
)

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func sampleValidationInput(t *testing.T) *validator.ValidationInput {
	t.Helper()
	prand := testhelpers.NewPseudoRandomDataSource(t, 0)
	return &validator.ValidationInput{
		Id:            7,
		HasDelayedMsg: true,
		DelayedMsgNr:  42,
		Preimages: map[common.Hash][]byte{
			prand.GetHash(): prand.GetData(48),
			prand.GetHash(): prand.GetData(97),
		},
		BatchInfo: []validator.BatchInfo{
			{Number: 12, Data: prand.GetData(256)},
			{Number: 13, Data: []byte{}},
		},
		DelayedMsg: prand.GetData(64),
		StartState: validator.GoGlobalState{
			BlockHash:  prand.GetHash(),
			SendRoot:   prand.GetHash(),
			Batch:      12,
			PosInBatch: 3,
		},
	}
}

func TestValidationInputJsonRoundTrip(t *testing.T) {
	entry := sampleValidationInput(t)
	marshaled, err := json.Marshal(ValidationInputToJson(entry))
	Require(t, err)

	var wire ValidationInputJson
	Require(t, json.Unmarshal(marshaled, &wire))
	decoded, err := ValidationInputFromJson(&wire)
	Require(t, err)
	if diff := cmp.Diff(entry, decoded); diff != "" {
		t.Errorf("Unexpected diff (-want +got):\n%s\n", diff)
	}
}

func TestValidationInputFromJsonRejectsBadData(t *testing.T) {
	break64 := func(corrupt func(wire *ValidationInputJson)) error {
		wire := ValidationInputToJson(sampleValidationInput(t))
		corrupt(wire)
		_, err := ValidationInputFromJson(wire)
		return err
	}
	if err := break64(func(wire *ValidationInputJson) {
		wire.DelayedMsgB64 = "}{ not base64"
	}); err == nil {
		t.Error("undecodable delayed message accepted")
	}
	if err := break64(func(wire *ValidationInputJson) {
		wire.BatchInfo[0].DataB64 = "}{ not base64"
	}); err == nil {
		t.Error("undecodable batch accepted")
	}
	if err := break64(func(wire *ValidationInputJson) {
		wire.PreimagesB64[common.Hash{1}] = "}{ not base64"
	}); err == nil {
		t.Error("undecodable preimage accepted")
	}
}
