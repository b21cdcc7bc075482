// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package server_api

import (
	"encoding/base64"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/gojit/validator"
)

// RedisStreamForRoot returns the name of the stream carrying validation
// requests for the given module root.
func RedisStreamForRoot(moduleRoot common.Hash) string {
	return fmt.Sprintf("stream:%s", moduleRoot.Hex())
}

type BatchInfoJson struct {
	Number  uint64
	DataB64 string
}

// ValidationInputJson is the wire form of a validation request. Byte
// payloads travel base64 encoded so the encoding is explicit instead of
// relying on how the json package treats byte slices.
type ValidationInputJson struct {
	Id            uint64
	HasDelayedMsg bool
	DelayedMsgNr  uint64
	PreimagesB64  map[common.Hash]string
	BatchInfo     []BatchInfoJson
	DelayedMsgB64 string
	StartState    validator.GoGlobalState
}

func ValidationInputToJson(entry *validator.ValidationInput) *ValidationInputJson {
	res := &ValidationInputJson{
		Id:            entry.Id,
		HasDelayedMsg: entry.HasDelayedMsg,
		DelayedMsgNr:  entry.DelayedMsgNr,
		DelayedMsgB64: base64.StdEncoding.EncodeToString(entry.DelayedMsg),
		StartState:    entry.StartState,
		PreimagesB64:  make(map[common.Hash]string),
	}
	for hash, data := range entry.Preimages {
		res.PreimagesB64[hash] = base64.StdEncoding.EncodeToString(data)
	}
	for _, binfo := range entry.BatchInfo {
		encData := base64.StdEncoding.EncodeToString(binfo.Data)
		res.BatchInfo = append(res.BatchInfo, BatchInfoJson{binfo.Number, encData})
	}
	return res
}

func ValidationInputFromJson(entry *ValidationInputJson) (*validator.ValidationInput, error) {
	valInput := &validator.ValidationInput{
		Id:            entry.Id,
		HasDelayedMsg: entry.HasDelayedMsg,
		DelayedMsgNr:  entry.DelayedMsgNr,
		StartState:    entry.StartState,
		Preimages:     make(map[common.Hash][]byte),
	}
	delayed, err := base64.StdEncoding.DecodeString(entry.DelayedMsgB64)
	if err != nil {
		return nil, err
	}
	valInput.DelayedMsg = delayed
	for hash, encData := range entry.PreimagesB64 {
		data, err := base64.StdEncoding.DecodeString(encData)
		if err != nil {
			return nil, err
		}
		valInput.Preimages[hash] = data
	}
	for _, binfo := range entry.BatchInfo {
		data, err := base64.StdEncoding.DecodeString(binfo.DataB64)
		if err != nil {
			return nil, err
		}
		decInfo := validator.BatchInfo{
			Number: binfo.Number,
			Data:   data,
		}
		valInput.BatchInfo = append(valInput.BatchInfo, decInfo)
	}
	return valInput, nil
}
