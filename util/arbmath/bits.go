// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package arbmath

import (
	"encoding/binary"
)

// UintToBytes casts a uint64 to its big-endian representation
func UintToBytes(value uint64) []byte {
	result := make([]byte, 8)
	binary.BigEndian.PutUint64(result, value)
	return result
}

// Uint32ToBytes casts a uint32 to its big-endian representation
func Uint32ToBytes(value uint32) []byte {
	result := make([]byte, 4)
	binary.BigEndian.PutUint32(result, value)
	return result
}

// BytesToUint creates a uint64 from its big-endian representation
func BytesToUint(value []byte) uint64 {
	return binary.BigEndian.Uint64(value)
}

// BytesToUint32 creates a uint32 from its big-endian representation
func BytesToUint32(value []byte) uint32 {
	return binary.BigEndian.Uint32(value)
}
