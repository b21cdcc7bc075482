// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package socketio implements the framing primitives both ends of a
// validation session socket share: big-endian u64s, raw 32-byte words,
// and u64-length-prefixed byte strings.
package socketio

import (
	"io"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/gojit/util/arbmath"
)

func ReadUint8(reader io.Reader) (uint8, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func ReadUint64(reader io.Reader) (uint64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return 0, err
	}
	return arbmath.BytesToUint(buf), nil
}

func ReadBytes32(reader io.Reader) (common.Hash, error) {
	var hash common.Hash
	if _, err := io.ReadFull(reader, hash[:]); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func ReadBytes(reader io.Reader) ([]byte, error) {
	length, err := ReadUint64(reader)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func WriteUint8(writer io.Writer, val uint8) error {
	_, err := writer.Write([]byte{val})
	return err
}

func WriteUint64(writer io.Writer, val uint64) error {
	_, err := writer.Write(arbmath.UintToBytes(val))
	return err
}

func WriteBytes32(writer io.Writer, hash common.Hash) error {
	_, err := writer.Write(hash[:])
	return err
}

func WriteBytes(writer io.Writer, data []byte) error {
	if err := WriteUint64(writer, uint64(len(data))); err != nil {
		return err
	}
	_, err := writer.Write(data)
	return err
}
