// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

//go:build js
// +build js

package arbcompress

import "fmt"

// Implemented by the host. A negative return means the operation
// failed, otherwise it is the number of bytes written to outBuf.

func brotliCompress(inBuf []byte, outBuf []byte, level, windowSize uint64) int64

func brotliDecompress(inBuf []byte, outBuf []byte) int64

func Decompress(input []byte, maxSize int) ([]byte, error) {
	outBuf := make([]byte, maxSize)
	written := brotliDecompress(input, outBuf)
	if written < 0 {
		return nil, fmt.Errorf("failed decompression")
	}
	return outBuf[:written], nil
}

func compressLevel(input []byte, level int) ([]byte, error) {
	outBuf := make([]byte, compressedBufferSizeFor(len(input)))
	written := brotliCompress(input, outBuf, uint64(level), WINDOW_SIZE)
	if written < 0 {
		return nil, fmt.Errorf("failed compression")
	}
	return outBuf[:written], nil
}
