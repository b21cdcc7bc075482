// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

//go:build !js
// +build !js

package arbcompress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

func Decompress(input []byte, maxSize int) ([]byte, error) {
	reader := brotli.NewReader(bytes.NewReader(input))
	output, err := io.ReadAll(io.LimitReader(reader, int64(maxSize)+1))
	if err != nil {
		return nil, fmt.Errorf("failed decompression: %w", err)
	}
	if len(output) > maxSize {
		return nil, fmt.Errorf("result too large: %d", len(output))
	}
	return output, nil
}

func compressLevel(input []byte, level int) ([]byte, error) {
	output := bytes.NewBuffer(make([]byte, 0, compressedBufferSizeFor(len(input))))
	writer := brotli.NewWriterOptions(output, brotli.WriterOptions{
		Quality: level,
		LGWin:   WINDOW_SIZE,
	})
	if _, err := writer.Write(input); err != nil {
		return nil, fmt.Errorf("failed compression: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed compression: %w", err)
	}
	return output.Bytes(), nil
}
