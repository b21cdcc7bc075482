// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
)

// LoadPreimagesFile ingests a preimage dump produced by a validator:
// little endian u64 lengths each followed by that many bytes of data,
// back to back until the end of the file.
func (env *WasmEnv) LoadPreimagesFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	reader := bufio.NewReader(file)
	lenBytes := make([]byte, 8)
	for {
		_, err := io.ReadFull(reader, lenBytes)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		data := make([]byte, binary.LittleEndian.Uint64(lenBytes))
		if _, err := io.ReadFull(reader, data); err != nil {
			return err
		}
		env.AddPreimage(data)
	}
}

// LoadSequencerMessageFiles installs one sequencer message per file at
// consecutive indices starting from position.
func (env *WasmEnv) LoadSequencerMessageFiles(position uint64, paths ...string) error {
	messages, err := readMessageFiles(paths)
	if err != nil {
		return err
	}
	env.PreloadSequencer(position, messages...)
	return nil
}

// LoadDelayedMessageFiles installs one delayed message per file at
// consecutive indices starting from position.
func (env *WasmEnv) LoadDelayedMessageFiles(position uint64, paths ...string) error {
	messages, err := readMessageFiles(paths)
	if err != nil {
		return err
	}
	env.PreloadDelayed(position, messages...)
	return nil
}

func readMessageFiles(paths []string) ([][]byte, error) {
	messages := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		messages = append(messages, data)
	}
	return messages, nil
}
