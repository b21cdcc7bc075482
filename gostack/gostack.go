// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package gostack decodes the call frames go's js/wasm ABI hands to host
// functions. Arguments and results are 8-byte little-endian words laid out
// at sp+8, sp+16, and so on. Slices occupy three consecutive words
// (pointer, length, capacity).
package gostack

import (
	"encoding/binary"
	"fmt"
)

// Memory is bounds-checked access to guest linear memory. The engine
// adapter implements it; hosts never touch guest memory another way.
type Memory interface {
	Size() uint64
	Read(offset, count uint64) ([]byte, bool)
	Write(offset uint64, data []byte) bool
}

type Stack struct {
	sp    uint64
	slots uint64
	mem   Memory
}

// NewStack proves the whole argument frame lies within guest memory, so
// that slot reads and writes thereafter cannot fault.
func NewStack(sp uint32, slots uint64, mem Memory) (*Stack, error) {
	frame := &Stack{
		sp:    uint64(sp),
		slots: slots,
		mem:   mem,
	}
	end := frame.sp + 8 + 8*slots
	if end < frame.sp || end > mem.Size() {
		return nil, fmt.Errorf("go stack frame out of bounds: sp %v with %v slots", sp, slots)
	}
	return frame, nil
}

func (s *Stack) slotOffset(slot uint64) uint64 {
	if slot >= s.slots {
		panic(fmt.Sprintf("read of go stack slot %v beyond frame of %v", slot, s.slots))
	}
	return s.sp + 8 + 8*slot
}

// ReadU64 returns the argument word at the given slot.
func (s *Stack) ReadU64(slot uint64) uint64 {
	data, ok := s.mem.Read(s.slotOffset(slot), 8)
	if !ok {
		panic("validated go stack frame became unreadable")
	}
	return binary.LittleEndian.Uint64(data)
}

// WriteU64 sets the result word at the given slot.
func (s *Stack) WriteU64(slot uint64, val uint64) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, val)
	if !s.mem.Write(s.slotOffset(slot), data) {
		panic("validated go stack frame became unwritable")
	}
}

// ReadU32 returns the low four bytes of a slot. 32-bit arguments only
// occupy that much of their word, the rest is stack residue.
func (s *Stack) ReadU32(slot uint64) uint32 {
	data, ok := s.mem.Read(s.slotOffset(slot), 4)
	if !ok {
		panic("validated go stack frame became unreadable")
	}
	return binary.LittleEndian.Uint32(data)
}

// WriteU32 sets the low four bytes of a slot, leaving the rest alone.
func (s *Stack) WriteU32(slot uint64, val uint32) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, val)
	if !s.mem.Write(s.slotOffset(slot), data) {
		panic("validated go stack frame became unwritable")
	}
}

// WriteU8 sets the first byte of a slot, for boolean results.
func (s *Stack) WriteU8(slot uint64, val uint8) {
	if !s.mem.Write(s.slotOffset(slot), []byte{val}) {
		panic("validated go stack frame became unwritable")
	}
}

// ReadSlice copies length bytes of guest memory starting at ptr.
func (s *Stack) ReadSlice(ptr, length uint64) ([]byte, error) {
	data, ok := s.mem.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("guest memory read out of bounds: ptr %v len %v", ptr, length)
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

// WriteSlice copies data into guest memory at ptr.
func (s *Stack) WriteSlice(ptr uint64, data []byte) error {
	if !s.mem.Write(ptr, data) {
		return fmt.Errorf("guest memory write out of bounds: ptr %v len %v", ptr, len(data))
	}
	return nil
}

// MemorySize is the current size of guest memory in bytes.
func (s *Stack) MemorySize() uint64 {
	return s.mem.Size()
}
