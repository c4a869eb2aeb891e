// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package mem implements the shared memory arena that the rasterization
// stages allocate from.
//
// The arena is a single slab of 32-bit words with a bump allocator on
// top. All cross-stage references (tile segment lists, per-tile command
// list pages, clip stack spill frames) are word offsets into this slab.
// Offset 0 is reserved and never handed out, so it can serve as the nil
// reference.
//
// Allocation can be called concurrently from any number of kernel
// threads. When the arena is exhausted, a sticky failure flag is set;
// once it is set, all further allocations fail and the rasterization
// stages abandon their work. The flag stays set until Reset.
package mem

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"honnef.co/go/safeish"
)

// ErrExhausted is reported by the renderer when the arena ran out of
// space during a frame.
var ErrExhausted = errors.New("mem: arena exhausted")

// An Alloc describes a range of words in the arena.
type Alloc struct {
	// Offset of the first word, in words.
	Offset uint32
	// Size of the range, in words.
	Size uint32
}

// Memory is a word-addressed bump arena shared by all stages of a
// render. The zero value is not usable; use New.
type Memory struct {
	words  []uint32
	cursor atomic.Uint32
	failed atomic.Bool
}

// New returns an arena with capacity for size words. Word 0 is
// reserved so that offset 0 can act as the nil reference.
func New(size uint32) *Memory {
	m := &Memory{
		words: make([]uint32, size),
	}
	m.cursor.Store(1)
	return m
}

// Malloc allocates size words and returns their range. The second
// return value is false if the arena is exhausted; in that case the
// arena enters the failed state and all subsequent allocations fail,
// too.
//
// Malloc is safe for concurrent use.
func (m *Memory) Malloc(size uint32) (Alloc, bool) {
	if m.failed.Load() {
		return Alloc{}, false
	}
	offset := m.cursor.Add(size) - size
	if uint64(offset)+uint64(size) > uint64(len(m.words)) {
		// Only the first failing allocation flips the flag. The
		// cursor is left past the end; Reset rewinds it.
		m.failed.CompareAndSwap(false, true)
		return Alloc{}, false
	}
	return Alloc{Offset: offset, Size: size}, true
}

// Failed reports whether any allocation has failed since the last
// Reset. Kernel threads poll this to abandon work early rather than
// write through stale references.
func (m *Memory) Failed() bool {
	return m.failed.Load()
}

// Reset rewinds the arena and clears the failure flag. It must not be
// called concurrently with any other method.
func (m *Memory) Reset() {
	clear(m.words[:min(uint64(m.cursor.Load()), uint64(len(m.words)))])
	m.cursor.Store(1)
	m.failed.Store(false)
}

// Grow resizes the arena to capacity words, preserving nothing. It
// implies a Reset.
func (m *Memory) Grow(size uint32) {
	if uint64(size) > uint64(len(m.words)) {
		m.words = make([]uint32, size)
	}
	m.Reset()
}

// Size returns the arena's capacity in words.
func (m *Memory) Size() uint32 {
	return uint32(len(m.words))
}

// Words returns the backing slab. Callers index it with absolute word
// offsets.
func (m *Memory) Words() []uint32 {
	return m.words
}

// Load returns the word at offset.
func (m *Memory) Load(offset uint32) uint32 {
	return m.words[offset]
}

// Store sets the word at offset.
func (m *Memory) Store(offset, value uint32) {
	m.words[offset] = value
}

// LoadAtomic atomically loads the word at offset.
func (m *Memory) LoadAtomic(offset uint32) uint32 {
	return atomic.LoadUint32(&m.words[offset])
}

// StoreAtomic atomically stores value at offset.
func (m *Memory) StoreAtomic(offset, value uint32) {
	atomic.StoreUint32(&m.words[offset], value)
}

// AddAtomic atomically adds delta to the word at offset and returns
// the new value.
func (m *Memory) AddAtomic(offset uint32, delta uint32) uint32 {
	return atomic.AddUint32(&m.words[offset], delta)
}

// OrAtomic atomically ORs bits into the word at offset.
func (m *Memory) OrAtomic(offset, bits uint32) {
	atomic.OrUint32(&m.words[offset], bits)
}

// Read copies the record of type T stored at the given word offset.
// T must consist of 32-bit fields only.
func Read[T any](m *Memory, offset uint32) T {
	return *safeish.Cast[*T](&m.words[offset])
}

// Write stores the record of type T at the given word offset.
func Write[T any](m *Memory, offset uint32, v T) {
	*safeish.Cast[*T](&m.words[offset]) = v
}

// View returns the records of type T stored in the n-record run
// starting at the given word offset.
func View[T any](m *Memory, offset, n uint32) []T {
	var zero T
	sz := uint32(unsafe.Sizeof(zero) / 4)
	return safeish.SliceCast[[]T](m.words[offset : offset+n*sz])
}
