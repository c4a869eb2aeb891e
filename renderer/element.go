// Copyright 2021 the piet-gpu Authors
// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"

	"honnef.co/go/piet/mem"
)

// ElementTag identifies the kind of an annotated element. The order of
// elements in the element stream is the paint order.
type ElementTag uint32

const (
	// No operation; the element stream may be padded with these.
	ElementNop ElementTag = iota
	// Solid color fill of a path.
	ElementFill
	// Image fill of a path.
	ElementFillImage
	// Stroke of a path with a solid color.
	ElementStroke
	// Push a clip layer bounded by a path.
	ElementBeginClip
	// Pop the matching clip layer.
	ElementEndClip
)

// Words per annotated element record: one tag word and up to three
// payload words.
const ElementWords = 4

// FillElement is the payload of ElementFill.
type FillElement struct {
	_ structs.HostLayout

	// Index of the filled path.
	PathIdx uint32
	// Fill color, packed as 0xRRGGBBAA.
	RGBA uint32
}

// FillImageElement is the payload of ElementFillImage.
type FillImageElement struct {
	_ structs.HostLayout

	// Index of the filled path.
	PathIdx uint32
	// Index of the image in the atlas.
	Index uint32
	// Translation of the image relative to the target, packed as two
	// signed 16-bit values.
	Offset uint32
}

// StrokeElement is the payload of ElementStroke.
type StrokeElement struct {
	_ structs.HostLayout

	// Index of the stroked path.
	PathIdx uint32
	// Half the line width, in pixels.
	HalfWidth float32
	// Stroke color, packed as 0xRRGGBBAA.
	RGBA uint32
}

// BeginClipElement is the payload of ElementBeginClip.
type BeginClipElement struct {
	_ structs.HostLayout

	// Index of the clip path.
	PathIdx uint32
	// Opacity the matching EndClip composites with. Tiles fully
	// covered by the clip can skip the layer entirely, but only when
	// it is opaque.
	Alpha float32
}

// EndClipElement is the payload of ElementEndClip. It references the
// same path as the matching BeginClipElement.
type EndClipElement struct {
	_ structs.HostLayout

	// Index of the clip path.
	PathIdx uint32
	// Opacity applied to the layer when it is composited.
	Alpha float32
}

// ElementRef returns the arena offset of element ix's tag word.
func ElementRef(config *ConfigUniform, ix uint32) uint32 {
	return config.ElementAlloc.Offset + ix*ElementWords
}

// ReadElementTag returns the tag of element ix.
func ReadElementTag(m *mem.Memory, config *ConfigUniform, ix uint32) ElementTag {
	return ElementTag(m.Load(ElementRef(config, ix)))
}

// WriteElement stores element ix with the given tag and payload.
func WriteElement[T any](m *mem.Memory, config *ConfigUniform, ix uint32, tag ElementTag, payload T) {
	ref := ElementRef(config, ix)
	m.Store(ref, uint32(tag))
	mem.Write(m, ref+1, payload)
}

// ReadElement returns the payload of element ix. The caller has
// already dispatched on the tag.
func ReadElement[T any](m *mem.Memory, config *ConfigUniform, ix uint32) T {
	return mem.Read[T](m, ElementRef(config, ix)+1)
}

// PackOffset packs a signed 16-bit translation into one word.
func PackOffset(x, y int32) uint32 {
	return uint32(x)&0xffff | uint32(y)<<16
}

// UnpackOffset unpacks a translation packed by PackOffset.
func UnpackOffset(packed uint32) (int32, int32) {
	x := int32(int16(packed & 0xffff))
	y := int32(int16(packed >> 16))
	return x, y
}

// ElementPathIdx returns the path index referenced by element ix, or
// false if the element has no path (Nop).
func ElementPathIdx(m *mem.Memory, config *ConfigUniform, ix uint32) (uint32, bool) {
	switch ReadElementTag(m, config, ix) {
	case ElementFill, ElementFillImage, ElementStroke, ElementBeginClip, ElementEndClip:
		// The path index is the first payload word of every element
		// that has one.
		return m.Load(ElementRef(config, ix) + 1), true
	default:
		return 0, false
	}
}
