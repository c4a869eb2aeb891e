// Copyright 2021 the piet-gpu Authors
// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"

	"honnef.co/go/piet/mem"
)

// CmdTag identifies a command in a tile's command list.
type CmdTag uint32

const (
	// End of the command list.
	CmdEnd CmdTag = iota
	// Fill with partial coverage; walks a segment list.
	CmdFill
	// Image fill with partial coverage; walks a segment list.
	CmdFillImage
	// Stroke; walks a segment list.
	CmdStroke
	// Fill with full coverage.
	CmdSolid
	// Image fill with full coverage.
	CmdSolidImage
	// Push a clip layer with partial coverage.
	CmdBeginClip
	// Push a clip layer with full coverage.
	CmdBeginSolidClip
	// Pop the top clip layer and composite it.
	CmdEndClip
	// Continue the command list at another arena offset.
	CmdJump
)

// Words per command slot: one tag word and up to four payload words.
// Commands are written at fixed stride so the interpreter can step
// without decoding lengths.
const CmdWords = 5

// CmdFillData is the payload of CmdFill.
type CmdFillData struct {
	_ structs.HostLayout

	// Arena offset of the first segment.
	Segs uint32
	// Winding number at the tile's top-left corner.
	Backdrop int32
	// Fill color, packed as 0xRRGGBBAA.
	RGBA uint32
}

// CmdFillImageData is the payload of CmdFillImage.
type CmdFillImageData struct {
	_ structs.HostLayout

	// Arena offset of the first segment.
	Segs uint32
	// Winding number at the tile's top-left corner.
	Backdrop int32
	// Index of the image in the atlas.
	Index uint32
	// Image translation, packed as two signed 16-bit values.
	Offset uint32
}

// CmdStrokeData is the payload of CmdStroke.
type CmdStrokeData struct {
	_ structs.HostLayout

	// Arena offset of the first segment.
	Segs uint32
	// Half the line width, in pixels.
	HalfWidth float32
	// Stroke color, packed as 0xRRGGBBAA.
	RGBA uint32
}

// CmdSolidData is the payload of CmdSolid.
type CmdSolidData struct {
	_ structs.HostLayout

	// Fill color, packed as 0xRRGGBBAA.
	RGBA uint32
}

// CmdSolidImageData is the payload of CmdSolidImage.
type CmdSolidImageData struct {
	_ structs.HostLayout

	// Index of the image in the atlas.
	Index uint32
	// Image translation, packed as two signed 16-bit values.
	Offset uint32
}

// CmdBeginClipData is the payload of CmdBeginClip.
type CmdBeginClipData struct {
	_ structs.HostLayout

	// Arena offset of the first segment of the clip path.
	Segs uint32
	// Winding number at the tile's top-left corner.
	Backdrop int32
}

// CmdBeginSolidClipData is the payload of CmdBeginSolidClip.
type CmdBeginSolidClipData struct {
	_ structs.HostLayout

	// Uniform coverage of the clip over this tile.
	Alpha float32
}

// CmdEndClipData is the payload of CmdEndClip.
type CmdEndClipData struct {
	_ structs.HostLayout

	// Opacity applied to the layer when it is composited.
	Alpha float32
}

// CmdJumpData is the payload of CmdJump.
type CmdJumpData struct {
	_ structs.HostLayout

	// Arena offset at which the command list continues.
	New uint32
}

// ReadCmdTag returns the tag of the command at ref.
func ReadCmdTag(m *mem.Memory, ref uint32) CmdTag {
	return CmdTag(m.Load(ref))
}

// WriteCmd stores a command with payload at ref.
func WriteCmd[T any](m *mem.Memory, ref uint32, tag CmdTag, payload T) {
	m.Store(ref, uint32(tag))
	mem.Write(m, ref+1, payload)
}

// ReadCmd returns the payload of the command at ref.
func ReadCmd[T any](m *mem.Memory, ref uint32) T {
	return mem.Read[T](m, ref+1)
}
