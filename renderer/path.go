// Copyright 2021 the piet-gpu Authors
// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"
	"unsafe"

	"honnef.co/go/piet/mem"
)

// Path is the per-path record produced by the upstream tiling stages.
type Path struct {
	_ structs.HostLayout

	// Bounding box in tile coordinates: x0, y0, x1, y1. x1 and y1 are
	// exclusive.
	Bbox [4]uint32
	// Arena offset of the path's tile records, laid out row-major
	// over the bounding box.
	Tiles uint32
	_     [3]uint32
}

// Tile is the per-(path, tile) record consumed by both rasterizer
// stages.
type Tile struct {
	_ structs.HostLayout

	// Arena offset of the first segment of the tile's segment list,
	// or 0 if the list is empty.
	Segs uint32
	// Winding number contribution of everything left of and above
	// this tile.
	Backdrop int32
}

// TileSeg is one entry of a tile's segment list. Coordinates are
// relative to the tile's top-left corner.
type TileSeg struct {
	_ structs.HostLayout

	// Start point of the segment.
	Origin [2]float32
	// Vector from start to end point.
	Vector [2]float32
	// Y coordinate at which the segment crosses the tile's left edge,
	// or 1e9 if it doesn't. Compensates winding for segments clipped
	// to the tile.
	YEdge float32
	// Arena offset of the next segment, or 0 at the end of the list.
	Next uint32
}

// BinHeader describes one (partition, bin) run of element indices
// produced by the binning stage.
type BinHeader struct {
	_ structs.HostLayout

	// Number of element indices in the run.
	ElementCount uint32
	// Arena offset of the run.
	ChunkOffset uint32
}

// Record sizes in words.
const (
	PathWords      = uint32(unsafe.Sizeof(Path{}) / 4)
	TileWords      = uint32(unsafe.Sizeof(Tile{}) / 4)
	TileSegWords   = uint32(unsafe.Sizeof(TileSeg{}) / 4)
	BinHeaderWords = uint32(unsafe.Sizeof(BinHeader{}) / 4)
)

// PathRef returns the arena offset of path ix.
func PathRef(config *ConfigUniform, ix uint32) uint32 {
	return config.PathAlloc.Offset + ix*PathWords
}

// ReadPath returns path ix.
func ReadPath(m *mem.Memory, config *ConfigUniform, ix uint32) Path {
	return mem.Read[Path](m, PathRef(config, ix))
}

// WritePath stores path ix.
func WritePath(m *mem.Memory, config *ConfigUniform, ix uint32, p Path) {
	mem.Write(m, PathRef(config, ix), p)
}

// TileRef returns the arena offset of the path's tile record for the
// tile at (x, y) in tile coordinates. The tile must lie within the
// path's bounding box.
func (p *Path) TileRef(x, y uint32) uint32 {
	stride := p.Bbox[2] - p.Bbox[0]
	return p.Tiles + ((y-p.Bbox[1])*stride+(x-p.Bbox[0]))*TileWords
}

// BinHeaderRef returns the arena offset of the header for the given
// partition and bin.
func BinHeaderRef(config *ConfigUniform, partition, bin uint32) uint32 {
	return config.BinAlloc.Offset + (partition*config.NumBins()+bin)*BinHeaderWords
}
