// Copyright 2021 the piet-gpu Authors
// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"

	"honnef.co/go/piet/jmath"
	"honnef.co/go/piet/mem"
)

const (
	// Dimensions of a tile in pixels.
	TileWidth  = 16
	TileHeight = 16

	// Dimensions of a bin in tiles. The coarse rasterizer launches one
	// thread group per bin.
	NTileX = 16
	NTileY = 16
	// Tiles (and coarse threads) per bin.
	NTile = NTileX * NTileY
	// Words in the coarse bitmask, one bit per tile in the bin.
	NSlice = NTile / 32

	// Elements per binning partition.
	NPartition = NTile

	// Words in the initial per-tile command list allocation. Further
	// pages are PtclIncrement words and linked with jump commands.
	PtclInitialAlloc = 64
	PtclIncrement    = 256

	// Sub-rows of a tile owned by one fine rasterizer thread.
	Chunk = 8
	// Threads in a fine rasterizer group.
	FineWidth   = TileWidth
	FineHeight  = TileHeight / Chunk
	FineThreads = FineWidth * FineHeight

	// Depth of the fine rasterizer's in-register clip stack. Deeper
	// nesting spills to arena frames.
	ClipStackDepth = 4
)

// ConfigUniform is the render configuration shared by all stages of a
// render. It is fixed for the duration of a render; everything mutable
// lives in the arena regions it points at.
type ConfigUniform struct {
	_ structs.HostLayout

	// Width of the scene in tiles.
	WidthInTiles uint32
	// Height of the scene in tiles.
	HeightInTiles uint32
	// Width of the target in pixels.
	TargetWidth uint32
	// Height of the target in pixels.
	TargetHeight uint32
	// The background color applied before the first command, packed
	// as 0xRRGGBBAA.
	BaseColor uint32
	// Number of annotated elements in the scene.
	NumElements uint32
	// Annotated element stream.
	ElementAlloc mem.Alloc
	// Per-path metadata records.
	PathAlloc mem.Alloc
	// Per-tile records, grouped by path.
	TileAlloc mem.Alloc
	// Bin headers written by the binning stage.
	BinAlloc mem.Alloc
	// Static region of the per-tile command lists; each tile owns
	// PtclInitialAlloc words.
	PtclAlloc mem.Alloc
}

// WidthInBins returns the number of bins per row.
func (c *ConfigUniform) WidthInBins() uint32 {
	return (c.WidthInTiles + NTileX - 1) / NTileX
}

// HeightInBins returns the number of bin rows.
func (c *ConfigUniform) HeightInBins() uint32 {
	return (c.HeightInTiles + NTileY - 1) / NTileY
}

// NumBins returns the total number of bins, which is also the number
// of thread groups the coarse rasterizer launches.
func (c *ConfigUniform) NumBins() uint32 {
	return c.WidthInBins() * c.HeightInBins()
}

// NumPartitions returns the number of element partitions the binning
// stage produces.
func (c *ConfigUniform) NumPartitions() uint32 {
	return (c.NumElements + NPartition - 1) / NPartition
}

// PtclBase returns the arena offset of the static command list region
// of the given tile.
func (c *ConfigUniform) PtclBase(tileX, tileY uint32) uint32 {
	return c.PtclAlloc.Offset + (tileY*c.WidthInTiles+tileX)*PtclInitialAlloc
}

// TilesForSize returns the viewport size in tiles for a target of the
// given pixel size.
func TilesForSize(width, height uint32) (uint32, uint32) {
	w := jmath.NextMultipleOf(width, TileWidth) / TileWidth
	h := jmath.NextMultipleOf(height, TileHeight) / TileHeight
	return w, h
}
