// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package piet

import (
	"honnef.co/go/piet/jmath"
	"honnef.co/go/piet/mem"
	"honnef.co/go/piet/renderer"
)

// The tiler is the host-side producer of the per-path tables the
// rasterizer stages consume: a Path record per path, a Tile record per
// covered tile, and per-tile segment lists. Fills and clips get their
// segments clipped to each tile, with the winding carried across tile
// boundaries split between backdrop deltas (horizontal crossings,
// prefix-summed per row) and YEdge markers (left edge crossings).
// Strokes keep their segments unclipped since the distance field of a
// segment reaches into neighboring tiles.

const tileEpsilon = 1e-6

// tilePaths builds the tables for all scene paths and records the tile
// region in config.TileAlloc. It reports false when the arena is
// exhausted.
func tilePaths(m *mem.Memory, config *renderer.ConfigUniform, paths []scenePath) bool {
	// All tile grids are allocated up front so they form a single
	// contiguous region; the segment lists follow behind it.
	total := uint32(0)
	for ix, p := range paths {
		bbox := pathTileBbox(config, p)
		n := (bbox[2] - bbox[0]) * (bbox[3] - bbox[1]) * renderer.TileWords
		path := renderer.Path{Bbox: bbox}
		if n > 0 {
			tiles, ok := m.Malloc(n)
			if !ok {
				return false
			}
			path.Tiles = tiles.Offset
			if total == 0 {
				config.TileAlloc.Offset = tiles.Offset
			}
			total += n
		}
		renderer.WritePath(m, config, uint32(ix), path)
	}
	config.TileAlloc.Size = total

	for ix, p := range paths {
		if !tilePath(m, config, uint32(ix), p) {
			return false
		}
	}
	return true
}

func tilePath(m *mem.Memory, config *renderer.ConfigUniform, ix uint32, p scenePath) bool {
	path := renderer.ReadPath(m, config, ix)
	if path.Bbox[2] == path.Bbox[0] || path.Bbox[3] == path.Bbox[1] {
		return true
	}

	for _, line := range p.lines {
		x0 := float32(line.P0.X)
		y0 := float32(line.P0.Y)
		x1 := float32(line.P1.X)
		y1 := float32(line.P1.Y)
		if p.stroke {
			if !binStrokeSegment(m, &path, x0, y0, x1, y1, p.expand) {
				return false
			}
			continue
		}
		if x0 == x1 && y0 == y1 {
			continue
		}
		if y0 != y1 {
			// Horizontal segments cross no horizontal boundaries.
			addBackdropDeltas(m, &path, x0, y0, x1, y1)
		}
		if !binFillSegment(m, &path, x0, y0, x1, y1) {
			return false
		}
	}

	if !p.stroke {
		sumBackdrops(m, &path)
	}
	return true
}

// pathTileBbox returns the path's bounding box in tile coordinates,
// clamped to the tile grid.
func pathTileBbox(config *renderer.ConfigUniform, p scenePath) [4]uint32 {
	if len(p.lines) == 0 {
		return [4]uint32{}
	}
	minX := float32(p.lines[0].P0.X)
	minY := float32(p.lines[0].P0.Y)
	maxX, maxY := minX, minY
	for _, l := range p.lines {
		for _, pt := range [2][2]float32{
			{float32(l.P0.X), float32(l.P0.Y)},
			{float32(l.P1.X), float32(l.P1.Y)},
		} {
			minX = min(minX, pt[0])
			minY = min(minY, pt[1])
			maxX = max(maxX, pt[0])
			maxY = max(maxY, pt[1])
		}
	}
	minX -= p.expand
	minY -= p.expand
	maxX += p.expand
	maxY += p.expand
	x0 := jmath.Clamp(int32(jmath.Floor32(minX/renderer.TileWidth)), 0, int32(config.WidthInTiles))
	y0 := jmath.Clamp(int32(jmath.Floor32(minY/renderer.TileHeight)), 0, int32(config.HeightInTiles))
	x1 := jmath.Clamp(int32(jmath.Floor32(maxX/renderer.TileWidth))+1, 0, int32(config.WidthInTiles))
	y1 := jmath.Clamp(int32(jmath.Floor32(maxY/renderer.TileHeight))+1, 0, int32(config.HeightInTiles))
	if x0 >= x1 || y0 >= y1 {
		return [4]uint32{}
	}
	return [4]uint32{uint32(x0), uint32(y0), uint32(x1), uint32(y1)}
}

// addBackdropDeltas records one winding delta per horizontal tile
// boundary the segment crosses, placed in the tile right of the
// crossing. A later per-row prefix sum turns the deltas into the
// winding number at each tile's top left corner.
func addBackdropDeltas(m *mem.Memory, path *renderer.Path, x0, y0, x1, y1 float32) {
	isDown := y1 >= y0
	delta := int32(1)
	if isDown {
		delta = -1
	}
	ya := min(y0, y1)
	yb := max(y0, y1)

	row := int32(jmath.Ceil32(ya / renderer.TileHeight))
	for ; float32(row)*renderer.TileHeight < yb; row++ {
		// Crossings are counted half-open in y so that shared
		// endpoints of consecutive segments count exactly once.
		yc := float32(row) * renderer.TileHeight
		if yc < ya {
			continue
		}
		if row < int32(path.Bbox[1]) || row >= int32(path.Bbox[3]) {
			continue
		}
		xc := x0 + (x1-x0)*(yc-y0)/(y1-y0)
		col := int32(jmath.Floor32(xc/renderer.TileWidth)) + 1
		if col >= int32(path.Bbox[2]) {
			continue
		}
		col = max(col, int32(path.Bbox[0]))
		ref := path.TileRef(uint32(col), uint32(row))
		tile := mem.Read[renderer.Tile](m, ref)
		tile.Backdrop += delta
		mem.Write(m, ref, tile)
	}
}

// binFillSegment clips the segment against every tile it passes
// through and appends the pieces to the tiles' segment lists.
func binFillSegment(m *mem.Memory, path *renderer.Path, x0, y0, x1, y1 float32) bool {
	if y0 == y1 {
		return binHorizontalFill(m, path, x0, x1, y0)
	}
	// Work on the downward-ordered segment; the original direction is
	// restored when the piece is stored.
	isDown := y1 >= y0
	ax0, ay0, ax1, ay1 := x0, y0, x1, y1
	if !isDown {
		ax0, ay0, ax1, ay1 = x1, y1, x0, y0
	}

	rowStart := max(int32(jmath.Floor32(ay0/renderer.TileHeight)), int32(path.Bbox[1]))
	for row := rowStart; row < int32(path.Bbox[3]); row++ {
		rowTop := float32(row) * renderer.TileHeight
		if rowTop >= ay1 {
			break
		}
		rowBot := rowTop + renderer.TileHeight
		ys := max(ay0, rowTop)
		ye := min(ay1, rowBot)
		if ys >= ye {
			continue
		}
		// X extent of the row-clipped piece.
		ts := (ys - ay0) / (ay1 - ay0)
		te := (ye - ay0) / (ay1 - ay0)
		xs := ax0 + (ax1-ax0)*ts
		xe := ax0 + (ax1-ax0)*te

		cmin := max(int32(jmath.Floor32(min(xs, xe)/renderer.TileWidth)), int32(path.Bbox[0]))
		cmax := min(int32(jmath.Floor32(max(xs, xe)/renderer.TileWidth)), int32(path.Bbox[2])-1)
		for col := cmin; col <= cmax; col++ {
			colL := float32(col) * renderer.TileWidth
			colR := colL + renderer.TileWidth

			// Clip the piece to the column.
			t0, t1 := float32(0), float32(1)
			if xs != xe {
				tl := (colL - xs) / (xe - xs)
				tr := (colR - xs) / (xe - xs)
				t0 = max(0, min(tl, tr))
				t1 = min(1, max(tl, tr))
				if t0 >= t1 {
					continue
				}
			}
			px0 := jmath.Clamp(xs+(xe-xs)*t0, colL, colR)
			py0 := jmath.Clamp(ys+(ye-ys)*t0, rowTop, rowBot)
			px1 := jmath.Clamp(xs+(xe-xs)*t1, colL, colR)
			py1 := jmath.Clamp(ys+(ye-ys)*t1, rowTop, rowBot)

			rx0 := px0 - colL
			ry0 := py0 - rowTop
			rx1 := px1 - colL
			ry1 := py1 - rowTop
			if !binTilePiece(m, path, uint32(col), uint32(row), rx0, ry0, rx1, ry1, !isDown) {
				return false
			}
		}
	}
	return true
}

// binHorizontalFill bins a horizontal segment. It contributes no
// trapezoid area and no backdrop, but a piece clipped at a tile's left
// edge still records the crossing.
func binHorizontalFill(m *mem.Memory, path *renderer.Path, x0, x1, y float32) bool {
	row := int32(jmath.Floor32(y / renderer.TileHeight))
	if row < int32(path.Bbox[1]) || row >= int32(path.Bbox[3]) {
		return true
	}
	rowTop := float32(row) * renderer.TileHeight

	cmin := max(int32(jmath.Floor32(min(x0, x1)/renderer.TileWidth)), int32(path.Bbox[0]))
	cmax := min(int32(jmath.Floor32(max(x0, x1)/renderer.TileWidth)), int32(path.Bbox[2])-1)
	for col := cmin; col <= cmax; col++ {
		colL := float32(col) * renderer.TileWidth
		colR := colL + renderer.TileWidth

		tl := (colL - x0) / (x1 - x0)
		tr := (colR - x0) / (x1 - x0)
		t0 := max(float32(0), min(tl, tr))
		t1 := min(float32(1), max(tl, tr))
		if t0 >= t1 {
			continue
		}
		rx0 := jmath.Clamp(x0+(x1-x0)*t0, colL, colR) - colL
		rx1 := jmath.Clamp(x0+(x1-x0)*t1, colL, colR) - colL
		if !binTilePiece(m, path, uint32(col), uint32(row), rx0, y-rowTop, rx1, y-rowTop, false) {
			return false
		}
	}
	return true
}

// binTilePiece applies the left-edge robustness rules to a clipped,
// tile-relative piece and stores it. The piece arrives in downward
// order; swap restores the original direction.
func binTilePiece(m *mem.Memory, path *renderer.Path, col, row uint32, rx0, ry0, rx1, ry1 float32, swap bool) bool {
	// A crossing of the left edge becomes a YEdge marker, a piece
	// running along the edge is nudged inside or collapsed.
	yEdge := float32(1e9)
	if rx0 == 0 {
		if rx1 == 0 {
			rx0 = tileEpsilon
			if ry0 == 0 {
				// Entire left edge; acts like a full-height
				// crossing.
				rx1 = tileEpsilon
				ry1 = renderer.TileHeight
			} else {
				// Make the piece disappear.
				rx1 = 2 * tileEpsilon
				ry1 = ry0
			}
		} else if ry0 == 0 {
			rx0 = tileEpsilon
		} else {
			yEdge = ry0
		}
	} else if rx1 == 0 {
		if ry1 == 0 {
			rx1 = tileEpsilon
		} else {
			yEdge = ry1
		}
	}
	if rx0 == jmath.Floor32(rx0) && rx0 != 0 {
		rx0 -= tileEpsilon
	}
	if rx1 == jmath.Floor32(rx1) && rx1 != 0 {
		rx1 -= tileEpsilon
	}

	if swap {
		rx0, ry0, rx1, ry1 = rx1, ry1, rx0, ry0
	}
	return appendSegment(m, path, col, row, renderer.TileSeg{
		Origin: [2]float32{rx0, ry0},
		Vector: [2]float32{rx1 - rx0, ry1 - ry0},
		YEdge:  yEdge,
	})
}

// binStrokeSegment stores an unclipped, tile-relative copy of the
// segment in every tile within expand of its bounding box.
func binStrokeSegment(m *mem.Memory, path *renderer.Path, x0, y0, x1, y1, expand float32) bool {
	if x0 == x1 && y0 == y1 {
		return true
	}
	c0 := max(int32(jmath.Floor32((min(x0, x1)-expand)/renderer.TileWidth)), int32(path.Bbox[0]))
	c1 := min(int32(jmath.Floor32((max(x0, x1)+expand)/renderer.TileWidth)), int32(path.Bbox[2])-1)
	r0 := max(int32(jmath.Floor32((min(y0, y1)-expand)/renderer.TileHeight)), int32(path.Bbox[1]))
	r1 := min(int32(jmath.Floor32((max(y0, y1)+expand)/renderer.TileHeight)), int32(path.Bbox[3])-1)
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			ox := x0 - float32(col)*renderer.TileWidth
			oy := y0 - float32(row)*renderer.TileHeight
			if !appendSegment(m, path, uint32(col), uint32(row), renderer.TileSeg{
				Origin: [2]float32{ox, oy},
				Vector: [2]float32{x1 - x0, y1 - y0},
				YEdge:  1e9,
			}) {
				return false
			}
		}
	}
	return true
}

// appendSegment prepends seg to the tile's segment list. List order is
// irrelevant; coverage contributions commute.
func appendSegment(m *mem.Memory, path *renderer.Path, col, row uint32, seg renderer.TileSeg) bool {
	node, ok := m.Malloc(renderer.TileSegWords)
	if !ok {
		return false
	}
	ref := path.TileRef(col, row)
	tile := mem.Read[renderer.Tile](m, ref)
	seg.Next = tile.Segs
	tile.Segs = node.Offset
	mem.Write(m, node.Offset, seg)
	mem.Write(m, ref, tile)
	return true
}

// sumBackdrops turns the per-tile winding deltas into the winding
// number at each tile's top left corner with a prefix sum along each
// tile row.
func sumBackdrops(m *mem.Memory, path *renderer.Path) {
	width := path.Bbox[2] - path.Bbox[0]
	height := path.Bbox[3] - path.Bbox[1]
	for row := uint32(0); row < height; row++ {
		sum := int32(0)
		for col := uint32(0); col < width; col++ {
			ref := path.Tiles + (row*width+col)*renderer.TileWords
			tile := mem.Read[renderer.Tile](m, ref)
			sum += tile.Backdrop
			tile.Backdrop = sum
			mem.Write(m, ref, tile)
		}
	}
}
