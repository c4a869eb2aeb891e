// Copyright 2021 the piet-gpu Authors
// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package raster implements the two rasterization stages: the coarse
// stage compiles a command list per screen tile, the fine stage
// interprets those lists and writes pixels.
package raster

import (
	"math/bits"
	"sync/atomic"

	"honnef.co/go/piet/jmath"
	"honnef.co/go/piet/kernel"
	"honnef.co/go/piet/mem"
	"honnef.co/go/piet/renderer"
)

// Headroom kept at the end of each command list page so a jump always
// fits behind the last full command slot.
const ptclHeadroom = 2

// cmdWriter is a cursor into a tile's command list. It grows the list
// by allocating a new page and linking it with a jump when the current
// page runs out of room. After an allocation failure the writer goes
// dead and discards everything, matching the frame-wide abort.
type cmdWriter struct {
	m      *mem.Memory
	offset uint32
	limit  uint32
	failed bool
}

func newCmdWriter(m *mem.Memory, base uint32) cmdWriter {
	return cmdWriter{
		m:      m,
		offset: base,
		limit:  base + renderer.PtclInitialAlloc - ptclHeadroom,
	}
}

func (w *cmdWriter) ensure() bool {
	if w.failed {
		return false
	}
	if w.offset+renderer.CmdWords >= w.limit {
		a, ok := w.m.Malloc(renderer.PtclIncrement)
		if !ok {
			w.failed = true
			return false
		}
		renderer.WriteCmd(w.m, w.offset, renderer.CmdJump, renderer.CmdJumpData{New: a.Offset})
		w.offset = a.Offset
		w.limit = a.Offset + renderer.PtclIncrement - ptclHeadroom
	}
	return true
}

func emit[T any](w *cmdWriter, tag renderer.CmdTag, payload T) {
	if !w.ensure() {
		return
	}
	renderer.WriteCmd(w.m, w.offset, tag, payload)
	w.offset += renderer.CmdWords
}

func (w *cmdWriter) end() {
	if w.failed {
		return
	}
	w.m.Store(w.offset, uint32(renderer.CmdEnd))
}

// coarseShared is the state shared by the threads of one coarse group.
// All arrays are indexed by thread (= element window slot, = tile in
// the bin) and published across threads with barriers, except for the
// bitmaps, which are written with atomic OR during the scatter phase.
type coarseShared struct {
	// Run counts of the partition read window, turned into an
	// inclusive prefix sum in place.
	partCount [renderer.NTile]uint32
	// Arena offsets of the partition runs, adjusted for the already
	// consumed prefix of the first partition.
	partOffset [renderer.NTile]uint32
	// Element indices of the active window.
	elements [renderer.NTile]uint32
	// Per-slot tile footprint counts, turned into an inclusive prefix
	// sum in place.
	tileCount [renderer.NTile]uint32
	// Per-slot footprint geometry: bin-local origin (x | y<<16) and
	// width in tiles.
	tileCoords [renderer.NTile]uint32
	tileWidth  [renderer.NTile]uint32
	// Per-slot tile table addressing: path.Tiles biased by the path's
	// bounding box origin (wraps; only read back biased) and the row
	// stride.
	tileBase   [renderer.NTile]uint32
	tileStride [renderer.NTile]uint32
	// One bit per (element slot, tile): bitmaps[slot/32][tile],
	// bit slot%32.
	bitmaps [renderer.NSlice][renderer.NTile]uint32
}

// scan turns buf into its inclusive prefix sum. Every thread must
// call it; th is the calling thread's slot.
func scan(g *kernel.Group, buf *[renderer.NTile]uint32, th uint32) {
	for stride := uint32(1); stride < renderer.NTile; stride *= 2 {
		g.Barrier()
		var v uint32
		if th >= stride {
			v = buf[th-stride]
		}
		g.Barrier()
		buf[th] += v
	}
	g.Barrier()
}

// search returns the first slot whose inclusive prefix sum exceeds ix.
func search(buf *[renderer.NTile]uint32, ix uint32) uint32 {
	slot := uint32(0)
	for sz := uint32(renderer.NTile / 2); sz > 0; sz /= 2 {
		if buf[slot+sz-1] <= ix {
			slot += sz
		}
	}
	return slot
}

// Coarse compiles the per-tile command lists. It launches one group of
// NTile threads per bin; within a group, thread i owns tile i of the
// bin and cooperates on merging the bin's element runs.
func Coarse(m *mem.Memory, config *renderer.ConfigUniform) {
	if m.Failed() {
		return
	}
	widthInBins := config.WidthInBins()
	nPartitions := config.NumPartitions()

	kernel.Dispatch(config.NumBins(), renderer.NTile, func(g *kernel.Group, bin uint32) kernel.ThreadFunc {
		sh := &coarseShared{}
		binTileX := bin % widthInBins * renderer.NTileX
		binTileY := bin / widthInBins * renderer.NTileY

		return func(th uint32) {
			myTileX := th % renderer.NTileX
			myTileY := th / renderer.NTileX
			inBounds := binTileX+myTileX < config.WidthInTiles &&
				binTileY+myTileY < config.HeightInTiles

			var writer cmdWriter
			if inBounds {
				writer = newCmdWriter(m, config.PtclBase(binTileX+myTileX, binTileY+myTileY))
			} else {
				writer.failed = true
			}

			// Partition read cursor; every thread tracks the same
			// values, derived from barrier-published scans.
			partIx := uint32(0)
			partConsumed := uint32(0)

			clipDepth := uint32(0)
			clipZeroDepth := uint32(0)
			clipOneMask := uint32(0)

			for {
				for s := range uint32(renderer.NSlice) {
					sh.bitmaps[s][th] = 0
				}

				// Refill the element window from the bin's partition
				// runs. Each thread loads one partition header; a
				// prefix sum over the counts lets each window slot
				// binary-search the run it reads from.
				count := uint32(0)
				offset := uint32(0)
				if partIx+th < nPartitions {
					hdr := mem.Read[renderer.BinHeader](m, renderer.BinHeaderRef(config, partIx+th, bin))
					count = hdr.ElementCount
					offset = hdr.ChunkOffset
					if th == 0 {
						count -= partConsumed
						offset += partConsumed
					}
				}
				sh.partCount[th] = count
				sh.partOffset[th] = offset
				scan(g, &sh.partCount, th)

				avail := sh.partCount[renderer.NTile-1]
				n := min(avail, renderer.NTile)
				if th < n {
					slot := search(&sh.partCount, th)
					within := th
					if slot > 0 {
						within -= sh.partCount[slot-1]
					}
					sh.elements[th] = m.Load(sh.partOffset[slot] + within)
				}

				// Advance the cursor past the consumed elements. All
				// threads compute the same result from the shared
				// prefix sum.
				if avail == n {
					// The read window is drained, including trailing
					// empty partitions.
					partIx += min(renderer.NTile, nPartitions-partIx)
					partConsumed = 0
				} else {
					// Element n is the first one not consumed; the
					// search skips fully consumed partitions.
					slot := search(&sh.partCount, n)
					if slot == 0 {
						partConsumed += n
					} else {
						partConsumed = n - sh.partCount[slot-1]
						partIx += slot
					}
				}
				g.Barrier()

				if n == 0 {
					if partIx >= nPartitions {
						break
					}
					continue
				}

				// Footprint of each active element: intersection of
				// its path's bounding box with the bin, in tiles.
				tiles := uint32(0)
				if th < n {
					elIx := sh.elements[th]
					if pathIx, ok := renderer.ElementPathIdx(m, config, elIx); ok {
						path := renderer.ReadPath(m, config, pathIx)
						x0 := jmath.Clamp(int32(path.Bbox[0])-int32(binTileX), 0, renderer.NTileX)
						y0 := jmath.Clamp(int32(path.Bbox[1])-int32(binTileY), 0, renderer.NTileY)
						x1 := jmath.Clamp(int32(path.Bbox[2])-int32(binTileX), 0, renderer.NTileX)
						y1 := jmath.Clamp(int32(path.Bbox[3])-int32(binTileY), 0, renderer.NTileY)
						width := uint32(max(x1-x0, 0))
						height := uint32(max(y1-y0, 0))
						tiles = width * height
						stride := path.Bbox[2] - path.Bbox[0]
						sh.tileCoords[th] = uint32(x0) | uint32(y0)<<16
						sh.tileWidth[th] = width
						sh.tileStride[th] = stride
						// Biased so that absolute tile coordinates
						// address the path's tile table directly.
						sh.tileBase[th] = path.Tiles - (path.Bbox[1]*stride+path.Bbox[0])*renderer.TileWords
					}
				}
				sh.tileCount[th] = tiles
				scan(g, &sh.tileCount, th)
				totalTiles := sh.tileCount[renderer.NTile-1]

				// Scatter: walk the flattened (element, tile) pairs
				// and mark intersecting elements in each tile's
				// bitmap. Multiple threads may hit different bits of
				// the same word, hence the atomic OR.
				for ix := th; ix < totalTiles; ix += renderer.NTile {
					slot := search(&sh.tileCount, ix)
					seq := ix
					if slot > 0 {
						seq -= sh.tileCount[slot-1]
					}
					width := sh.tileWidth[slot]
					x := sh.tileCoords[slot]&0xffff + seq%width
					y := sh.tileCoords[slot]>>16 + seq/width

					tag := renderer.ReadElementTag(m, config, sh.elements[slot])
					member := tag == renderer.ElementBeginClip || tag == renderer.ElementEndClip
					if !member {
						ref := sh.tileBase[slot] + ((binTileY+y)*sh.tileStride[slot]+binTileX+x)*renderer.TileWords
						tile := mem.Read[renderer.Tile](m, ref)
						member = tile.Segs != 0 || tile.Backdrop != 0
					}
					if member {
						tileIx := y*renderer.NTileX + x
						// Other threads may OR different bits into
						// the same word concurrently.
						atomic.OrUint32(&sh.bitmaps[slot/32][tileIx], 1<<(slot%32))
					}
				}
				g.Barrier()

				// Emission: each thread scans its own tile's bitmap
				// from low bit to high. Bit order is window order is
				// element order, which keeps the paint order intact.
				for s := uint32(0); s < renderer.NSlice; s++ {
					z := sh.bitmaps[s][th]
					for z != 0 {
						slot := s*32 + uint32(bits.TrailingZeros32(z))
						z &= z - 1
						elIx := sh.elements[slot]
						tag := renderer.ReadElementTag(m, config, elIx)

						if clipZeroDepth > 0 {
							// Inside an empty clip everything is
							// invisible; only track nesting.
							switch tag {
							case renderer.ElementBeginClip:
								clipDepth++
							case renderer.ElementEndClip:
								if clipDepth == clipZeroDepth {
									clipZeroDepth = 0
								}
								clipDepth--
							}
							continue
						}

						var tile renderer.Tile
						if tag != renderer.ElementEndClip {
							ref := sh.tileBase[slot] + ((binTileY+myTileY)*sh.tileStride[slot]+binTileX+myTileX)*renderer.TileWords
							tile = mem.Read[renderer.Tile](m, ref)
						}

						switch tag {
						case renderer.ElementFill:
							el := renderer.ReadElement[renderer.FillElement](m, config, elIx)
							if tile.Segs != 0 {
								emit(&writer, renderer.CmdFill, renderer.CmdFillData{
									Segs:     tile.Segs,
									Backdrop: tile.Backdrop,
									RGBA:     el.RGBA,
								})
							} else {
								emit(&writer, renderer.CmdSolid, renderer.CmdSolidData{RGBA: el.RGBA})
							}

						case renderer.ElementFillImage:
							el := renderer.ReadElement[renderer.FillImageElement](m, config, elIx)
							if tile.Segs != 0 {
								emit(&writer, renderer.CmdFillImage, renderer.CmdFillImageData{
									Segs:     tile.Segs,
									Backdrop: tile.Backdrop,
									Index:    el.Index,
									Offset:   el.Offset,
								})
							} else {
								emit(&writer, renderer.CmdSolidImage, renderer.CmdSolidImageData{
									Index:  el.Index,
									Offset: el.Offset,
								})
							}

						case renderer.ElementStroke:
							el := renderer.ReadElement[renderer.StrokeElement](m, config, elIx)
							emit(&writer, renderer.CmdStroke, renderer.CmdStrokeData{
								Segs:      tile.Segs,
								HalfWidth: el.HalfWidth,
								RGBA:      el.RGBA,
							})

						case renderer.ElementBeginClip:
							el := renderer.ReadElement[renderer.BeginClipElement](m, config, elIx)
							if tile.Segs == 0 && tile.Backdrop == 0 {
								// Clip covers nothing here; suppress
								// everything up to the matching end.
								clipZeroDepth = clipDepth + 1
							} else if tile.Segs == 0 && el.Alpha == 1 && clipDepth < 32 {
								// Full coverage and an opaque layer;
								// the clip is a no-op for this tile,
								// elide the pair.
								clipOneMask |= 1 << clipDepth
							} else {
								if tile.Segs != 0 {
									emit(&writer, renderer.CmdBeginClip, renderer.CmdBeginClipData{
										Segs:     tile.Segs,
										Backdrop: tile.Backdrop,
									})
								} else {
									// Fully covered but not elidable;
									// emit the clip explicitly.
									emit(&writer, renderer.CmdBeginSolidClip, renderer.CmdBeginSolidClipData{Alpha: 1})
								}
								if clipDepth < 32 {
									clipOneMask &^= 1 << clipDepth
								}
							}
							clipDepth++

						case renderer.ElementEndClip:
							el := renderer.ReadElement[renderer.EndClipElement](m, config, elIx)
							clipDepth--
							if clipDepth >= 32 || clipOneMask&(1<<clipDepth) == 0 {
								emit(&writer, renderer.CmdEndClip, renderer.CmdEndClipData{Alpha: el.Alpha})
							}
						}
					}
				}

			}

			if inBounds {
				writer.end()
			}
		}
	})
}
