// Copyright 2021 the piet-gpu Authors
// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package raster

import (
	"honnef.co/go/piet/gfx"
	"honnef.co/go/piet/jmath"
	"honnef.co/go/piet/kernel"
	"honnef.co/go/piet/mem"
	"honnef.co/go/piet/renderer"
)

// Words in a clip spill frame: one link word plus one packed color per
// pixel of the tile.
const clipFrameWords = 1 + renderer.TileWidth*renderer.TileHeight

// fillArea accumulates the signed trapezoidal coverage of a segment
// list into area, one value per sub-row, seeded with the backdrop
// winding number. xy is the pixel's position relative to the tile.
//
// The 1e-6 bias on xmin breaks ties on near-horizontal edges; its
// placement is load-bearing and verified against rendered output, so
// the formula is kept in this exact shape.
func fillArea(m *mem.Memory, area *[renderer.Chunk]float32, segs uint32, backdrop int32, xy [2]float32) {
	for k := range area {
		area[k] = float32(backdrop)
	}
	for ref := segs; ref != 0; {
		seg := mem.Read[renderer.TileSeg](m, ref)
		for k := range renderer.Chunk {
			myY := xy[1] + float32(k)
			startX := seg.Origin[0] - xy[0]
			startY := seg.Origin[1] - myY
			endX := startX + seg.Vector[0]
			endY := startY + seg.Vector[1]
			wx := jmath.Clamp(startY, 0, 1)
			wy := jmath.Clamp(endY, 0, 1)
			if wx != wy {
				tx := (wx - startY) / seg.Vector[1]
				ty := (wy - startY) / seg.Vector[1]
				xsx := jmath.Mix(startX, endX, tx)
				xsy := jmath.Mix(startX, endX, ty)
				xmin := min(min(xsx, xsy), 1.0) - 1e-6
				xmax := max(xsx, xsy)
				b := min(xmax, 1.0)
				c := max(b, 0.0)
				d := max(xmin, 0.0)
				a := (b + 0.5*(d*d-c*c) - xmin) / (xmax - xmin)
				area[k] += a * (wx - wy)
			}
			area[k] += jmath.Sign32(seg.Vector[0]) * jmath.Clamp(myY-seg.YEdge+1.0, 0, 1)
		}
		ref = seg.Next
	}
}

// strokeDistance computes the minimum distance from each sub-row's
// pixel center to the segment list.
func strokeDistance(m *mem.Memory, df *[renderer.Chunk]float32, segs uint32, xy [2]float32) {
	for k := range df {
		df[k] = 1e9
	}
	for ref := segs; ref != 0; {
		seg := mem.Read[renderer.TileSeg](m, ref)
		for k := range renderer.Chunk {
			dposX := xy[0] + 0.5 - seg.Origin[0]
			dposY := xy[1] + float32(k) + 0.5 - seg.Origin[1]
			t := jmath.Clamp((seg.Vector[0]*dposX+seg.Vector[1]*dposY)/
				(seg.Vector[0]*seg.Vector[0]+seg.Vector[1]*seg.Vector[1]), 0, 1)
			dx := seg.Vector[0]*t - dposX
			dy := seg.Vector[1]*t - dposY
			df[k] = min(df[k], jmath.Hypot32(dx, dy))
		}
		ref = seg.Next
	}
}

// packClip packs a linear color and a coverage value into one word for
// the clip stack, converting the color channels to sRGB bytes.
func packClip(rgb [3]float32, a float32) uint32 {
	return gfx.PackSRGBA([4]float32{
		gfx.ToSRGB(rgb[0]),
		gfx.ToSRGB(rgb[1]),
		gfx.ToSRGB(rgb[2]),
		a,
	})
}

// Fine interprets the per-tile command lists and writes the target
// image. It launches one group per screen tile; each thread owns one
// column of Chunk sub-rows and interprets the tile's full command list
// independently. The only cross-thread interaction is the clip stack
// spill, where one thread allocates a scratch frame on the group's
// behalf.
func Fine(m *mem.Memory, config *renderer.ConfigUniform, atlas *gfx.Atlas, out *gfx.Image) {
	if m.Failed() {
		return
	}
	groups := config.WidthInTiles * config.HeightInTiles
	bg := gfx.UnpackLinear(config.BaseColor)

	kernel.Dispatch(groups, renderer.FineThreads, func(g *kernel.Group, groupID uint32) kernel.ThreadFunc {
		tileX := groupID % config.WidthInTiles
		tileY := groupID / config.WidthInTiles
		base := config.PtclBase(tileX, tileY)

		// Spill frame handoff: thread 0 allocates, the barrier
		// publishes.
		var sharedFrame uint32
		var sharedFailed bool

		return func(localID uint32) {
			lx := localID % renderer.FineWidth
			ly := localID / renderer.FineWidth
			// Position of sub-row 0 relative to the tile.
			xy := [2]float32{float32(lx), float32(ly * renderer.Chunk)}
			pixX := int(tileX*renderer.TileWidth + lx)
			pixY := int(tileY*renderer.TileHeight + ly*renderer.Chunk)

			var rgb [renderer.Chunk][3]float32
			var mask [renderer.Chunk]float32
			for k := range renderer.Chunk {
				rgb[k] = [3]float32{bg[0], bg[1], bg[2]}
				mask[k] = 1.0
			}

			var area [renderer.Chunk]float32
			var df [renderer.Chunk]float32

			// Clip stack: a 4-deep register ring with the overflow
			// spilled to a linked list of arena frames. The register
			// slot for depth d is d%4; the registers always hold the
			// newest entries.
			var clipStack [renderer.ClipStackDepth][renderer.Chunk]uint32
			clipDepth := uint32(0)
			spillTop := uint32(0)

			ref := base
			for {
				tag := renderer.ReadCmdTag(m, ref)
				switch tag {
				case renderer.CmdEnd:
					for k := range renderer.Chunk {
						out.Set(pixX, pixY+k, gfx.PackSRGBA([4]float32{
							gfx.ToSRGB(rgb[k][0]),
							gfx.ToSRGB(rgb[k][1]),
							gfx.ToSRGB(rgb[k][2]),
							1,
						}))
					}
					return

				case renderer.CmdFill:
					cmd := renderer.ReadCmd[renderer.CmdFillData](m, ref)
					fillArea(m, &area, cmd.Segs, cmd.Backdrop, xy)
					fg := gfx.UnpackLinear(cmd.RGBA)
					for k := range renderer.Chunk {
						cov := min(jmath.Abs32(area[k]), 1) * mask[k] * fg[3]
						rgb[k][0] = jmath.Mix(rgb[k][0], fg[0], cov)
						rgb[k][1] = jmath.Mix(rgb[k][1], fg[1], cov)
						rgb[k][2] = jmath.Mix(rgb[k][2], fg[2], cov)
					}

				case renderer.CmdFillImage:
					cmd := renderer.ReadCmd[renderer.CmdFillImageData](m, ref)
					fillArea(m, &area, cmd.Segs, cmd.Backdrop, xy)
					if img := atlas.Image(cmd.Index); img != nil {
						dx, dy := renderer.UnpackOffset(cmd.Offset)
						for k := range renderer.Chunk {
							s := gfx.UnpackLinear(img.Sample(pixX+int(dx), pixY+k+int(dy)))
							cov := min(jmath.Abs32(area[k]), 1) * mask[k] * s[3]
							rgb[k][0] = jmath.Mix(rgb[k][0], s[0], cov)
							rgb[k][1] = jmath.Mix(rgb[k][1], s[1], cov)
							rgb[k][2] = jmath.Mix(rgb[k][2], s[2], cov)
						}
					}

				case renderer.CmdStroke:
					cmd := renderer.ReadCmd[renderer.CmdStrokeData](m, ref)
					strokeDistance(m, &df, cmd.Segs, xy)
					fg := gfx.UnpackLinear(cmd.RGBA)
					for k := range renderer.Chunk {
						cov := jmath.Clamp(cmd.HalfWidth+0.5-df[k], 0, 1) * mask[k] * fg[3]
						rgb[k][0] = jmath.Mix(rgb[k][0], fg[0], cov)
						rgb[k][1] = jmath.Mix(rgb[k][1], fg[1], cov)
						rgb[k][2] = jmath.Mix(rgb[k][2], fg[2], cov)
					}

				case renderer.CmdSolid:
					cmd := renderer.ReadCmd[renderer.CmdSolidData](m, ref)
					fg := gfx.UnpackLinear(cmd.RGBA)
					for k := range renderer.Chunk {
						cov := mask[k] * fg[3]
						rgb[k][0] = jmath.Mix(rgb[k][0], fg[0], cov)
						rgb[k][1] = jmath.Mix(rgb[k][1], fg[1], cov)
						rgb[k][2] = jmath.Mix(rgb[k][2], fg[2], cov)
					}

				case renderer.CmdSolidImage:
					cmd := renderer.ReadCmd[renderer.CmdSolidImageData](m, ref)
					if img := atlas.Image(cmd.Index); img != nil {
						dx, dy := renderer.UnpackOffset(cmd.Offset)
						for k := range renderer.Chunk {
							s := gfx.UnpackLinear(img.Sample(pixX+int(dx), pixY+k+int(dy)))
							cov := mask[k] * s[3]
							rgb[k][0] = jmath.Mix(rgb[k][0], s[0], cov)
							rgb[k][1] = jmath.Mix(rgb[k][1], s[1], cov)
							rgb[k][2] = jmath.Mix(rgb[k][2], s[2], cov)
						}
					}

				case renderer.CmdBeginClip, renderer.CmdBeginSolidClip:
					var alpha [renderer.Chunk]float32
					if tag == renderer.CmdBeginClip {
						cmd := renderer.ReadCmd[renderer.CmdBeginClipData](m, ref)
						fillArea(m, &area, cmd.Segs, cmd.Backdrop, xy)
						for k := range renderer.Chunk {
							alpha[k] = jmath.Clamp(jmath.Abs32(area[k]), 0, 1)
						}
					} else {
						cmd := renderer.ReadCmd[renderer.CmdBeginSolidClipData](m, ref)
						for k := range renderer.Chunk {
							alpha[k] = cmd.Alpha
						}
					}

					if clipDepth >= renderer.ClipStackDepth {
						// The register ring is full; spill the
						// oldest entry to a new scratch frame. One
						// thread allocates, everyone writes its own
						// pixels after the handoff.
						if localID == 0 {
							a, ok := m.Malloc(clipFrameWords)
							if ok {
								m.Store(a.Offset, spillTop)
								sharedFrame = a.Offset
							} else {
								sharedFailed = true
							}
						}
						g.Barrier()
						if sharedFailed {
							return
						}
						frame := sharedFrame
						// Hold the leader back until every thread has
						// read the frame, so the next spill can't
						// republish it early.
						g.Barrier()
						slot := clipDepth % renderer.ClipStackDepth
						for k := range renderer.Chunk {
							row := ly*renderer.Chunk + uint32(k)
							m.Store(frame+1+row*renderer.TileWidth+lx, clipStack[slot][k])
						}
						spillTop = frame
					}
					slot := clipDepth % renderer.ClipStackDepth
					for k := range renderer.Chunk {
						clipStack[slot][k] = packClip(rgb[k], alpha[k])
					}
					clipDepth++

				case renderer.CmdEndClip:
					cmd := renderer.ReadCmd[renderer.CmdEndClipData](m, ref)
					clipDepth--
					slot := clipDepth % renderer.ClipStackDepth
					for k := range renderer.Chunk {
						bgc := gfx.UnpackLinear(clipStack[slot][k])
						w := cmd.Alpha * bgc[3]
						rgb[k][0] = jmath.Mix(bgc[0], rgb[k][0], w)
						rgb[k][1] = jmath.Mix(bgc[1], rgb[k][1], w)
						rgb[k][2] = jmath.Mix(bgc[2], rgb[k][2], w)
					}
					if clipDepth >= renderer.ClipStackDepth {
						// Refill the vacated register from the top
						// scratch frame and unlink it.
						frame := spillTop
						for k := range renderer.Chunk {
							row := ly*renderer.Chunk + uint32(k)
							clipStack[slot][k] = m.Load(frame + 1 + row*renderer.TileWidth + lx)
						}
						spillTop = m.Load(frame)
					}

				case renderer.CmdJump:
					cmd := renderer.ReadCmd[renderer.CmdJumpData](m, ref)
					ref = cmd.New
					continue
				}
				ref += renderer.CmdWords
			}
		}
	})
}
