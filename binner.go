// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package piet

import (
	"honnef.co/go/piet/mem"
	"honnef.co/go/piet/renderer"
)

// The binner sorts elements into bins of 16x16 tiles. For every
// (partition, bin) pair it writes a header pointing at a run of
// element indices, preserving paint order within the partition. The
// coarse rasterizer walks these runs instead of the whole element
// stream.

// binElements writes the bin header table at config.BinAlloc and the
// element index runs it points to. It reports false when the arena is
// exhausted.
func binElements(m *mem.Memory, config *renderer.ConfigUniform, scene *Scene) bool {
	numBins := config.NumBins()
	widthInBins := config.WidthInBins()

	footprints := elementFootprints(m, config, scene)

	for part := uint32(0); part < config.NumPartitions(); part++ {
		bins := make([][]uint32, numBins)
		base := part * renderer.NPartition
		for j := uint32(0); j < renderer.NPartition && base+j < config.NumElements; j++ {
			ix := base + j
			fp := footprints[ix]
			if fp[0] >= fp[2] || fp[1] >= fp[3] {
				continue
			}
			bx0 := fp[0] / renderer.NTileX
			bx1 := (fp[2] - 1) / renderer.NTileX
			by0 := fp[1] / renderer.NTileY
			by1 := (fp[3] - 1) / renderer.NTileY
			for by := by0; by <= by1; by++ {
				for bx := bx0; bx <= bx1; bx++ {
					bin := by*widthInBins + bx
					bins[bin] = append(bins[bin], ix)
				}
			}
		}
		for bin := uint32(0); bin < numBins; bin++ {
			var hdr renderer.BinHeader
			if run := bins[bin]; len(run) > 0 {
				a, ok := m.Malloc(uint32(len(run)))
				if !ok {
					return false
				}
				for k, ix := range run {
					m.Store(a.Offset+uint32(k), ix)
				}
				hdr = renderer.BinHeader{
					ElementCount: uint32(len(run)),
					ChunkOffset:  a.Offset,
				}
			}
			mem.Write(m, renderer.BinHeaderRef(config, part, bin), hdr)
		}
	}
	return true
}

// elementFootprints returns each element's tile footprint: its path's
// bounding box intersected with the clip stack in effect. An EndClip
// reuses the footprint of its BeginClip so that every tile sees the
// two in balance.
func elementFootprints(m *mem.Memory, config *renderer.ConfigUniform, scene *Scene) [][4]uint32 {
	full := [4]uint32{0, 0, config.WidthInTiles, config.HeightInTiles}
	stack := [][4]uint32{full}
	footprints := make([][4]uint32, len(scene.elements))
	for i, e := range scene.elements {
		bbox := renderer.ReadPath(m, config, uint32(e.pathIdx)).Bbox
		top := stack[len(stack)-1]
		switch e.tag {
		case elemBeginClip:
			inter := intersectBbox(bbox, top)
			stack = append(stack, inter)
			footprints[i] = inter
		case elemEndClip:
			footprints[i] = top
			stack = stack[:len(stack)-1]
		default:
			footprints[i] = intersectBbox(bbox, top)
		}
	}
	return footprints
}

func intersectBbox(a, b [4]uint32) [4]uint32 {
	r := [4]uint32{
		max(a[0], b[0]),
		max(a[1], b[1]),
		min(a[2], b[2]),
		min(a[3], b[3]),
	}
	if r[0] >= r[2] || r[1] >= r[3] {
		return [4]uint32{}
	}
	return r
}
