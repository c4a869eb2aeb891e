// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package piet renders 2D vector scenes on the CPU with a tile-based
// two-stage rasterizer: a coarse stage compiles a command list per
// 16x16 pixel tile, a fine stage interprets the lists and writes
// pixels. All intermediate structures live in a shared word arena that
// is bump-allocated during the frame and reset wholesale afterwards.
package piet

import (
	"honnef.co/go/curve"
	"honnef.co/go/piet/gfx"
)

// A Scene records draw elements in paint order. Paths are described as
// flattened line segments; for fills and clips the segments must form
// closed loops.
type Scene struct {
	elements []element
	paths    []scenePath
}

type element struct {
	tag     elementTag
	pathIdx int
	// Fill and stroke color, packed.
	rgba uint32
	// Stroke half-width in pixels.
	halfWidth float32
	// Image fill.
	image   uint32
	offsetX int32
	offsetY int32
	// Layer opacity for clips.
	alpha float32
}

type elementTag int

const (
	elemFill elementTag = iota
	elemFillImage
	elemStroke
	elemBeginClip
	elemEndClip
)

type scenePath struct {
	lines []curve.Line
	// Nonzero for strokes; widens the path's tile footprint.
	expand float32
	stroke bool
}

func (s *Scene) addPath(lines []curve.Line, expand float32, stroke bool) int {
	s.paths = append(s.paths, scenePath{lines: lines, expand: expand, stroke: stroke})
	return len(s.paths) - 1
}

// Fill adds a solid fill of the area enclosed by lines, using the
// nonzero winding rule.
func (s *Scene) Fill(c gfx.Color, lines []curve.Line) {
	s.elements = append(s.elements, element{
		tag:     elemFill,
		pathIdx: s.addPath(lines, 0, false),
		rgba:    gfx.PackColor(c),
	})
}

// FillImage fills the area enclosed by lines with pixels from an atlas
// image, translated by (offsetX, offsetY).
func (s *Scene) FillImage(image uint32, offsetX, offsetY int32, lines []curve.Line) {
	s.elements = append(s.elements, element{
		tag:     elemFillImage,
		pathIdx: s.addPath(lines, 0, false),
		image:   image,
		offsetX: offsetX,
		offsetY: offsetY,
	})
}

// Stroke adds a stroke of the given width along lines. The lines are
// rendered as drawn; no joins or caps are generated.
func (s *Scene) Stroke(c gfx.Color, width float32, lines []curve.Line) {
	hw := width / 2
	s.elements = append(s.elements, element{
		tag:       elemStroke,
		pathIdx:   s.addPath(lines, hw+0.5, true),
		rgba:      gfx.PackColor(c),
		halfWidth: hw,
	})
}

// BeginClip pushes a clip layer bounded by the area enclosed by lines.
// Every BeginClip must be matched by an EndClip.
func (s *Scene) BeginClip(lines []curve.Line) {
	s.elements = append(s.elements, element{
		tag:     elemBeginClip,
		pathIdx: s.addPath(lines, 0, false),
		alpha:   1,
	})
}

// EndClip pops the most recent clip layer and composites it with the
// given opacity.
func (s *Scene) EndClip(alpha float32) {
	// The end references the begin's path so the rasterizer can track
	// the clip's footprint, and the begin learns the layer opacity so
	// opaque full-coverage clips can be skipped per tile.
	begin := -1
	depth := 0
scan:
	for i := len(s.elements) - 1; i >= 0; i-- {
		switch s.elements[i].tag {
		case elemEndClip:
			depth++
		case elemBeginClip:
			if depth == 0 {
				begin = i
				break scan
			}
			depth--
		}
	}
	if begin < 0 {
		panic("piet: EndClip without matching BeginClip")
	}
	s.elements[begin].alpha = alpha
	s.elements = append(s.elements, element{
		tag:     elemEndClip,
		pathIdx: s.elements[begin].pathIdx,
		alpha:   alpha,
	})
}

// Reset empties the scene for reuse.
func (s *Scene) Reset() {
	s.elements = s.elements[:0]
	s.paths = s.paths[:0]
}

// RectPath returns the outline of r as line segments, wound clockwise.
func RectPath(r curve.Rect) []curve.Line {
	p0 := curve.Pt(r.MinX(), r.MinY())
	p1 := curve.Pt(r.MaxX(), r.MinY())
	p2 := curve.Pt(r.MaxX(), r.MaxY())
	p3 := curve.Pt(r.MinX(), r.MaxY())
	return []curve.Line{
		{P0: p0, P1: p1},
		{P0: p1, P1: p2},
		{P0: p2, P1: p3},
		{P0: p3, P1: p0},
	}
}
