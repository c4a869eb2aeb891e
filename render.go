// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package piet

import (
	"honnef.co/go/piet/gfx"
	"honnef.co/go/piet/mem"
	"honnef.co/go/piet/raster"
	"honnef.co/go/piet/renderer"
)

// A Renderer rasterizes scenes into images. It owns the arena that
// holds all intermediate render structures; the arena is reset at the
// start of every render, so a Renderer must not be used concurrently.
type Renderer struct {
	m     *mem.Memory
	atlas gfx.Atlas
}

// NewRenderer returns a renderer with an arena of the given size in
// words. When a render runs out of arena space it fails with
// mem.ErrExhausted; the caller can Grow the arena and render again.
func NewRenderer(arenaWords uint32) *Renderer {
	return &Renderer{m: mem.New(arenaWords)}
}

// Memory returns the renderer's arena.
func (r *Renderer) Memory() *mem.Memory {
	return r.m
}

// AddImage adds img to the renderer's image atlas and returns its
// index, for use with Scene.FillImage.
func (r *Renderer) AddImage(img *gfx.Image) uint32 {
	return r.atlas.Add(img)
}

// RenderOptions configure a single render.
type RenderOptions struct {
	// The background color. A nil color selects the default 50% gray.
	BaseColor gfx.Color
}

// The background painted before the first command, a 50% gray in
// linear light.
var defaultBaseColor = gfx.PackSRGBA([4]float32{
	gfx.ToSRGB(0.5),
	gfx.ToSRGB(0.5),
	gfx.ToSRGB(0.5),
	1,
})

// Render rasterizes the scene into a new width x height image.
func (r *Renderer) Render(scene *Scene, width, height int, opts *RenderOptions) (*gfx.Image, error) {
	m := r.m
	m.Reset()

	wTiles, hTiles := renderer.TilesForSize(uint32(width), uint32(height))
	config := &renderer.ConfigUniform{
		WidthInTiles:  wTiles,
		HeightInTiles: hTiles,
		TargetWidth:   uint32(width),
		TargetHeight:  uint32(height),
		NumElements:   uint32(len(scene.elements)),
		BaseColor:     defaultBaseColor,
	}
	if opts != nil && opts.BaseColor != nil {
		config.BaseColor = gfx.PackColor(opts.BaseColor)
	}

	var ok bool
	config.ElementAlloc, ok = m.Malloc(config.NumElements * renderer.ElementWords)
	if !ok {
		return nil, mem.ErrExhausted
	}
	config.PathAlloc, ok = m.Malloc(uint32(len(scene.paths)) * renderer.PathWords)
	if !ok {
		return nil, mem.ErrExhausted
	}
	config.BinAlloc, ok = m.Malloc(config.NumPartitions() * config.NumBins() * renderer.BinHeaderWords)
	if !ok {
		return nil, mem.ErrExhausted
	}
	config.PtclAlloc, ok = m.Malloc(wTiles * hTiles * renderer.PtclInitialAlloc)
	if !ok {
		return nil, mem.ErrExhausted
	}

	uploadElements(m, config, scene)
	if !tilePaths(m, config, scene.paths) || !binElements(m, config, scene) {
		return nil, mem.ErrExhausted
	}

	raster.Coarse(m, config)
	out := gfx.NewImage(width, height)
	raster.Fine(m, config, &r.atlas, out)

	if m.Failed() {
		return nil, mem.ErrExhausted
	}
	return out, nil
}

// uploadElements writes the scene's elements into the arena as
// annotated elements, in paint order.
func uploadElements(m *mem.Memory, config *renderer.ConfigUniform, scene *Scene) {
	for i, e := range scene.elements {
		ix := uint32(i)
		pathIdx := uint32(e.pathIdx)
		switch e.tag {
		case elemFill:
			renderer.WriteElement(m, config, ix, renderer.ElementFill, renderer.FillElement{
				PathIdx: pathIdx,
				RGBA:    e.rgba,
			})
		case elemFillImage:
			renderer.WriteElement(m, config, ix, renderer.ElementFillImage, renderer.FillImageElement{
				PathIdx: pathIdx,
				Index:   e.image,
				Offset:  renderer.PackOffset(e.offsetX, e.offsetY),
			})
		case elemStroke:
			renderer.WriteElement(m, config, ix, renderer.ElementStroke, renderer.StrokeElement{
				PathIdx:   pathIdx,
				HalfWidth: e.halfWidth,
				RGBA:      e.rgba,
			})
		case elemBeginClip:
			renderer.WriteElement(m, config, ix, renderer.ElementBeginClip, renderer.BeginClipElement{
				PathIdx: pathIdx,
				Alpha:   e.alpha,
			})
		case elemEndClip:
			renderer.WriteElement(m, config, ix, renderer.ElementEndClip, renderer.EndClipElement{
				PathIdx: pathIdx,
				Alpha:   e.alpha,
			})
		}
	}
}
