// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package piet

import (
	"errors"
	"testing"

	"honnef.co/go/curve"
	"honnef.co/go/piet/gfx"
	"honnef.co/go/piet/jmath"
	"honnef.co/go/piet/mem"
)

var (
	white = gfx.SRGB{R: 1, G: 1, B: 1, A: 1}
	red   = gfx.SRGB{R: 1, A: 1}
	green = gfx.SRGB{G: 1, A: 1}
	blue  = gfx.SRGB{B: 1, A: 1}
)

const (
	whitePx = 0xffffffff
	redPx   = 0xff0000ff
	greenPx = 0x00ff00ff
	bluePx  = 0x0000ffff
)

func render(t *testing.T, scene *Scene, width, height int) *gfx.Image {
	t.Helper()
	r := NewRenderer(1 << 22)
	out, err := r.Render(scene, width, height, &RenderOptions{BaseColor: white})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func checkPixel(t *testing.T, out *gfx.Image, x, y int, want uint32) {
	t.Helper()
	if got := out.Sample(x, y); got != want {
		t.Errorf("pixel (%d, %d) = %#08x, want %#08x", x, y, got, want)
	}
}

// mixPixel computes the expected pixel for compositing fg over bg at
// the given coverage, mirroring the renderer's arithmetic.
func mixPixel(bg, fg uint32, cov float32) uint32 {
	b := gfx.UnpackLinear(bg)
	f := gfx.UnpackLinear(fg)
	w := cov * f[3]
	return gfx.PackSRGBA([4]float32{
		gfx.ToSRGB(jmath.Mix(b[0], f[0], w)),
		gfx.ToSRGB(jmath.Mix(b[1], f[1], w)),
		gfx.ToSRGB(jmath.Mix(b[2], f[2], w)),
		1,
	})
}

func TestRenderDefaultBackground(t *testing.T) {
	// Without options the background is a 50% gray in linear light.
	r := NewRenderer(1 << 20)
	out, err := r.Render(&Scene{}, 16, 16, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := gfx.PackSRGBA([4]float32{
		gfx.ToSRGB(0.5),
		gfx.ToSRGB(0.5),
		gfx.ToSRGB(0.5),
		1,
	})
	for y := range 16 {
		for x := range 16 {
			checkPixel(t, out, x, y, want)
		}
	}
}

func TestRenderEmptyScene(t *testing.T) {
	out := render(t, &Scene{}, 32, 32)
	for y := range 32 {
		for x := range 32 {
			checkPixel(t, out, x, y, whitePx)
		}
	}
}

func TestRenderRect(t *testing.T) {
	var scene Scene
	scene.Fill(red, RectPath(curve.Rect{X0: 16, Y0: 16, X1: 48, Y1: 48}))
	out := render(t, &scene, 64, 64)

	inside := [][2]int{{16, 16}, {17, 17}, {32, 32}, {40, 20}, {47, 47}}
	for _, p := range inside {
		checkPixel(t, out, p[0], p[1], redPx)
	}
	outside := [][2]int{{0, 0}, {8, 32}, {32, 8}, {48, 48}, {50, 20}, {32, 50}, {63, 63}}
	for _, p := range outside {
		checkPixel(t, out, p[0], p[1], whitePx)
	}
}

func TestRenderPartialCoverage(t *testing.T) {
	// The bottom edge cuts pixel row 40 in half. The winding below it
	// travels through backdrops and left-edge markers across four
	// tile columns, so this checks the whole winding plumbing.
	var scene Scene
	scene.Fill(red, RectPath(curve.Rect{X0: 16, Y0: 16, X1: 48, Y1: 40.5}))
	out := render(t, &scene, 64, 64)

	half := mixPixel(whitePx, redPx, 0.5)
	for _, x := range []int{17, 20, 34, 47} {
		checkPixel(t, out, x, 39, redPx)
		checkPixel(t, out, x, 40, half)
		checkPixel(t, out, x, 41, whitePx)
	}
}

func TestRenderStroke(t *testing.T) {
	var scene Scene
	scene.Stroke(red, 2, []curve.Line{{P0: curve.Pt(4, 8), P1: curve.Pt(28, 8)}})
	out := render(t, &scene, 32, 32)

	// The stroke spans two tiles; the covered rows are those whose
	// pixel centers lie within half a width of the line.
	for _, x := range []int{6, 12, 20, 26} {
		checkPixel(t, out, x, 7, redPx)
		checkPixel(t, out, x, 8, redPx)
		checkPixel(t, out, x, 5, whitePx)
		checkPixel(t, out, x, 10, whitePx)
	}
	checkPixel(t, out, 1, 8, whitePx)
	checkPixel(t, out, 30, 8, whitePx)
}

func TestRenderStrokeTileBoundary(t *testing.T) {
	// A hairline of half-width 0.5 centered on the seam between two
	// tile rows covers the adjacent pixel rows by exactly half each;
	// the segment is binned into both rows of tiles.
	var scene Scene
	scene.Stroke(red, 1, []curve.Line{{P0: curve.Pt(4, 16), P1: curve.Pt(28, 16)}})
	out := render(t, &scene, 32, 32)

	half := mixPixel(whitePx, redPx, 0.5)
	for _, x := range []int{6, 12, 20, 26} {
		checkPixel(t, out, x, 14, whitePx)
		checkPixel(t, out, x, 15, half)
		checkPixel(t, out, x, 16, half)
		checkPixel(t, out, x, 17, whitePx)
	}
}

func TestRenderClip(t *testing.T) {
	var scene Scene
	scene.BeginClip(RectPath(curve.Rect{X0: 0, Y0: 0, X1: 16, Y1: 32}))
	scene.Fill(red, RectPath(curve.Rect{X0: 0, Y0: 0, X1: 32, Y1: 32}))
	scene.EndClip(1)
	out := render(t, &scene, 32, 32)

	checkPixel(t, out, 8, 8, redPx)
	checkPixel(t, out, 8, 24, redPx)
	checkPixel(t, out, 24, 8, whitePx)
	checkPixel(t, out, 24, 24, whitePx)
}

func TestRenderTranslucentLayer(t *testing.T) {
	full := RectPath(curve.Rect{X0: 0, Y0: 0, X1: 32, Y1: 32})
	var scene Scene
	scene.Fill(red, full)
	scene.BeginClip(full)
	scene.Fill(green, full)
	scene.EndClip(0.5)
	out := render(t, &scene, 32, 32)

	// The layer saves the red background with full coverage, paints
	// green, and composites back at half opacity.
	saved := gfx.UnpackLinear(redPx)
	layer := gfx.UnpackLinear(greenPx)
	w := float32(0.5) * 1
	want := gfx.PackSRGBA([4]float32{
		gfx.ToSRGB(jmath.Mix(saved[0], layer[0], w)),
		gfx.ToSRGB(jmath.Mix(saved[1], layer[1], w)),
		gfx.ToSRGB(jmath.Mix(saved[2], layer[2], w)),
		1,
	})
	for y := range 32 {
		for x := range 32 {
			checkPixel(t, out, x, y, want)
		}
	}
}

func TestRenderNestedClips(t *testing.T) {
	var scene Scene
	scene.BeginClip(RectPath(curve.Rect{X0: 0, Y0: 0, X1: 24, Y1: 32}))
	scene.BeginClip(RectPath(curve.Rect{X0: 8, Y0: 0, X1: 32, Y1: 32}))
	scene.Fill(red, RectPath(curve.Rect{X0: 0, Y0: 0, X1: 32, Y1: 32}))
	scene.EndClip(1)
	scene.EndClip(1)
	out := render(t, &scene, 32, 32)

	// Only the intersection of the two clips is painted.
	checkPixel(t, out, 4, 16, whitePx)
	checkPixel(t, out, 12, 16, redPx)
	checkPixel(t, out, 20, 16, redPx)
	checkPixel(t, out, 28, 16, whitePx)
}

func TestRenderFillImage(t *testing.T) {
	img := gfx.NewImage(32, 32)
	for y := range 32 {
		for x := range 32 {
			img.Set(x, y, bluePx)
		}
	}
	r := NewRenderer(1 << 20)
	idx := r.AddImage(img)

	var scene Scene
	scene.FillImage(idx, 0, 0, RectPath(curve.Rect{X0: 0, Y0: 0, X1: 16, Y1: 32}))
	out, err := r.Render(&scene, 32, 32, &RenderOptions{BaseColor: white})
	if err != nil {
		t.Fatal(err)
	}

	checkPixel(t, out, 8, 8, bluePx)
	checkPixel(t, out, 24, 8, whitePx)
}

func TestRenderPaintOrderAcrossPartitions(t *testing.T) {
	// More elements than one binning partition holds, all over the
	// same tiles; the last one must win.
	full := RectPath(curve.Rect{X0: 0, Y0: 0, X1: 64, Y1: 64})
	var scene Scene
	for range 150 {
		scene.Fill(red, full)
		scene.Fill(green, full)
	}
	scene.Fill(blue, full)
	out := render(t, &scene, 64, 64)

	for _, p := range [][2]int{{0, 0}, {32, 32}, {63, 63}} {
		checkPixel(t, out, p[0], p[1], bluePx)
	}
}

func TestRenderDeterministic(t *testing.T) {
	// Page allocation order may vary between runs, but the pixels must
	// not.
	var scene Scene
	scene.Fill(red, RectPath(curve.Rect{X0: 10, Y0: 10, X1: 50, Y1: 37.25}))
	scene.BeginClip(RectPath(curve.Rect{X0: 0, Y0: 0, X1: 40, Y1: 64}))
	scene.Stroke(green, 3, []curve.Line{{P0: curve.Pt(5, 30), P1: curve.Pt(60, 35)}})
	scene.EndClip(0.75)

	first := render(t, &scene, 64, 64)
	second := render(t, &scene, 64, 64)
	for i, px := range first.Pix {
		if px != second.Pix[i] {
			t.Fatalf("pixel %d differs between runs: %#08x vs %#08x", i, px, second.Pix[i])
		}
	}
}

func TestRenderExhaustion(t *testing.T) {
	var scene Scene
	scene.Fill(red, RectPath(curve.Rect{X0: 0, Y0: 0, X1: 64, Y1: 64}))
	r := NewRenderer(128)
	if _, err := r.Render(&scene, 64, 64, nil); !errors.Is(err, mem.ErrExhausted) {
		t.Fatalf("err = %v, want %v", err, mem.ErrExhausted)
	}
}

func TestRenderReuse(t *testing.T) {
	r := NewRenderer(1 << 20)
	var scene Scene
	scene.Fill(red, RectPath(curve.Rect{X0: 0, Y0: 0, X1: 32, Y1: 32}))
	if _, err := r.Render(&scene, 32, 32, &RenderOptions{BaseColor: white}); err != nil {
		t.Fatal(err)
	}

	// The arena is reset between frames; a second render must not see
	// leftovers from the first.
	scene.Reset()
	scene.Fill(green, RectPath(curve.Rect{X0: 0, Y0: 0, X1: 16, Y1: 32}))
	out, err := r.Render(&scene, 32, 32, &RenderOptions{BaseColor: white})
	if err != nil {
		t.Fatal(err)
	}
	checkPixel(t, out, 8, 8, greenPx)
	checkPixel(t, out, 24, 8, whitePx)
}

func TestEndClipWithoutBeginPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	var scene Scene
	scene.EndClip(1)
}
