// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"honnef.co/go/color"
	"honnef.co/go/piet/jmath"
)

// FromSRGB converts a non-linear sRGB channel value to linear light.
func FromSRGB(s float32) float32 {
	if s <= 0.04045 {
		return s / 12.92
	}
	return jmath.Pow32((s+0.055)/1.055, 2.4)
}

// ToSRGB converts a linear channel value to non-linear sRGB.
func ToSRGB(l float32) float32 {
	if l <= 0.0031308 {
		return l * 12.92
	}
	return 1.055*jmath.Pow32(l, 0.41666) - 0.055
}

// PackSRGBA packs non-linear sRGB channels in [0, 1] into a word as
// 0xRRGGBBAA.
func PackSRGBA(rgba [4]float32) uint32 {
	var packed uint32
	for _, c := range rgba {
		u := uint32(jmath.Round32(jmath.Clamp(c, 0, 1) * 255))
		packed = packed<<8 | u
	}
	return packed
}

// UnpackSRGBA unpacks a 0xRRGGBBAA word into non-linear sRGB channels.
func UnpackSRGBA(packed uint32) [4]float32 {
	return [4]float32{
		float32(packed>>24&0xff) / 255,
		float32(packed>>16&0xff) / 255,
		float32(packed>>8&0xff) / 255,
		float32(packed&0xff) / 255,
	}
}

// UnpackLinear unpacks a 0xRRGGBBAA word and converts the color
// channels to linear light. Alpha is linear already and passes
// through.
func UnpackLinear(packed uint32) [4]float32 {
	c := UnpackSRGBA(packed)
	return [4]float32{FromSRGB(c[0]), FromSRGB(c[1]), FromSRGB(c[2]), c[3]}
}

// Color is a color that can express itself in linear sRGB. Colors from
// honnef.co/go/color are adapted with AdaptColor; SRGB is a literal
// implementation.
type Color interface {
	// LinearSRGB returns the straight (not premultiplied) linear sRGB
	// channels and alpha, in [0, 1].
	LinearSRGB() (rgb [3]float32, alpha float32)
}

// SRGB is a Color given as non-linear sRGB-encoded components.
type SRGB struct {
	R, G, B, A float32
}

func (c SRGB) LinearSRGB() ([3]float32, float32) {
	return [3]float32{FromSRGB(c.R), FromSRGB(c.G), FromSRGB(c.B)}, c.A
}

// AdaptColor makes a honnef.co/go/color color usable as a Color. The
// conversion to linear sRGB happens on every call.
func AdaptColor(c *color.Color) Color {
	return adaptedColor{c}
}

type adaptedColor struct {
	c *color.Color
}

func (a adaptedColor) LinearSRGB() ([3]float32, float32) {
	cc := a.c.Convert(color.LinearSRGB)
	return [3]float32{
		float32(cc.Values[0]),
		float32(cc.Values[1]),
		float32(cc.Values[2]),
	}, float32(cc.Values[3])
}

// PackColor packs a color into the 0xRRGGBBAA wire format used by fill
// and stroke commands. The color channels are stored non-linear.
func PackColor(c Color) uint32 {
	if c == nil {
		return 0
	}
	rgb, alpha := c.LinearSRGB()
	return PackSRGBA([4]float32{
		ToSRGB(rgb[0]),
		ToSRGB(rgb[1]),
		ToSRGB(rgb[2]),
		alpha,
	})
}
