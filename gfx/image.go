// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"image"
	stdcolor "image/color"
)

// An Image is a grid of 0xRRGGBBAA words. It serves both as the render
// target of the fine rasterizer and as the pixel source for image
// fills.
type Image struct {
	Width  int
	Height int
	// Pix holds the pixels in row-major order, packed as 0xRRGGBBAA
	// with non-linear sRGB color channels.
	Pix []uint32
}

// NewImage returns a zeroed image of the given size.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint32, width*height),
	}
}

// Sample returns the pixel at (x, y), clamping coordinates to the
// image's edges.
func (img *Image) Sample(x, y int) uint32 {
	x = min(max(x, 0), img.Width-1)
	y = min(max(y, 0), img.Height-1)
	return img.Pix[y*img.Width+x]
}

// Set stores a packed pixel at (x, y). Out-of-bounds writes are
// discarded.
func (img *Image) Set(x, y int, rgba uint32) {
	if uint(x) >= uint(img.Width) || uint(y) >= uint(img.Height) {
		return
	}
	img.Pix[y*img.Width+x] = rgba
}

// NRGBA converts the image to the standard library's straight-alpha
// representation. Pixels are straight alpha throughout, so premultiplied
// formats would lose translucent values.
func (img *Image) NRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			px := img.Pix[y*img.Width+x]
			i := out.PixOffset(x, y)
			out.Pix[i+0] = uint8(px >> 24)
			out.Pix[i+1] = uint8(px >> 16)
			out.Pix[i+2] = uint8(px >> 8)
			out.Pix[i+3] = uint8(px)
		}
	}
	return out
}

// ImageFromImage converts any standard library image.
func ImageFromImage(src image.Image) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			c := stdcolor.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(stdcolor.NRGBA)
			out.Pix[y*out.Width+x] = uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
		}
	}
	return out
}

// An Atlas holds the images referenced by image fills. Commands refer
// to images by their index in the atlas.
type Atlas struct {
	images []*Image
}

// Add registers an image and returns its index.
func (a *Atlas) Add(img *Image) uint32 {
	a.images = append(a.images, img)
	return uint32(len(a.images) - 1)
}

// Image returns the image with the given index, or nil if the index is
// out of range.
func (a *Atlas) Image(index uint32) *Image {
	if index >= uint32(len(a.images)) {
		return nil
	}
	return a.images[index]
}
