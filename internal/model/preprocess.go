package model

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"
)

// Preprocess converts an image into the input tensor described by d: a
// centered square crop, resized to the input size, laid out per d.Layout()
// and normalized per d.Normalize.
func Preprocess(img image.Image, d Descriptor) []float32 {
	width, height := d.InputSize()
	resized := resize.Resize(uint(width), uint(height), cropSquare(img), resize.Bilinear)

	bounds := resized.Bounds()
	plane := width * height
	data := make([]float32, 3*plane)
	nchw := d.Layout() == LayoutNCHW

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rgb := [3]float32{
				normalize(r, d.Normalize),
				normalize(g, d.Normalize),
				normalize(b, d.Normalize),
			}

			pixel := y*width + x
			for c := 0; c < 3; c++ {
				if nchw {
					data[c*plane+pixel] = rgb[c]
				} else {
					data[pixel*3+c] = rgb[c]
				}
			}
		}
	}
	return data
}

func normalize(v uint32, mode string) float32 {
	unit := float32(v) / 65535.0
	if mode == NormalizeUnit {
		return unit
	}
	return unit*2 - 1
}

// cropSquare returns the largest centered square of img.
func cropSquare(img image.Image) image.Image {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	if b.Dx() == b.Dy() {
		return img
	}

	origin := image.Pt(b.Min.X+(b.Dx()-side)/2, b.Min.Y+(b.Dy()-side)/2)
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), img, origin, draw.Src)
	return dst
}
