// Package raster holds the row-major float32 image used for science,
// variance, psi and phi layers. Masked pixels are stored as NaN.
package raster

import (
	"fmt"
	"math"
)

// Image is a Width×Height row-major raster.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// Masked returns the sentinel stored in masked pixels.
func Masked() float32 { return float32(math.NaN()) }

// IsValid reports whether v is a usable (finite, unmasked) pixel value.
func IsValid(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// New allocates a zero-filled image.
func New(width, height int) *Image {
	if width < 0 || height < 0 {
		panic(fmt.Sprintf("raster: negative dimensions %dx%d", width, height))
	}
	return &Image{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// NewFilled allocates an image with every pixel set to v.
func NewFilled(width, height int, v float32) *Image {
	im := New(width, height)
	for i := range im.Pix {
		im.Pix[i] = v
	}
	return im
}

// FromRows builds an image from rows of equal length. Handy in tests.
func FromRows(rows [][]float32) (*Image, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}
	w := len(rows[0])
	im := New(w, len(rows))
	for y, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("row %d has %d columns, want %d", y, len(row), w)
		}
		copy(im.Pix[y*w:(y+1)*w], row)
	}
	return im, nil
}

// Idx returns the flat index of (x, y).
func (im *Image) Idx(x, y int) int { return y*im.Width + x }

// In reports whether (x, y) is inside the image.
func (im *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < im.Width && y < im.Height
}

// At returns the pixel at (x, y). Out-of-range coordinates panic.
func (im *Image) At(x, y int) float32 {
	if !im.In(x, y) {
		panic(fmt.Sprintf("raster: pixel (%d,%d) outside %dx%d image", x, y, im.Width, im.Height))
	}
	return im.Pix[im.Idx(x, y)]
}

// Set writes the pixel at (x, y). Out-of-range coordinates panic.
func (im *Image) Set(x, y int, v float32) {
	if !im.In(x, y) {
		panic(fmt.Sprintf("raster: pixel (%d,%d) outside %dx%d image", x, y, im.Width, im.Height))
	}
	im.Pix[im.Idx(x, y)] = v
}

// Valid reports whether (x, y) is inside the image and holds a usable value.
func (im *Image) Valid(x, y int) bool {
	return im.In(x, y) && IsValid(im.Pix[im.Idx(x, y)])
}

// Mask marks (x, y) as masked.
func (im *Image) Mask(x, y int) { im.Set(x, y, Masked()) }

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := &Image{Width: im.Width, Height: im.Height, Pix: make([]float32, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// SameSize reports whether both images share dimensions.
func (im *Image) SameSize(other *Image) bool {
	return other != nil && im.Width == other.Width && im.Height == other.Height
}
