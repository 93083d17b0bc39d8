package models

import (
	"fmt"
	"math"
)

// MaxGrey is the largest grey value a 16-bit digitiser can produce.
const MaxGrey = 65535

// GreyImage is a single-channel grey-value image in row-major order.
type GreyImage struct {
	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int

	// Pix holds Width*Height grey values within [0, MaxGrey]
	Pix []float64
}

// NewGreyImage allocates a zeroed image of the given size.
func NewGreyImage(width, height int) *GreyImage {
	return &GreyImage{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// At returns the grey value at row r, column c.
func (g *GreyImage) At(r, c int) float64 {
	return g.Pix[r*g.Width+c]
}

// Set stores v at row r, column c.
func (g *GreyImage) Set(r, c int, v float64) {
	g.Pix[r*g.Width+c] = v
}

// Clamp forces every value into the 16-bit grey range. NaN becomes 0.
func (g *GreyImage) Clamp() {
	for i, v := range g.Pix {
		switch {
		case math.IsNaN(v) || v < 0:
			g.Pix[i] = 0
		case v > MaxGrey:
			g.Pix[i] = MaxGrey
		}
	}
}

// SameShape reports an error when o does not have the size of g.
func (g *GreyImage) SameShape(o *GreyImage) error {
	if g.Width != o.Width || g.Height != o.Height {
		return fmt.Errorf("image shape mismatch: %dx%d vs %dx%d", g.Width, g.Height, o.Width, o.Height)
	}
	return nil
}

// FlatField holds the reference images used to correct illumination
// non-uniformity. It is loaded once per run and never written afterwards.
type FlatField struct {
	Flat *GreyImage
	Dark *GreyImage
}

// Volume is a stack of calibrated slices, stored slice-major as
// Data[(s*Rows+r)*Cols+c].
type Volume struct {
	Rows   int
	Cols   int
	Slices int
	Data   []float64
}

// NewVolume allocates a zeroed volume.
func NewVolume(rows, cols, slices int) *Volume {
	return &Volume{
		Rows:   rows,
		Cols:   cols,
		Slices: slices,
		Data:   make([]float64, rows*cols*slices),
	}
}

// Index returns the offset of (r, c, s) in Data.
func (v *Volume) Index(r, c, s int) int {
	return (s*v.Rows+r)*v.Cols + c
}

// At returns the value at row r, column c of slice s.
func (v *Volume) At(r, c, s int) float64 {
	return v.Data[v.Index(r, c, s)]
}

// SliceData returns the backing values of slice s without copying.
func (v *Volume) SliceData(s int) []float64 {
	n := v.Rows * v.Cols
	return v.Data[s*n : (s+1)*n]
}
