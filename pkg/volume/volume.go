// Package volume reads and writes calibrated activity volumes: 2-D planes
// cut from a volume, 32-bit float TIFF slices and NIfTI-1 volumes.
package volume

import (
	"fmt"

	"qarprep/internal/models"
)

// Plane is a 2-D array of float values in row-major order.
type Plane struct {
	Rows int
	Cols int
	Data []float64
}

// At returns the value at row r, column c.
func (p *Plane) At(r, c int) float64 {
	return p.Data[r*p.Cols+c]
}

// ExtractSlice cuts a plane from v along the given axis: "z" selects a
// slice, "y" a row (cols x slices) and "x" a column (rows x slices).
func ExtractSlice(v *models.Volume, axis string, position int) (*Plane, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	switch axis {
	case "x", "X":
		if position >= v.Cols {
			return nil, fmt.Errorf("position %d exceeds columns %d", position, v.Cols)
		}
		p := &Plane{Rows: v.Rows, Cols: v.Slices, Data: make([]float64, v.Rows*v.Slices)}
		for r := 0; r < v.Rows; r++ {
			for s := 0; s < v.Slices; s++ {
				p.Data[r*v.Slices+s] = v.At(r, position, s)
			}
		}
		return p, nil

	case "y", "Y":
		if position >= v.Rows {
			return nil, fmt.Errorf("position %d exceeds rows %d", position, v.Rows)
		}
		p := &Plane{Rows: v.Slices, Cols: v.Cols, Data: make([]float64, v.Slices*v.Cols)}
		for s := 0; s < v.Slices; s++ {
			for c := 0; c < v.Cols; c++ {
				p.Data[s*v.Cols+c] = v.At(position, c, s)
			}
		}
		return p, nil

	case "z", "Z":
		if position >= v.Slices {
			return nil, fmt.Errorf("position %d exceeds slices %d", position, v.Slices)
		}
		p := &Plane{Rows: v.Rows, Cols: v.Cols, Data: make([]float64, v.Rows*v.Cols)}
		copy(p.Data, v.SliceData(position))
		return p, nil

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// Select returns a new volume holding the given slices of v, in order.
func Select(v *models.Volume, indices []int) (*models.Volume, error) {
	out := models.NewVolume(v.Rows, v.Cols, len(indices))
	for i, s := range indices {
		if s < 0 || s >= v.Slices {
			return nil, fmt.Errorf("slice %d out of range [0, %d)", s, v.Slices)
		}
		copy(out.SliceData(i), v.SliceData(s))
	}
	return out, nil
}
