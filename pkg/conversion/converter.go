// Package conversion applies the inverse calibration curve to slide images,
// producing a volume of activity values.
package conversion

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"qarprep/internal/models"
	"qarprep/pkg/calibration"
)

// Converter turns a stack of grey images into an activity volume.
type Converter struct {
	// rotate is the number of 90 degree clockwise turns, already reduced mod 4
	rotate int

	numWorkers int
}

// NewConverter validates the rotation count. numWorkers <= 0 uses all CPUs.
func NewConverter(rotate, numWorkers int) (*Converter, error) {
	if rotate < 0 {
		return nil, fmt.Errorf("rotation count must be non-negative, got %d", rotate)
	}
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &Converter{rotate: rotate % 4, numWorkers: numWorkers}, nil
}

// Convert evaluates the inverse curve at every pixel of every slice.
// Undefined activities become 0. Odd rotations swap rows and columns.
func (cv *Converter) Convert(stack []*models.GreyImage, m models.CalibrationModel) (*models.Volume, error) {
	if len(stack) == 0 {
		return nil, errors.New("no slices to convert")
	}
	for i, img := range stack[1:] {
		if err := stack[0].SameShape(img); err != nil {
			return nil, fmt.Errorf("slice %d: %w", i+1, err)
		}
	}

	rows, cols := stack[0].Height, stack[0].Width
	if cv.rotate%2 == 1 {
		rows, cols = cols, rows
	}
	vol := models.NewVolume(rows, cols, len(stack))

	// each worker owns a contiguous block of slices
	numSlices := len(stack)
	perWorker := (numSlices + cv.numWorkers - 1) / cv.numWorkers

	var wg sync.WaitGroup
	for w := 0; w < cv.numWorkers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > numSlices {
			end = numSlices
		}
		if start >= end {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for s := start; s < end; s++ {
				activity := ToActivity(stack[s], m)
				rotate(activity, stack[s].Height, stack[s].Width, cv.rotate, vol.SliceData(s))
			}
		}(start, end)
	}
	wg.Wait()

	return vol, nil
}

// ToActivity applies the inverse curve to one image, with NaN mapped to 0.
func ToActivity(img *models.GreyImage, m models.CalibrationModel) []float64 {
	out := make([]float64, len(img.Pix))
	for i, g := range img.Pix {
		a := calibration.Inverse(g, m)
		if math.IsNaN(a) {
			a = 0
		}
		out[i] = a
	}
	return out
}

// rotate writes src (rows x cols) turned k times clockwise into dst.
func rotate(src []float64, rows, cols, k int, dst []float64) {
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := src[r*cols+c]
			switch k {
			case 0:
				dst[r*cols+c] = v
			case 1:
				// (r, c) -> (c, rows-1-r) in a cols x rows image
				dst[c*rows+(rows-1-r)] = v
			case 2:
				dst[(rows-1-r)*cols+(cols-1-c)] = v
			case 3:
				// (r, c) -> (cols-1-c, r)
				dst[(cols-1-c)*rows+r] = v
			}
		}
	}
}
