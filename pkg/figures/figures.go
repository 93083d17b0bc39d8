// Package figures renders diagnostic rasters: the located standard ROI over
// its image, and previews of calibrated slices.
package figures

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"qarprep/internal/models"
)

// MaxPreviewSide bounds the longest side of any written figure
const MaxPreviewSide = 1024

var roiColor = color.NRGBA{255, 0, 0, 255}

// ROIOverlay writes img as a grey PNG with the boundary of roi in red.
// Brighter means higher grey value.
func ROIOverlay(path string, img *models.GreyImage, roi []bool) error {
	if len(roi) != len(img.Pix) {
		return fmt.Errorf("mask has %d pixels, image has %d", len(roi), len(img.Pix))
	}

	lo, hi := valueRange(img.Pix)
	canvas := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for r := 0; r < img.Height; r++ {
		for c := 0; c < img.Width; c++ {
			i := r*img.Width + c
			if roi[i] && onBoundary(roi, img.Width, img.Height, r, c) {
				canvas.SetNRGBA(c, r, roiColor)
				continue
			}
			g := uint8(255 * normalise(img.Pix[i], lo, hi))
			canvas.SetNRGBA(c, r, color.NRGBA{g, g, g, 255})
		}
	}

	return save(path, canvas)
}

// SlicePreview writes one calibrated slice with a heat colour map scaled to
// [0, vmax]. vmax <= 0 scales to the slice maximum.
func SlicePreview(path string, v *models.Volume, slice int, vmax float64) error {
	if slice < 0 || slice >= v.Slices {
		return fmt.Errorf("slice %d out of range [0, %d)", slice, v.Slices)
	}
	return save(path, heatmap(v.SliceData(slice), v.Rows, v.Cols, vmax))
}

// Mosaic tiles every slice of v into one image, row by row.
func Mosaic(path string, v *models.Volume, vmax float64) error {
	if v.Slices == 0 {
		return fmt.Errorf("volume has no slices")
	}
	nrows, ncols := Grid(v.Slices)

	canvas := imaging.New(ncols*v.Cols, nrows*v.Rows, color.Black)
	for s := 0; s < v.Slices; s++ {
		tile := heatmap(v.SliceData(s), v.Rows, v.Cols, vmax)
		pos := image.Pt((s%ncols)*v.Cols, (s/ncols)*v.Rows)
		canvas = imaging.Paste(canvas, tile, pos)
	}
	return save(path, canvas)
}

// Grid returns the rows and columns of a near-square layout for n tiles.
func Grid(n int) (int, int) {
	if n <= 3 {
		return 1, n
	}
	ncols := int(math.Ceil(math.Sqrt(float64(n))))
	nrows := int(math.Ceil(float64(n) / float64(ncols)))
	return nrows, ncols
}

func heatmap(data []float64, rows, cols int, vmax float64) *image.NRGBA {
	if vmax <= 0 {
		_, vmax = valueRange(data)
	}
	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			img.SetNRGBA(c, r, heat(normalise(data[r*cols+c], 0, vmax)))
		}
	}
	return img
}

// heat maps t in [0, 1] through black, red, yellow and white
func heat(t float64) color.NRGBA {
	ch := func(x float64) uint8 {
		return uint8(255 * math.Max(0, math.Min(1, x)))
	}
	return color.NRGBA{ch(3 * t), ch(3*t - 1), ch(3*t - 2), 255}
}

func onBoundary(m []bool, w, h, r, c int) bool {
	for _, o := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		rr, cc := r+o[0], c+o[1]
		if rr < 0 || rr >= h || cc < 0 || cc >= w || !m[rr*w+cc] {
			return true
		}
	}
	return false
}

func valueRange(pix []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range pix {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

func normalise(v, lo, hi float64) float64 {
	if hi <= lo || math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
}

// save downsizes img to MaxPreviewSide and writes it in the format implied
// by the extension of path.
func save(path string, img image.Image) error {
	b := img.Bounds()
	if w, h := b.Dx(), b.Dy(); w > MaxPreviewSide || h > MaxPreviewSide {
		if w >= h {
			img = imaging.Resize(img, MaxPreviewSide, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, MaxPreviewSide, imaging.Lanczos)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return imaging.Save(img, path)
}
