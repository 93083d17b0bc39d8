// Package standard finds the calibration standard in an image of film and
// measures its representative grey value.
//
// The image is median filtered and its intensity histogram split at the
// troughs between peaks. The intensity region under the image centre is
// cleaned up morphologically, and the connected component nearest the
// centre becomes the region of interest. When segmentation yields nothing,
// a fixed window at the centre is measured instead.
package standard

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"qarprep/internal/models"
	"qarprep/pkg/config"
)

// ErrEmptyROI is returned when the final region of interest has no pixels.
var ErrEmptyROI = errors.New("standard region of interest is empty")

// Result describes where the standard was found.
type Result struct {
	// Value is the representative inverted grey value inside ROI
	Value float64

	// ROI is the final measured region
	ROI *Mask

	// Foreground is the cleaned segmentation before border clearing;
	// empty when the image was classified as background
	Foreground *Mask

	// Background is set when the histogram shows no standard
	Background bool

	// Peaks is the number of histogram peaks found
	Peaks int

	// Components is the number of candidate components after cleaning
	Components int

	// Inverted is the inverted grey image the value was measured on
	Inverted *models.GreyImage
}

// Locator segments standard images.
type Locator struct {
	params config.LocatorParams
}

// NewLocator creates a locator with the given tuning.
func NewLocator(params config.LocatorParams) *Locator {
	return &Locator{params: params}
}

// Locate finds the standard in img (non-inverted grey values).
func (l *Locator) Locate(img *models.GreyImage) (*Result, error) {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil, errors.New("empty image")
	}

	w, h := img.Width, img.Height
	centerRow := int(math.RoundToEven(float64(h) / 2))
	centerCol := int(math.RoundToEven(float64(w) / 2))

	filtered := MedianFilter(toUbyte(img), w, h, l.params.MedianRadius)
	hist, lo := Histogram(filtered)
	minHeight := l.params.PeakHeightFraction * float64(len(filtered))

	peaks := FindPeaks(hist, PeakOptions{Height: minHeight, Distance: l.params.PeakDistance})

	res := &Result{Peaks: len(peaks), Foreground: NewMask(w, h)}
	var labels []int

	if len(peaks) < 2 {
		res.Background = true
	} else {
		inverted := make([]float64, len(hist))
		top := floats.Max(hist)
		for i, v := range hist {
			inverted[i] = top - v
		}
		troughs := FindPeaks(inverted, PeakOptions{Distance: l.params.PeakDistance, Prominence: minHeight})

		thresholds := make([]float64, 0, len(peaks)-1)
		for i := 0; i+1 < len(peaks); i++ {
			thresholds = append(thresholds, splitLevel(peaks[i], peaks[i+1], troughs, lo))
		}
		regions := Digitize(filtered, thresholds)
		mode := centerMode(regions, w, h, centerRow, centerCol, l.params.CenterApothem)

		if len(peaks) == 2 && mode == 1 {
			res.Background = true
		} else {
			thresh := NewMask(w, h)
			for i, r := range regions {
				thresh.Pix[i] = r == mode
			}
			res.Foreground = AreaOpening(ErodeDisk(FillHoles(thresh), l.params.ErosionRadius), l.params.AreaThreshold)
			labels, res.Components = Label(ClearBorder(res.Foreground), true)
		}
	}

	res.ROI = l.selectROI(labels, res.Components, res.Foreground, centerRow, centerCol)
	res.Inverted = invert(img)

	value, err := l.measure(res.Inverted, res.ROI)
	if err != nil {
		return res, err
	}
	res.Value = value
	return res, nil
}

// splitLevel picks the lowest trough strictly between two peaks, or their
// midpoint when there is none. Indices are histogram bins offset by lo.
func splitLevel(p1, p2 int, troughs []int, lo int) float64 {
	for _, t := range troughs {
		if t > p1 && t < p2 {
			return float64(t + lo)
		}
	}
	return float64(p1+p2)/2 + float64(lo)
}

// centerMode returns the most frequent region inside the centre patch.
// Ties go to the region seen first in raster order.
func centerMode(regions []int, w, h, row, col, apothem int) int {
	r0, r1 := clampRange(row-apothem, row+apothem, h)
	c0, c1 := clampRange(col-apothem, col+apothem, w)

	counts := make(map[int]int)
	var order []int
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			v := regions[r*w+c]
			if _, ok := counts[v]; !ok {
				order = append(order, v)
			}
			counts[v]++
		}
	}

	best, bestCount := 0, -1
	for _, v := range order {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

func clampRange(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// selectROI applies the component selection policy.
func (l *Locator) selectROI(labels []int, n int, foreground *Mask, row, col int) *Mask {
	w, h := foreground.Width, foreground.Height
	roi := NewMask(w, h)

	switch n {
	case 0:
		apothem := int(math.RoundToEven(float64(l.params.FallbackSquare) / 2))
		r0, r1 := clampRange(row-apothem, row+apothem, h)
		c0, c1 := clampRange(col-apothem, col+apothem, w)
		for r := r0; r < r1; r++ {
			for c := c0; c < c1; c++ {
				roi.Pix[r*w+c] = true
			}
		}
		if foreground.Any() {
			roi.And(foreground)
		}
	case 1:
		for i, lab := range labels {
			roi.Pix[i] = lab == 1
		}
	default:
		target := NearestLabel(ComponentCentroids(labels, n, w), float64(row), float64(col))
		for i, lab := range labels {
			roi.Pix[i] = lab == target
		}
	}
	return roi
}

// invert maps v to 65535 - uint16(v) so dark film reads high.
func invert(img *models.GreyImage) *models.GreyImage {
	out := models.NewGreyImage(img.Width, img.Height)
	for i, v := range img.Pix {
		v = math.Max(0, math.Min(models.MaxGrey, math.Trunc(v)))
		out.Pix[i] = models.MaxGrey - v
	}
	return out
}

func (l *Locator) measure(inv *models.GreyImage, roi *Mask) (float64, error) {
	values := make([]float64, 0, roi.Count())
	for i, set := range roi.Pix {
		if set {
			values = append(values, inv.Pix[i])
		}
	}
	if len(values) == 0 {
		return math.NaN(), ErrEmptyROI
	}

	switch l.params.Statistic {
	case "", "median":
		return Median(values), nil
	case "mean":
		return stat.Mean(values, nil), nil
	default:
		return math.NaN(), fmt.Errorf("unknown statistic %q", l.params.Statistic)
	}
}

// Median returns the middle value of values, averaging the two central
// values for even lengths. values is reordered.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(values)
	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}
