package standard

import (
	"math"

	"github.com/mkmik/argsort"
)

// Histogram counts every level between the minimum and maximum of pix.
// It returns the counts and the level of the first bin.
func Histogram(pix []uint8) ([]float64, int) {
	if len(pix) == 0 {
		return nil, 0
	}

	lo, hi := pix[0], pix[0]
	for _, v := range pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	counts := make([]float64, int(hi)-int(lo)+1)
	for _, v := range pix {
		counts[int(v)-int(lo)]++
	}
	return counts, int(lo)
}

// PeakOptions filters the local maxima found by FindPeaks. Zero values
// disable a filter.
type PeakOptions struct {
	// Height is the minimum peak value
	Height float64

	// Distance is the minimum index separation between kept peaks;
	// higher peaks win
	Distance int

	// Prominence is the minimum vertical drop to the higher of the two
	// bases of a peak
	Prominence float64
}

// FindPeaks returns the indices of local maxima of x, in increasing order.
// Flat maxima report their midpoint (rounded down) and the first and last
// samples are never peaks. Filters apply in the order height, distance,
// prominence.
func FindPeaks(x []float64, opts PeakOptions) []int {
	peaks := localMaxima(x)

	if opts.Height > 0 {
		kept := peaks[:0]
		for _, p := range peaks {
			if x[p] >= opts.Height {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}

	if opts.Distance > 1 && len(peaks) > 1 {
		peaks = selectByDistance(x, peaks, opts.Distance)
	}

	if opts.Prominence > 0 {
		kept := peaks[:0]
		for _, p := range peaks {
			if Prominence(x, p) >= opts.Prominence {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}

	return peaks
}

func localMaxima(x []float64) []int {
	var peaks []int
	last := len(x) - 1

	i := 1
	for i < last {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < last && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				peaks = append(peaks, (i+ahead-1)/2)
				i = ahead
			}
		}
		i++
	}
	return peaks
}

// selectByDistance drops peaks closer than distance to a higher peak.
func selectByDistance(x []float64, peaks []int, distance int) []int {
	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}

	order := argsort.SortSlice(peaks, func(i, j int) bool {
		return x[peaks[i]] < x[peaks[j]]
	})

	for i := len(order) - 1; i >= 0; i-- {
		j := order[i]
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	kept := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			kept = append(kept, p)
		}
	}
	return kept
}

// Prominence measures how far peak p stands above the higher of its two
// bases. Each base is the minimum reached before the signal rises above
// x[p] or the border is hit.
func Prominence(x []float64, p int) float64 {
	leftMin := x[p]
	for i := p; i >= 0 && x[i] <= x[p]; i-- {
		leftMin = math.Min(leftMin, x[i])
	}

	rightMin := x[p]
	for i := p; i < len(x) && x[i] <= x[p]; i++ {
		rightMin = math.Min(rightMin, x[i])
	}

	return x[p] - math.Max(leftMin, rightMin)
}

// Digitize assigns each level the number of thresholds it reaches, so
// region i holds levels in [thresholds[i-1], thresholds[i]).
func Digitize(pix []uint8, thresholds []float64) []int {
	regions := make([]int, len(pix))
	for i, v := range pix {
		r := 0
		for _, t := range thresholds {
			if float64(v) >= t {
				r++
			}
		}
		regions[i] = r
	}
	return regions
}
