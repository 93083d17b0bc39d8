package standard

import (
	"math"

	"qarprep/internal/models"
)

// toUbyte rescales img by its maximum into 8-bit levels.
func toUbyte(img *models.GreyImage) []uint8 {
	out := make([]uint8, len(img.Pix))

	maxVal := 0.0
	for _, v := range img.Pix {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal <= 0 {
		return out
	}

	for i, v := range img.Pix {
		level := math.RoundToEven(v / maxVal * 255)
		if level < 0 {
			level = 0
		}
		out[i] = uint8(level)
	}
	return out
}

// diskHalfWidths returns, for each row offset dy in [-r, r], the largest dx
// with dx*dx+dy*dy <= r*r.
func diskHalfWidths(r int) []int {
	hw := make([]int, 2*r+1)
	for dy := -r; dy <= r; dy++ {
		hw[dy+r] = int(math.Floor(math.Sqrt(float64(r*r - dy*dy))))
	}
	return hw
}

// MedianFilter applies a rank median over a disk of the given radius. Only
// pixels inside the image contribute, so the footprint shrinks at borders.
// For an even population the upper median is returned.
//
// The histogram is updated incrementally along each row (Huang's method),
// which keeps the cost linear in the radius rather than quadratic.
func MedianFilter(pix []uint8, width, height, radius int) []uint8 {
	out := make([]uint8, len(pix))
	if radius <= 0 {
		copy(out, pix)
		return out
	}

	hw := diskHalfWidths(radius)
	var hist [256]int

	for y := 0; y < height; y++ {
		hist = [256]int{}
		pop := 0

		// seed the window centred on column 0
		for dy := -radius; dy <= radius; dy++ {
			yy := y + dy
			if yy < 0 || yy >= height {
				continue
			}
			w := hw[dy+radius]
			for dx := -w; dx <= w; dx++ {
				if dx < 0 || dx >= width {
					continue
				}
				hist[pix[yy*width+dx]]++
				pop++
			}
		}

		for x := 0; x < width; x++ {
			if x > 0 {
				for dy := -radius; dy <= radius; dy++ {
					yy := y + dy
					if yy < 0 || yy >= height {
						continue
					}
					w := hw[dy+radius]
					if drop := x - 1 - w; drop >= 0 {
						hist[pix[yy*width+drop]]--
						pop--
					}
					if add := x + w; add < width {
						hist[pix[yy*width+add]]++
						pop++
					}
				}
			}

			cum := 0
			for v := 0; v < 256; v++ {
				cum += hist[v]
				if 2*cum > pop {
					out[y*width+x] = uint8(v)
					break
				}
			}
		}
	}

	return out
}
