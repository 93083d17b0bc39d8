package standard

import "math"

// Mask is a binary image in row-major order.
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

// NewMask allocates an all-false mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]bool, width*height)}
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// Any reports whether at least one pixel is set.
func (m *Mask) Any() bool {
	for _, v := range m.Pix {
		if v {
			return true
		}
	}
	return false
}

// And clears every pixel not set in o.
func (m *Mask) And(o *Mask) {
	for i := range m.Pix {
		m.Pix[i] = m.Pix[i] && o.Pix[i]
	}
}

func (m *Mask) clone() *Mask {
	c := NewMask(m.Width, m.Height)
	copy(c.Pix, m.Pix)
	return c
}

var (
	offsets4 = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	offsets8 = [][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
)

// FillHoles sets every unset pixel that cannot reach the border through
// 4-connected unset pixels.
func FillHoles(m *Mask) *Mask {
	w, h := m.Width, m.Height
	outside := make([]bool, len(m.Pix))
	queue := make([]int, 0, 2*(w+h))

	push := func(r, c int) {
		i := r*w + c
		if !m.Pix[i] && !outside[i] {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for c := 0; c < w; c++ {
		push(0, c)
		push(h-1, c)
	}
	for r := 0; r < h; r++ {
		push(r, 0)
		push(r, w-1)
	}

	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		r, c := i/w, i%w
		for _, o := range offsets4 {
			rr, cc := r+o[0], c+o[1]
			if rr >= 0 && rr < h && cc >= 0 && cc < w {
				push(rr, cc)
			}
		}
	}

	out := NewMask(w, h)
	for i := range out.Pix {
		out.Pix[i] = !outside[i]
	}
	return out
}

// ErodeDisk erodes m with a disk of the given radius. Pixels beyond the
// image border count as set, so objects are not eaten from the border.
//
// A pixel survives when its squared Euclidean distance to the nearest unset
// pixel exceeds radius², computed with the separable transform of
// Felzenszwalb and Huttenlocher.
func ErodeDisk(m *Mask, radius int) *Mask {
	if radius <= 0 {
		return m.clone()
	}

	dist := squaredDistanceToUnset(m)
	limit := float64(radius * radius)

	out := NewMask(m.Width, m.Height)
	for i, v := range m.Pix {
		out.Pix[i] = v && dist[i] > limit
	}
	return out
}

const infDistance = 1e20

func squaredDistanceToUnset(m *Mask) []float64 {
	w, h := m.Width, m.Height
	dist := make([]float64, len(m.Pix))
	for i, v := range m.Pix {
		if v {
			dist[i] = infDistance
		}
	}

	n := w
	if h > n {
		n = h
	}
	f := make([]float64, n)
	d := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for c := 0; c < w; c++ {
		for r := 0; r < h; r++ {
			f[r] = dist[r*w+c]
		}
		distance1D(f[:h], d[:h], v, z)
		for r := 0; r < h; r++ {
			dist[r*w+c] = d[r]
		}
	}
	for r := 0; r < h; r++ {
		copy(f[:w], dist[r*w:(r+1)*w])
		distance1D(f[:w], d[:w], v, z)
		copy(dist[r*w:(r+1)*w], d[:w])
	}
	return dist
}

// distance1D is the lower envelope of parabolas rooted at the samples of f.
func distance1D(f, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)

	for q := 1; q < n; q++ {
		s := intersect(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersect(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		p := v[k]
		d[q] = float64((q-p)*(q-p)) + f[p]
	}
}

func intersect(f []float64, q, p int) float64 {
	return ((f[q] + float64(q*q)) - (f[p] + float64(p*p))) / float64(2*q-2*p)
}

// Label numbers the connected components of m in raster order of their
// first pixel. Zero is background.
func Label(m *Mask, eight bool) ([]int, int) {
	w, h := m.Width, m.Height
	offsets := offsets4
	if eight {
		offsets = offsets8
	}

	labels := make([]int, len(m.Pix))
	n := 0
	var queue []int

	for start, set := range m.Pix {
		if !set || labels[start] != 0 {
			continue
		}
		n++
		labels[start] = n
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			r, c := i/w, i%w
			for _, o := range offsets {
				rr, cc := r+o[0], c+o[1]
				if rr < 0 || rr >= h || cc < 0 || cc >= w {
					continue
				}
				j := rr*w + cc
				if m.Pix[j] && labels[j] == 0 {
					labels[j] = n
					queue = append(queue, j)
				}
			}
		}
	}
	return labels, n
}

// AreaOpening removes 4-connected components smaller than threshold pixels.
func AreaOpening(m *Mask, threshold int) *Mask {
	labels, n := Label(m, false)
	areas := make([]int, n+1)
	for _, l := range labels {
		areas[l]++
	}

	out := NewMask(m.Width, m.Height)
	for i, l := range labels {
		out.Pix[i] = l > 0 && areas[l] >= threshold
	}
	return out
}

// ClearBorder removes 8-connected components touching the image border.
func ClearBorder(m *Mask) *Mask {
	w, h := m.Width, m.Height
	labels, n := Label(m, true)
	touching := make([]bool, n+1)
	for c := 0; c < w; c++ {
		touching[labels[c]] = true
		touching[labels[(h-1)*w+c]] = true
	}
	for r := 0; r < h; r++ {
		touching[labels[r*w]] = true
		touching[labels[r*w+w-1]] = true
	}

	out := NewMask(w, h)
	for i, l := range labels {
		out.Pix[i] = l > 0 && !touching[l]
	}
	return out
}
