package standard

import (
	"reflect"
	"testing"
)

func maskFromRows(rows ...string) *Mask {
	m := NewMask(len(rows[0]), len(rows))
	for r, row := range rows {
		for c, ch := range row {
			m.Pix[r*m.Width+c] = ch == '#'
		}
	}
	return m
}

func TestFindPeaks(t *testing.T) {
	x := []float64{0, 2, 0, 5, 5, 5, 0, 1, 3, 0}
	got := FindPeaks(x, PeakOptions{})
	if want := []int{1, 4, 8}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected peaks %v, got %v", want, got)
	}

	got = FindPeaks(x, PeakOptions{Height: 2.5})
	if want := []int{4, 8}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected height-filtered peaks %v, got %v", want, got)
	}

	// the higher plateau suppresses its close neighbours
	got = FindPeaks(x, PeakOptions{Distance: 4})
	if want := []int{4, 8}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected distance-filtered peaks %v, got %v", want, got)
	}

	got = FindPeaks(x, PeakOptions{Prominence: 2.5})
	if want := []int{4, 8}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected prominence-filtered peaks %v, got %v", want, got)
	}
}

func TestFindPeaksIgnoresEdges(t *testing.T) {
	x := []float64{9, 1, 2, 1, 9}
	got := FindPeaks(x, PeakOptions{})
	if want := []int{2}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected peaks %v, got %v", want, got)
	}
}

func TestProminence(t *testing.T) {
	x := []float64{0, 4, 1, 3, 2, 6, 0}
	if p := Prominence(x, 3); p != 1 {
		t.Errorf("Expected prominence 1, got %f", p)
	}
	if p := Prominence(x, 5); p != 6 {
		t.Errorf("Expected prominence 6, got %f", p)
	}
}

func TestDigitize(t *testing.T) {
	got := Digitize([]uint8{0, 9, 10, 50, 200}, []float64{10, 100})
	if want := []int{0, 0, 1, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected regions %v, got %v", want, got)
	}
}

func TestHistogram(t *testing.T) {
	counts, lo := Histogram([]uint8{3, 5, 5, 7})
	if lo != 3 {
		t.Errorf("Expected first level 3, got %d", lo)
	}
	if want := []float64{1, 0, 2, 0, 1}; !reflect.DeepEqual(counts, want) {
		t.Errorf("Expected counts %v, got %v", want, counts)
	}
}

func TestMedianFilterRemovesImpulse(t *testing.T) {
	w, h := 5, 5
	pix := make([]uint8, w*h)
	pix[2*w+2] = 255

	out := MedianFilter(pix, w, h, 1)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("Expected impulse removed, pixel %d is %d", i, v)
		}
	}
}

func TestMedianFilterKeepsEdges(t *testing.T) {
	w, h := 6, 4
	pix := make([]uint8, w*h)
	for r := 0; r < h; r++ {
		for c := 3; c < w; c++ {
			pix[r*w+c] = 200
		}
	}

	out := MedianFilter(pix, w, h, 1)
	if !reflect.DeepEqual(out, pix) {
		t.Errorf("Expected step edge preserved, got %v", out)
	}

	same := MedianFilter(pix, w, h, 0)
	if !reflect.DeepEqual(same, pix) {
		t.Error("Expected radius 0 to copy the input")
	}
}

func TestFillHoles(t *testing.T) {
	m := maskFromRows(
		".....",
		".###.",
		".#.#.",
		".###.",
		".....",
	)
	filled := FillHoles(m)
	if !filled.Pix[2*5+2] {
		t.Error("Expected enclosed hole filled")
	}
	if filled.Pix[0] {
		t.Error("Expected border-connected background untouched")
	}
	if filled.Count() != 9 {
		t.Errorf("Expected 9 set pixels, got %d", filled.Count())
	}
}

func TestErodeDisk(t *testing.T) {
	m := NewMask(20, 20)
	for r := 5; r < 15; r++ {
		for c := 5; c < 15; c++ {
			m.Pix[r*20+c] = true
		}
	}

	eroded := ErodeDisk(m, 2)
	if eroded.Count() != 6*6 {
		t.Errorf("Expected 36 pixels after erosion, got %d", eroded.Count())
	}
	if !eroded.Pix[7*20+7] || eroded.Pix[6*20+6] {
		t.Error("Expected erosion to trim two pixels from each side")
	}
}

func TestErodeDiskBorderCountsAsSet(t *testing.T) {
	m := NewMask(10, 10)
	for i := range m.Pix {
		m.Pix[i] = true
	}
	if n := ErodeDisk(m, 3).Count(); n != 100 {
		t.Errorf("Expected a full mask to survive erosion, got %d pixels", n)
	}
}

func TestLabelConnectivity(t *testing.T) {
	m := maskFromRows(
		"#....",
		".#...",
		"...##",
	)
	if _, n := Label(m, false); n != 3 {
		t.Errorf("Expected 3 components with 4-connectivity, got %d", n)
	}
	labels, n := Label(m, true)
	if n != 2 {
		t.Errorf("Expected 2 components with 8-connectivity, got %d", n)
	}
	if labels[0] != 1 || labels[1*5+1] != 1 || labels[2*5+3] != 2 {
		t.Errorf("Expected raster-ordered labels, got %v", labels)
	}
}

func TestAreaOpeningAndClearBorder(t *testing.T) {
	m := maskFromRows(
		"##.....",
		"##.....",
		"...###.",
		"...###.",
		"....#..",
		".......",
	)
	opened := AreaOpening(m, 5)
	if opened.Pix[0] || opened.Count() != 7 {
		t.Errorf("Expected only the 7 pixel component kept, got %d pixels", opened.Count())
	}

	cleared := ClearBorder(m)
	if cleared.Pix[0] {
		t.Error("Expected border component removed")
	}
	if cleared.Count() != 7 {
		t.Errorf("Expected interior component kept, got %d pixels", cleared.Count())
	}
}

func TestNearestLabel(t *testing.T) {
	labels := []int{
		1, 1, 0, 0, 0, 0,
		1, 1, 0, 0, 0, 0,
		0, 0, 0, 0, 2, 2,
		0, 0, 0, 0, 2, 2,
	}
	cs := ComponentCentroids(labels, 2, 6)
	if len(cs) != 2 {
		t.Fatalf("Expected 2 centroids, got %d", len(cs))
	}
	if cs[0].Row != 0.5 || cs[0].Col != 0.5 {
		t.Errorf("Expected centroid (0.5,0.5), got (%f,%f)", cs[0].Row, cs[0].Col)
	}

	if l := NearestLabel(cs, 3, 5); l != 2 {
		t.Errorf("Expected label 2, got %d", l)
	}
	if l := NearestLabel(cs, 0, 1); l != 1 {
		t.Errorf("Expected label 1, got %d", l)
	}
}

func TestMedian(t *testing.T) {
	if m := Median([]float64{3, 1, 2}); m != 2 {
		t.Errorf("Expected 2, got %f", m)
	}
	if m := Median([]float64{4, 1, 3, 2}); m != 2.5 {
		t.Errorf("Expected 2.5, got %f", m)
	}
}
