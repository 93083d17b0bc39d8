package standard

import "gonum.org/v1/gonum/spatial/kdtree"

// Centroid is the mean position of a labelled component.
type Centroid struct {
	Row, Col float64
	Label    int
}

// Compare implements the kdtree.Comparable interface
func (p Centroid) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Centroid)
	switch d {
	case 0:
		return p.Row - q.Row
	case 1:
		return p.Col - q.Col
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Centroid) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two centroids
func (p Centroid) Distance(c kdtree.Comparable) float64 {
	q := c.(Centroid)
	dr := p.Row - q.Row
	dc := p.Col - q.Col
	return dr*dr + dc*dc
}

// Centroids is a collection of Centroid that satisfies kdtree.Interface
type Centroids []Centroid

func (p Centroids) Index(i int) kdtree.Comparable         { return p[i] }
func (p Centroids) Len() int                              { return len(p) }
func (p Centroids) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Centroids) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(centroidPlane{Centroids: p, Dim: d}, kdtree.MedianOfMedians(centroidPlane{Centroids: p, Dim: d}))
}

// centroidPlane implements sort.Interface and kdtree.SortSlicer for Centroids
type centroidPlane struct {
	Centroids
	kdtree.Dim
}

func (p centroidPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Centroids[i].Row < p.Centroids[j].Row
	case 1:
		return p.Centroids[i].Col < p.Centroids[j].Col
	default:
		panic("illegal dimension")
	}
}

func (p centroidPlane) Slice(start, end int) kdtree.SortSlicer {
	return centroidPlane{Centroids: p.Centroids[start:end], Dim: p.Dim}
}

func (p centroidPlane) Swap(i, j int) {
	p.Centroids[i], p.Centroids[j] = p.Centroids[j], p.Centroids[i]
}

// ComponentCentroids returns the centroid of every label 1..n.
func ComponentCentroids(labels []int, n, width int) Centroids {
	sumR := make([]float64, n+1)
	sumC := make([]float64, n+1)
	count := make([]float64, n+1)
	for i, l := range labels {
		if l == 0 {
			continue
		}
		sumR[l] += float64(i / width)
		sumC[l] += float64(i % width)
		count[l]++
	}

	out := make(Centroids, 0, n)
	for l := 1; l <= n; l++ {
		if count[l] == 0 {
			continue
		}
		out = append(out, Centroid{Row: sumR[l] / count[l], Col: sumC[l] / count[l], Label: l})
	}
	return out
}

// NearestLabel returns the label whose centroid is closest to (row, col).
func NearestLabel(cs Centroids, row, col float64) int {
	if len(cs) == 0 {
		return 0
	}
	pts := make(Centroids, len(cs))
	copy(pts, cs)

	tree := kdtree.New(pts, false)
	nearest, _ := tree.Nearest(Centroid{Row: row, Col: col})
	return nearest.(Centroid).Label
}
