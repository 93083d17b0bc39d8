// Package roi extracts pixel values inside ROI polygons drawn on calibrated
// slice images and summarises them.
package roi

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Definition is one ROI shape drawn on an image.
type Definition struct {
	// ImageID is the stem of the image the shape was drawn on
	ImageID string

	// Name is the ROI label, usually key-value pairs like "region-CA1"
	Name string

	// ShapeType is "polygon", "rectangle" or "ellipse"
	ShapeType string

	// Vertices are [row, col] image coordinates
	Vertices [][2]float64
}

// roiFile mirrors the napari "ROI manager" JSON layout.
type roiFile struct {
	Names     []string      `json:"names"`
	Data      [][][]float64 `json:"data"`
	ShapeType []string      `json:"shape_type"`
}

// ReadDefinitions loads the shapes of a napari ROI file drawn on imageID.
func ReadDefinitions(path, imageID string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f roiFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing ROI file %s: %w", path, err)
	}
	if len(f.Names) != len(f.Data) {
		return nil, fmt.Errorf("ROI file %s: %d names for %d shapes", path, len(f.Names), len(f.Data))
	}

	defs := make([]Definition, len(f.Data))
	for i, shape := range f.Data {
		def := Definition{ImageID: imageID, Name: f.Names[i], ShapeType: "polygon"}
		if i < len(f.ShapeType) && f.ShapeType[i] != "" {
			def.ShapeType = f.ShapeType[i]
		}
		for _, pt := range shape {
			if len(pt) < 2 {
				return nil, fmt.Errorf("ROI %q in %s: vertex needs 2 coordinates", def.Name, path)
			}
			// napari may prefix extra leading axes; the last two are row, col
			def.Vertices = append(def.Vertices, [2]float64{pt[len(pt)-2], pt[len(pt)-1]})
		}
		defs[i] = def
	}
	return defs, nil
}

// Mask rasterises the shape onto a rows x cols grid.
func (d Definition) Mask(rows, cols int) ([]bool, error) {
	switch d.ShapeType {
	case "polygon", "rectangle":
		return PolygonMask(rows, cols, d.Vertices), nil
	case "ellipse":
		return EllipseMask(rows, cols, d.Vertices), nil
	default:
		return nil, fmt.Errorf("ROI %q: unsupported shape type %q", d.Name, d.ShapeType)
	}
}

// PolygonMask marks the grid points inside the polygon or on its edges.
func PolygonMask(rows, cols int, vertices [][2]float64) []bool {
	mask := make([]bool, rows*cols)
	if len(vertices) == 0 {
		return mask
	}

	r0, r1, c0, c1 := boundingBox(vertices, rows, cols)
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			mask[r*cols+c] = pointInPolygon(float64(r), float64(c), vertices)
		}
	}
	return mask
}

// EllipseMask marks the grid points inside the axis-aligned ellipse
// inscribed in the bounding box of vertices.
func EllipseMask(rows, cols int, vertices [][2]float64) []bool {
	mask := make([]bool, rows*cols)
	if len(vertices) == 0 {
		return mask
	}

	minR, maxR := math.Inf(1), math.Inf(-1)
	minC, maxC := math.Inf(1), math.Inf(-1)
	for _, v := range vertices {
		minR, maxR = math.Min(minR, v[0]), math.Max(maxR, v[0])
		minC, maxC = math.Min(minC, v[1]), math.Max(maxC, v[1])
	}
	cr, cc := (minR+maxR)/2, (minC+maxC)/2
	ar, ac := (maxR-minR)/2, (maxC-minC)/2
	if ar == 0 || ac == 0 {
		return mask
	}

	r0, r1, c0, c1 := boundingBox(vertices, rows, cols)
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			dr := (float64(r) - cr) / ar
			dc := (float64(c) - cc) / ac
			mask[r*cols+c] = dr*dr+dc*dc <= 1
		}
	}
	return mask
}

// boundingBox returns the inclusive grid range covered by vertices,
// clipped to the image.
func boundingBox(vertices [][2]float64, rows, cols int) (int, int, int, int) {
	minR, maxR := math.Inf(1), math.Inf(-1)
	minC, maxC := math.Inf(1), math.Inf(-1)
	for _, v := range vertices {
		minR, maxR = math.Min(minR, v[0]), math.Max(maxR, v[0])
		minC, maxC = math.Min(minC, v[1]), math.Max(maxC, v[1])
	}
	clip := func(v float64, n int) int {
		return int(math.Max(0, math.Min(float64(n-1), v)))
	}
	return clip(math.Ceil(minR), rows), clip(math.Floor(maxR), rows),
		clip(math.Ceil(minC), cols), clip(math.Floor(maxC), cols)
}

const edgeEpsilon = 1e-9

// pointInPolygon is an even-odd ray cast that also accepts points lying on
// an edge.
func pointInPolygon(r, c float64, vertices [][2]float64) bool {
	inside := false
	n := len(vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		ri, ci := vertices[i][0], vertices[i][1]
		rj, cj := vertices[j][0], vertices[j][1]

		if onSegment(r, c, ri, ci, rj, cj) {
			return true
		}
		if (ri > r) != (rj > r) {
			cross := (cj-ci)*(r-ri)/(rj-ri) + ci
			if c < cross {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(r, c, r1, c1, r2, c2 float64) bool {
	cross := (r2-r1)*(c-c1) - (c2-c1)*(r-r1)
	if math.Abs(cross) > edgeEpsilon*math.Max(1, math.Hypot(r2-r1, c2-c1)) {
		return false
	}
	return r >= math.Min(r1, r2)-edgeEpsilon && r <= math.Max(r1, r2)+edgeEpsilon &&
		c >= math.Min(c1, c2)-edgeEpsilon && c <= math.Max(c1, c2)+edgeEpsilon
}
