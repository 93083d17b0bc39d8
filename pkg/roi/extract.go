package roi

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"qarprep/internal/models"
	"qarprep/internal/naming"
	"qarprep/pkg/volume"
)

// ErrMissingCorrespondence is returned when an ROI refers to an image that
// cannot be found.
var ErrMissingCorrespondence = errors.New("no image for ROI")

// ErrEmptyROI is returned when a shape covers no pixel of its image.
var ErrEmptyROI = errors.New("ROI covers no pixels")

// Extract collects the pixel values under every shape. images is keyed by
// the image stem each Definition refers to. The metadata of a record is the
// key-value pairs of the ROI name, overridden by those of the image stem.
func Extract(defs []Definition, images map[string]*volume.Plane) ([]models.RoiRecord, error) {
	records := make([]models.RoiRecord, 0, len(defs))
	for _, def := range defs {
		img, ok := images[def.ImageID]
		if !ok {
			return nil, fmt.Errorf("ROI %q on %s: %w", def.Name, def.ImageID, ErrMissingCorrespondence)
		}

		mask, err := def.Mask(img.Rows, img.Cols)
		if err != nil {
			return nil, err
		}
		var values []float64
		for i, in := range mask {
			if in {
				values = append(values, img.Data[i])
			}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("ROI %q on %s: %w", def.Name, def.ImageID, ErrEmptyROI)
		}

		meta := naming.ParseKV(def.Name)
		for k, v := range naming.ParseKV(def.ImageID) {
			meta[k] = v
		}
		records = append(records, models.RoiRecord{
			ImageID:  def.ImageID,
			RoiName:  def.Name,
			Metadata: meta,
			Values:   values,
		})
	}
	return records, nil
}

// Normalize divides the values of every record by the median value of the
// reference region on the same section, as identified by identityKeys.
// The reference is any record whose "region" metadata equals region.
// Records with no reference on their section, or whose reference median
// is zero, are left untouched.
func Normalize(records []models.RoiRecord, region string, identityKeys []string) {
	refValues := make(map[string][]float64)
	for _, rec := range records {
		if rec.Metadata["region"] == region {
			id := identity(rec.Metadata, identityKeys)
			refValues[id] = append(refValues[id], rec.Values...)
		}
	}

	refMedian := make(map[string]float64, len(refValues))
	for id, vals := range refValues {
		refMedian[id] = median(vals)
	}

	for i := range records {
		ref, ok := refMedian[identity(records[i].Metadata, identityKeys)]
		if !ok || ref == 0 {
			continue
		}
		norm := make([]float64, len(records[i].Values))
		for j, v := range records[i].Values {
			norm[j] = v / ref
		}
		if records[i].Normalized == nil {
			records[i].Normalized = make(map[string][]float64)
		}
		records[i].Normalized[region] = norm
	}
}

// SummaryOptions selects the normalised regions to report and the metadata
// keys to group by.
type SummaryOptions struct {
	NormRegions []string
	GroupBy     []string
}

// Summarize computes the summary statistics of each record, or of each
// group of records sharing the GroupBy metadata values. Grouped values are
// concatenated before the statistics are taken.
func Summarize(records []models.RoiRecord, opts SummaryOptions) []models.SummaryRow {
	if len(opts.GroupBy) == 0 {
		rows := make([]models.SummaryRow, len(records))
		for i, rec := range records {
			rows[i] = models.SummaryRow{
				ImageID:    rec.ImageID,
				RoiName:    rec.RoiName,
				Metadata:   rec.Metadata,
				Stats:      Summary(rec.Values),
				Normalized: normalizedStats(rec.Normalized, opts.NormRegions),
			}
		}
		return rows
	}

	type group struct {
		meta   map[string]string
		values []float64
		norm   map[string][]float64
	}
	groups := make(map[string]*group)
	var keys []string
	for _, rec := range records {
		id := identity(rec.Metadata, opts.GroupBy)
		g, ok := groups[id]
		if !ok {
			g = &group{meta: make(map[string]string), norm: make(map[string][]float64)}
			for _, k := range opts.GroupBy {
				g.meta[k] = rec.Metadata[k]
			}
			groups[id] = g
			keys = append(keys, id)
		}
		g.values = append(g.values, rec.Values...)
		for region, vals := range rec.Normalized {
			g.norm[region] = append(g.norm[region], vals...)
		}
	}
	sort.Strings(keys)

	rows := make([]models.SummaryRow, 0, len(keys))
	for _, id := range keys {
		g := groups[id]
		rows = append(rows, models.SummaryRow{
			Metadata:   g.meta,
			Stats:      Summary(g.values),
			Normalized: normalizedStats(g.norm, opts.NormRegions),
		})
	}
	return rows
}

// Summary returns median, mean, min, max, population standard deviation
// and count of values. All but the count are NaN for empty input.
func Summary(values []float64) models.Stats {
	if len(values) == 0 {
		nan := math.NaN()
		return models.Stats{Median: nan, Mean: nan, Min: nan, Max: nan, Std: nan}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return models.Stats{
		Median: median(values),
		Mean:   mean,
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Std:    std,
		Count:  len(values),
	}
}

func normalizedStats(norm map[string][]float64, regions []string) map[string]models.Stats {
	var out map[string]models.Stats
	for _, region := range regions {
		vals, ok := norm[region]
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]models.Stats)
		}
		out[region] = Summary(vals)
	}
	return out
}

// identity joins the values of keys into a grouping key. The unit
// separator keeps "a_b"+"c" apart from "a"+"b_c".
func identity(meta map[string]string, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = meta[k]
	}
	return strings.Join(parts, "\x1f")
}

// median averages the two middle values for even lengths.
func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
