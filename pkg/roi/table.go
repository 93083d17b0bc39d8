package roi

import (
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"qarprep/internal/models"
	"qarprep/internal/naming"
)

var statNames = []string{"median", "mean", "min", "max", "std"}

// WriteSummaryCSV writes one line per row. Per-record tables start with
// the image and ROI columns followed by the union of metadata keys in
// lexical order; grouped tables carry only the groupBy columns.
func WriteSummaryCSV(path string, rows []models.SummaryRow, normRegions, groupBy []string) error {
	grouped := len(groupBy) > 0

	metaKeys := groupBy
	if !grouped {
		seen := make(map[string]bool)
		for _, row := range rows {
			for k := range row.Metadata {
				seen[k] = true
			}
		}
		metaKeys = naming.SortedKeys(seen)
	}

	var header []string
	if !grouped {
		header = append(header, "image", "roi")
	}
	header = append(header, metaKeys...)
	for _, name := range statNames {
		header = append(header, name+"_values")
	}
	header = append(header, "count_values")
	for _, region := range normRegions {
		for _, name := range statNames {
			header = append(header, name+"_values_"+region+"_norm")
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		var rec []string
		if !grouped {
			rec = append(rec, row.ImageID, row.RoiName)
		}
		for _, k := range metaKeys {
			rec = append(rec, row.Metadata[k])
		}
		rec = append(rec, statFields(row.Stats)...)
		rec = append(rec, strconv.Itoa(row.Stats.Count))
		for _, region := range normRegions {
			s, ok := row.Normalized[region]
			if !ok {
				rec = append(rec, make([]string, len(statNames))...)
				continue
			}
			rec = append(rec, statFields(s)...)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

func statFields(s models.Stats) []string {
	return []string{
		formatFloat(s.Median),
		formatFloat(s.Mean),
		formatFloat(s.Min),
		formatFloat(s.Max),
		formatFloat(s.Std),
	}
}

// formatFloat leaves NaN cells empty.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteRecordsJSON stores the raw per-ROI values.
func WriteRecordsJSON(path string, records []models.RoiRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
