package models

// RoiRecord holds the pixel values of one ROI polygon on one image.
type RoiRecord struct {
	ImageID  string            `json:"image"`
	RoiName  string            `json:"roi"`
	Metadata map[string]string `json:"metadata"`
	Values   []float64         `json:"values"`

	// Normalized maps a reference region name to Values divided by the
	// median of that region on the same section.
	Normalized map[string][]float64 `json:"normalized,omitempty"`
}

// Stats is the fixed set of summary statistics computed over ROI values.
type Stats struct {
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Std    float64 `json:"std"`
	Count  int     `json:"count"`
}

// SummaryRow is one line of the ROI summary table. For grouped
// summaries ImageID and RoiName are empty and Metadata holds only the
// grouping keys.
type SummaryRow struct {
	ImageID    string            `json:"image,omitempty"`
	RoiName    string            `json:"roi,omitempty"`
	Metadata   map[string]string `json:"metadata"`
	Stats      Stats             `json:"stats"`
	Normalized map[string]Stats  `json:"normalized,omitempty"`
}
