package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"qarprep/internal/models"
	"qarprep/pkg/figures"
	"qarprep/pkg/standard"
)

// ArtifactSink persists calibration intermediates for audit and reuse.
type ArtifactSink interface {
	SaveStandards(stem string, obs []models.StandardObservation) error
	SaveCalibration(stem string, m models.CalibrationModel) error
	SaveOverlay(stem string, res *standard.Result) error
}

// DirSink writes artifacts as files in Dir.
type DirSink struct {
	Dir string

	// Overlays enables the "<stem>-roi.png" figure per standard
	Overlays bool
}

// NewDirSink creates a sink writing into dir.
func NewDirSink(dir string, overlays bool) *DirSink {
	return &DirSink{Dir: dir, Overlays: overlays}
}

// StandardsPath returns the location of the per-standard table for stem.
func (s *DirSink) StandardsPath(stem string) string {
	return filepath.Join(s.Dir, stem+"_standards.json")
}

// CalibrationPath returns the location of the fit parameters for stem.
func (s *DirSink) CalibrationPath(stem string) string {
	return filepath.Join(s.Dir, stem+"_calibration.json")
}

func (s *DirSink) SaveStandards(stem string, obs []models.StandardObservation) error {
	return s.writeJSON(s.StandardsPath(stem), obs)
}

func (s *DirSink) SaveCalibration(stem string, m models.CalibrationModel) error {
	return s.writeJSON(s.CalibrationPath(stem), m)
}

func (s *DirSink) SaveOverlay(stem string, res *standard.Result) error {
	if !s.Overlays || res.Inverted == nil {
		return nil
	}
	return figures.ROIOverlay(filepath.Join(s.Dir, stem+"-roi.png"), res.Inverted, res.ROI.Pix)
}

func (s *DirSink) writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("error creating artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// LoadCalibration reads fit parameters written by SaveCalibration.
func LoadCalibration(path string) (models.CalibrationModel, error) {
	var m models.CalibrationModel
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("error reading calibration: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("error parsing calibration %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("calibration %s: %w", path, err)
	}
	return m, nil
}
