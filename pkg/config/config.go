// Package config provides configuration loading and management for qarprep.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// LocatorParams tunes the standard locator. Distances are in pixels.
type LocatorParams struct {
	// MedianRadius is the radius of the disk median filter
	MedianRadius int `yaml:"medianRadius"`

	// PeakDistance is the minimum separation of histogram peaks in bins
	PeakDistance int `yaml:"peakDistance"`

	// PeakHeightFraction is the minimum peak height (and trough
	// prominence) as a fraction of the pixel count
	PeakHeightFraction float64 `yaml:"peakHeightFraction"`

	// CenterApothem is half the side of the centre patch used to decide
	// which intensity region holds the standard
	CenterApothem int `yaml:"centerApothem"`

	// ErosionRadius is the radius of the disk used to strip thin artifacts
	ErosionRadius int `yaml:"erosionRadius"`

	// AreaThreshold is the minimum component area kept after erosion
	AreaThreshold int `yaml:"areaThreshold"`

	// FallbackSquare is the side of the centre window used when
	// segmentation finds no component
	FallbackSquare int `yaml:"fallbackSquare"`

	// Statistic is "median" or "mean"
	Statistic string `yaml:"statistic"`
}

// FitParams bounds the calibration curve fit.
type FitParams struct {
	// MaxEvaluations caps the number of model evaluations
	MaxEvaluations int `yaml:"maxEvaluations"`

	// Tolerance is the residual norm, relative to the data norm, below
	// which a fit counts as exact
	Tolerance float64 `yaml:"tolerance"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers is the number of subjects processed concurrently
		NumWorkers int `yaml:"numWorkers"`

		// Isotope selects the column of the standards table
		Isotope string `yaml:"isotope"`

		// RawExtensions lists the file extensions of raw images
		RawExtensions []string `yaml:"rawExtensions"`

		// StandardCrop is the fraction cropped from each end of standard images
		StandardCrop float64 `yaml:"standardCrop"`

		// CropRow and CropCol are the fractions cropped from slide images
		CropRow float64 `yaml:"cropRow"`
		CropCol float64 `yaml:"cropCol"`

		// Rotate is the number of 90 degree clockwise rotations of slides
		Rotate int `yaml:"rotate"`

		// FlatField and DarkField override the per-subject field lookup
		FlatField string `yaml:"flatField"`
		DarkField string `yaml:"darkField"`
	} `yaml:"processing"`

	// Standard locator parameters
	Locator LocatorParams `yaml:"locator"`

	// Curve fit parameters
	Fit FitParams `yaml:"fit"`

	// Output parameters
	Output struct {
		// SaveIntermediate writes per-standard tables, fit parameters and
		// diagnostic images
		SaveIntermediate bool `yaml:"saveIntermediate"`

		// SaveNifti writes one NIfTI volume per slide
		SaveNifti bool `yaml:"saveNifti"`

		// SaveTiff writes one float TIFF per slide image
		SaveTiff bool `yaml:"saveTiff"`

		// MosaicSlices selects the slices tiled into the subject mosaic;
		// -1 selects all of them, empty disables the mosaic
		MosaicSlices []int `yaml:"mosaicSlices"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// ROI extraction parameters
	ROI struct {
		RoiSuffix    string   `yaml:"roiSuffix"`
		ImageSuffix  string   `yaml:"imageSuffix"`
		IdentityKeys []string `yaml:"identityKeys"`
		NormRegions  []string `yaml:"normRegions"`
		GroupBy      []string `yaml:"groupBy"`
		Output       string   `yaml:"output"`
	} `yaml:"roi"`

	// Standards maps an isotope to its known activities in uCi/g, in the
	// order of the standard images. Null entries are dropped.
	Standards map[string][]*float64 `yaml:"standards"`
}

// DefaultLocatorParams returns locator settings sized for full-resolution
// camera images of film standards.
func DefaultLocatorParams() LocatorParams {
	return LocatorParams{
		MedianRadius:       40,
		PeakDistance:       5,
		PeakHeightFraction: 0.01,
		CenterApothem:      100,
		ErosionRadius:      100,
		AreaThreshold:      200000,
		FallbackSquare:     900,
		Statistic:          "median",
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Isotope = "C14"
	cfg.Processing.RawExtensions = []string{".tif", ".tiff"}
	cfg.Processing.StandardCrop = 0.2

	cfg.Locator = DefaultLocatorParams()

	cfg.Fit.MaxEvaluations = 5000
	cfg.Fit.Tolerance = 1e-8

	cfg.Output.SaveNifti = true
	cfg.Output.Verbose = false

	cfg.ROI.RoiSuffix = "rois"
	cfg.ROI.ImageSuffix = "ARG"
	cfg.ROI.IdentityKeys = []string{"subj", "slide", "section"}
	cfg.ROI.Output = "roi_values"

	cfg.Standards = map[string][]*float64{}

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
