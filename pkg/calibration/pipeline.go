package calibration

import (
	"errors"
	"fmt"
	"strings"

	"qarprep/internal/logger"
	"qarprep/internal/models"
	"qarprep/internal/naming"
	"qarprep/pkg/config"
	"qarprep/pkg/greyvalue"
	"qarprep/pkg/standard"
)

var (
	// ErrCountMismatch is returned when the number of standard images
	// differs from the number of known activities for the isotope.
	ErrCountMismatch = errors.New("standard image count does not match activity table")

	// ErrNoStandardFound is returned when a subject has no standard images.
	ErrNoStandardFound = errors.New("no standard images found")
)

// Calibration is the outcome of calibrating one subject.
type Calibration struct {
	Model models.CalibrationModel

	// Activities and Measured are the fitted pairs, in image order
	Activities []float64
	Measured   []float64

	// Stem names the subject's calibration artifacts
	Stem string

	Observations []models.StandardObservation
}

// Pipeline measures standard images and fits the calibration curve.
type Pipeline struct {
	decoder *greyvalue.Decoder
	locator *standard.Locator
	fit     config.FitParams
	crop    float64
	sink    ArtifactSink
	log     *logger.Logger
}

// NewPipeline creates a calibration pipeline. sink may be nil, in which
// case nothing is persisted.
func NewPipeline(cfg *config.Config, sink ArtifactSink, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		decoder: greyvalue.NewDecoder(),
		locator: standard.NewLocator(cfg.Locator),
		fit:     cfg.Fit,
		crop:    cfg.Processing.StandardCrop,
		sink:    sink,
		log:     log,
	}
}

// Calibrate measures the standards of one subject and fits the curve.
// Standards are expected from darkest to lightest film, so activities
// (ascending, as listed in the reference table) are paired in reverse.
func (p *Pipeline) Calibrate(subjectID string, standards []string, activities []float64, flat *models.FlatField) (*Calibration, error) {
	if len(standards) == 0 {
		return nil, fmt.Errorf("subject %s: %w", subjectID, ErrNoStandardFound)
	}
	if len(standards) != len(activities) {
		return nil, fmt.Errorf("subject %s: %d images for %d activities: %w",
			subjectID, len(standards), len(activities), ErrCountMismatch)
	}

	cal := &Calibration{
		Stem:       StandardStem(standards[0]),
		Activities: make([]float64, len(activities)),
		Measured:   make([]float64, len(standards)),
	}
	for i := range activities {
		cal.Activities[i] = activities[len(activities)-1-i]
	}

	opts := greyvalue.Options{CropRow: p.crop, CropCol: p.crop, Field: flat}
	for i, path := range standards {
		grey, err := p.decoder.Decode(path, opts)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", subjectID, err)
		}

		res, err := p.locator.Locate(grey)
		if err != nil {
			return nil, fmt.Errorf("subject %s: locating standard in %s: %w", subjectID, path, err)
		}
		if res.Background {
			p.log.Warning("calibration", "no standard found, measuring centre window", map[string]interface{}{
				"subject": subjectID,
				"file":    path,
			})
		}

		stem := naming.Stem(path)
		cal.Measured[i] = res.Value
		cal.Observations = append(cal.Observations, models.StandardObservation{
			Stem:       stem,
			Grey:       grey,
			Value:      res.Value,
			Activity:   cal.Activities[i],
			Background: res.Background,
		})

		p.log.Debug("calibration", "measured standard", map[string]interface{}{
			"file":       stem,
			"grey":       res.Value,
			"components": res.Components,
		})

		if p.sink != nil {
			if err := p.sink.SaveOverlay(stem, res); err != nil {
				p.log.Warning("calibration", "failed to save ROI overlay", map[string]interface{}{"file": stem, "error": err.Error()})
			}
		}
	}

	p.log.Info("calibration", "fitting Rodbard curve", map[string]interface{}{"stem": cal.Stem})
	model, err := Fit(cal.Activities, cal.Measured, p.fit)
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", subjectID, err)
	}
	cal.Model = model

	if p.sink != nil {
		if err := p.sink.SaveStandards(cal.Stem, cal.Observations); err != nil {
			return nil, fmt.Errorf("subject %s: %w", subjectID, err)
		}
		if err := p.sink.SaveCalibration(cal.Stem, model); err != nil {
			return nil, fmt.Errorf("subject %s: %w", subjectID, err)
		}
	}

	return cal, nil
}

// StandardStem joins the key-value pairs of a standard's filename, dropping
// keys that mention "standard".
func StandardStem(path string) string {
	name := naming.Stem(path)
	kv := naming.ParseKV(name)

	var keys []string
	for _, k := range naming.OrderedKeys(name) {
		if !strings.Contains(k, "standard") {
			keys = append(keys, k)
		}
	}
	return naming.JoinKV(kv, keys)
}
