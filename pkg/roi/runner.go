package roi

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"qarprep/internal/logger"
	"qarprep/internal/models"
	"qarprep/internal/naming"
	"qarprep/pkg/config"
	"qarprep/pkg/volume"
)

// Report summarises a Runner pass over a source directory.
type Report struct {
	RoiFiles    int
	Skipped     []string
	Failed      map[string]error
	Records     []models.RoiRecord
	SummaryPath string
	DetailPath  string
}

// Runner finds ROI files next to calibrated images and writes the value
// tables.
type Runner struct {
	roiSuffix    string
	imageSuffix  string
	identityKeys []string
	normRegions  []string
	groupBy      []string
	output       string
	log          *logger.Logger
}

// NewRunner creates a runner from the roi section of cfg.
func NewRunner(cfg *config.Config, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		roiSuffix:    cfg.ROI.RoiSuffix,
		imageSuffix:  cfg.ROI.ImageSuffix,
		identityKeys: cfg.ROI.IdentityKeys,
		normRegions:  cfg.ROI.NormRegions,
		groupBy:      cfg.ROI.GroupBy,
		output:       cfg.ROI.Output,
		log:          log,
	}
}

// Run extracts every ROI file under sourceDir. A failing ROI file is
// logged and recorded in the report; the run only fails when nothing
// could be extracted or the tables cannot be written.
func (r *Runner) Run(sourceDir string) (*Report, error) {
	roiFiles, err := findFiles(sourceDir, "*"+r.roiSuffix+".json")
	if err != nil {
		return nil, fmt.Errorf("error searching %s: %w", sourceDir, err)
	}
	r.log.Info("roi", "Found ROI files", map[string]interface{}{
		"dir":   sourceDir,
		"count": len(roiFiles),
	})

	report := &Report{RoiFiles: len(roiFiles), Failed: make(map[string]error)}
	for _, roiFile := range roiFiles {
		records, skipped, err := r.extractFile(sourceDir, roiFile)
		switch {
		case err != nil:
			r.log.Error("roi", err, map[string]interface{}{"file": roiFile})
			report.Failed[roiFile] = err
		case skipped:
			r.log.Info("roi", "Skipping excluded entry", map[string]interface{}{"file": roiFile})
			report.Skipped = append(report.Skipped, roiFile)
		default:
			report.Records = append(report.Records, records...)
		}
	}

	if len(report.Records) == 0 {
		return report, fmt.Errorf("no ROI values extracted from %s", sourceDir)
	}

	for _, region := range r.normRegions {
		Normalize(report.Records, region, r.identityKeys)
	}
	rows := Summarize(report.Records, SummaryOptions{NormRegions: r.normRegions})

	report.SummaryPath = r.output + "_summary.csv"
	if err := WriteSummaryCSV(report.SummaryPath, rows, r.normRegions, nil); err != nil {
		return report, fmt.Errorf("error writing summary: %w", err)
	}

	if len(r.groupBy) > 0 {
		grouped := Summarize(report.Records, SummaryOptions{NormRegions: r.normRegions, GroupBy: r.groupBy})
		report.DetailPath = r.output + "_grouped.csv"
		if err := WriteSummaryCSV(report.DetailPath, grouped, r.normRegions, r.groupBy); err != nil {
			return report, fmt.Errorf("error writing grouped summary: %w", err)
		}
	} else {
		report.DetailPath = r.output + ".json"
		if err := WriteRecordsJSON(report.DetailPath, report.Records); err != nil {
			return report, fmt.Errorf("error writing ROI values: %w", err)
		}
	}

	r.log.Info("roi", "ROI extraction complete", map[string]interface{}{
		"records": len(report.Records),
		"skipped": len(report.Skipped),
		"failed":  len(report.Failed),
		"summary": report.SummaryPath,
	})
	return report, nil
}

// extractFile resolves the image an ROI file was drawn on and extracts its
// shapes.
func (r *Runner) extractFile(sourceDir, roiFile string) ([]models.RoiRecord, bool, error) {
	if naming.Excluded(roiFile) {
		return nil, true, nil
	}

	stem := strings.TrimSuffix(filepath.Base(roiFile), ".json")
	pattern := strings.ReplaceAll(stem, r.roiSuffix, r.imageSuffix+".tif*")
	images, err := findFiles(sourceDir, pattern)
	if err != nil {
		return nil, false, err
	}
	if len(images) == 0 {
		return nil, false, fmt.Errorf("%s: %w (looked for %s)", roiFile, ErrMissingCorrespondence, pattern)
	}
	imagePath := images[0]
	if naming.Excluded(imagePath) {
		return nil, true, nil
	}

	imageID := naming.Stem(imagePath)
	defs, err := ReadDefinitions(roiFile, imageID)
	if err != nil {
		return nil, false, err
	}
	img, err := volume.ReadImage(imagePath)
	if err != nil {
		return nil, false, err
	}

	r.log.Debug("roi", "Extracting ROIs", map[string]interface{}{
		"rois":  len(defs),
		"image": imagePath,
	})
	records, err := Extract(defs, map[string]*volume.Plane{imageID: img})
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", roiFile, err)
	}
	return records, false, nil
}

// findFiles walks root and returns the files whose base name matches the
// glob pattern, sorted.
func findFiles(root, pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, path)
		}
		return nil
	})
	sort.Strings(matches)
	return matches, err
}
