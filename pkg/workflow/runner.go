package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"qarprep/internal/logger"
	"qarprep/internal/models"
	"qarprep/internal/naming"
	"qarprep/pkg/calibration"
	"qarprep/pkg/config"
	"qarprep/pkg/conversion"
	"qarprep/pkg/figures"
	"qarprep/pkg/greyvalue"
	"qarprep/pkg/volume"
)

// outputSuffix tags every derived activity file
const outputSuffix = "_desc-preproc_ARG"

// SubjectResult reports the outcome of one subject.
type SubjectResult struct {
	SubjectID string

	// Dir is the subject's output directory
	Dir string

	Model  models.CalibrationModel
	Slides int

	// Outputs lists the files written, in write order
	Outputs  []string
	Duration time.Duration
	Err      error
}

// Runner processes subjects concurrently, one subject per job.
type Runner struct {
	cfg        *config.Config
	activities []float64
	outputDir  string
	decoder    *greyvalue.Decoder
	log        *logger.Logger
}

// NewRunner creates a runner writing under outputDir. activities are the
// known standard activities of the configured isotope, shared read-only by
// every subject.
func NewRunner(cfg *config.Config, activities []float64, outputDir string, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		cfg:        cfg,
		activities: activities,
		outputDir:  outputDir,
		decoder:    greyvalue.NewDecoder(),
		log:        log,
	}
}

// Run processes every subject and returns one result per subject, in input
// order. A failing subject does not stop the others. Subjects not yet
// started when ctx is cancelled report the context error.
func (r *Runner) Run(ctx context.Context, subjects []Subject) []SubjectResult {
	numWorkers := r.cfg.Processing.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(subjects) {
		numWorkers = len(subjects)
	}

	type job struct {
		idx     int
		subject Subject
	}
	type jobResult struct {
		idx    int
		result SubjectResult
	}

	jobs := make(chan job)
	resultChan := make(chan jobResult)

	for w := 0; w < numWorkers; w++ {
		go func() {
			for j := range jobs {
				var res SubjectResult
				if err := ctx.Err(); err != nil {
					res = SubjectResult{SubjectID: j.subject.ID, Err: err}
				} else {
					res = r.processSubject(ctx, j.subject)
				}
				resultChan <- jobResult{idx: j.idx, result: res}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, s := range subjects {
			jobs <- job{idx: i, subject: s}
		}
	}()

	results := make([]SubjectResult, len(subjects))
	for completed := 0; completed < len(subjects); completed++ {
		res := <-resultChan
		results[res.idx] = res.result

		if res.result.Err != nil {
			r.log.Error("workflow", res.result.Err, map[string]interface{}{
				"subject": res.result.SubjectID,
			})
		} else {
			r.log.Info("workflow", "Subject complete", map[string]interface{}{
				"subject":  res.result.SubjectID,
				"slides":   res.result.Slides,
				"duration": res.result.Duration.String(),
				"progress": fmt.Sprintf("%d/%d", completed+1, len(subjects)),
			})
		}
	}
	return results
}

func (r *Runner) processSubject(ctx context.Context, s Subject) SubjectResult {
	start := time.Now()
	res := SubjectResult{SubjectID: s.ID, Dir: filepath.Join(r.outputDir, s.ID)}
	res.Err = r.runSubject(ctx, s, &res)
	res.Duration = time.Since(start)
	return res
}

func (r *Runner) runSubject(ctx context.Context, s Subject, res *SubjectResult) error {
	proc := r.cfg.Processing
	out := r.cfg.Output

	if err := os.MkdirAll(res.Dir, 0755); err != nil {
		return fmt.Errorf("subject %s: %w", s.ID, err)
	}

	field, err := r.loadField(s, res.Dir)
	if err != nil {
		return fmt.Errorf("subject %s: %w", s.ID, err)
	}

	var sink calibration.ArtifactSink
	if out.SaveIntermediate {
		sink = calibration.NewDirSink(res.Dir, true)
	}
	cal, err := calibration.NewPipeline(r.cfg, sink, r.log).Calibrate(s.ID, s.Standards(), r.activities, field)
	if err != nil {
		return err
	}
	res.Model = cal.Model
	r.log.Info("workflow", "Calibration fitted", map[string]interface{}{
		"subject": s.ID,
		"min":     cal.Model.Min,
		"slope":   cal.Model.Slope,
		"ed50":    cal.Model.ED50,
		"max":     cal.Model.Max,
	})

	slides := s.Slides()
	if len(slides) == 0 {
		return fmt.Errorf("subject %s: %w", s.ID, ErrNoSlideFound)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := greyvalue.Options{CropRow: proc.CropRow, CropCol: proc.CropCol, Invert: true, Field: field}
	stack := make([]*models.GreyImage, len(slides))
	for i, path := range slides {
		grey, err := r.decoder.Decode(path, opts)
		if err != nil {
			return fmt.Errorf("subject %s: %w", s.ID, err)
		}
		stack[i] = grey
	}

	converter, err := conversion.NewConverter(proc.Rotate, proc.NumWorkers)
	if err != nil {
		return err
	}
	vol, err := converter.Convert(stack, cal.Model)
	if err != nil {
		return fmt.Errorf("subject %s: %w", s.ID, err)
	}
	res.Slides = vol.Slices
	if err := ctx.Err(); err != nil {
		return err
	}

	if out.SaveNifti {
		if err := r.writeNifti(vol, slides, cal.Stem, res); err != nil {
			return fmt.Errorf("subject %s: %w", s.ID, err)
		}
	}
	if out.SaveTiff {
		if err := r.writeSlices(vol, slides, res); err != nil {
			return fmt.Errorf("subject %s: %w", s.ID, err)
		}
	}
	if len(out.MosaicSlices) > 0 {
		path := filepath.Join(r.outputDir, cal.Stem+outputSuffix+".png")
		if err := writeMosaic(path, vol, out.MosaicSlices); err != nil {
			return fmt.Errorf("subject %s: %w", s.ID, err)
		}
		res.Outputs = append(res.Outputs, path)
	}
	return nil
}

// loadField resolves the flat and dark references from the configuration
// or from the subject's source and output directories.
func (r *Runner) loadField(s Subject, subDir string) (*models.FlatField, error) {
	flat := greyvalue.FindField(r.cfg.Processing.FlatField, "*flatfield.tif*", s.Dir, subDir)
	dark := greyvalue.FindField(r.cfg.Processing.DarkField, "*darkfield.tif*", s.Dir, subDir)

	field, err := r.decoder.LoadFlatField(flat, dark)
	if err != nil {
		return nil, err
	}
	if field == nil {
		r.log.Info("workflow", "Skipping flat field correction", map[string]interface{}{"subject": s.ID})
	}
	return field, nil
}

// writeNifti writes one volume per slide number holding that slide's
// sections in acquisition order.
func (r *Runner) writeNifti(vol *models.Volume, slides []string, stem string, res *SubjectResult) error {
	groups, unkeyed := groupBySlide(slides)
	for _, f := range unkeyed {
		r.log.Warning("workflow", "Slide image has no slide number, left out of NIfTI output", map[string]interface{}{
			"file": f,
		})
	}

	numbers := make([]string, 0, len(groups))
	for n := range groups {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	for _, n := range numbers {
		path := filepath.Join(res.Dir, fmt.Sprintf("%s_slide-%s%s.nii.gz", stem, n, outputSuffix))
		if err := volume.WriteNIfTI(path, vol, groups[n]); err != nil {
			return err
		}
		res.Outputs = append(res.Outputs, path)
	}
	return nil
}

// writeSlices writes one float TIFF per slide image, plus a preview when
// intermediate output is enabled.
func (r *Runner) writeSlices(vol *models.Volume, slides []string, res *SubjectResult) error {
	figDir := filepath.Join(res.Dir, "figures")
	for i, f := range slides {
		plane, err := volume.ExtractSlice(vol, "z", i)
		if err != nil {
			return err
		}
		name := naming.Stem(f) + outputSuffix
		path := filepath.Join(res.Dir, name+".tif")
		if err := volume.WriteFloatTIFF(path, plane); err != nil {
			return err
		}
		res.Outputs = append(res.Outputs, path)

		if r.cfg.Output.SaveIntermediate {
			preview := filepath.Join(figDir, name+".png")
			if err := figures.SlicePreview(preview, vol, i, 0); err != nil {
				r.log.Warning("workflow", "failed to save slice preview", map[string]interface{}{
					"file":  preview,
					"error": err.Error(),
				})
			}
		}
	}
	return nil
}

// writeMosaic tiles the selected slices; -1 anywhere selects all of them.
func writeMosaic(path string, vol *models.Volume, indices []int) error {
	for _, i := range indices {
		if i == -1 {
			return figures.Mosaic(path, vol, 0)
		}
	}
	sel, err := volume.Select(vol, indices)
	if err != nil {
		return err
	}
	return figures.Mosaic(path, sel, 0)
}
