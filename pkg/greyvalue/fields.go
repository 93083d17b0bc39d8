package greyvalue

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/tiff"

	"qarprep/internal/models"
	"qarprep/internal/naming"
)

// FindField returns explicit when set, otherwise the first file in dirs
// matching pattern (e.g. "*flatfield.tif*"). An empty result means no
// field image is available.
func FindField(explicit string, pattern string, dirs ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0]
	}
	return ""
}

// LoadFlatField decodes the flat and dark reference images. It returns nil
// without error when either path is empty, meaning correction is skipped.
func (d *Decoder) LoadFlatField(flatPath, darkPath string) (*models.FlatField, error) {
	if flatPath == "" || darkPath == "" {
		return nil, nil
	}

	flat, err := d.Decode(flatPath, Options{})
	if err != nil {
		return nil, fmt.Errorf("flat field: %w", err)
	}
	dark, err := d.Decode(darkPath, Options{})
	if err != nil {
		return nil, fmt.Errorf("dark field: %w", err)
	}
	if err := flat.SameShape(dark); err != nil {
		return nil, fmt.Errorf("flat and dark field differ: %w", err)
	}

	return &models.FlatField{Flat: flat, Dark: dark}, nil
}

// AverageFrames decodes every frame and returns their pixelwise mean.
func (d *Decoder) AverageFrames(paths []string) (*models.GreyImage, error) {
	if len(paths) == 0 {
		return nil, errors.New("no frames to average")
	}

	var sum *models.GreyImage
	for _, p := range paths {
		frame, err := d.Decode(p, Options{})
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = models.NewGreyImage(frame.Width, frame.Height)
		} else if err := sum.SameShape(frame); err != nil {
			return nil, fmt.Errorf("frame %s: %w", p, err)
		}
		for i, v := range frame.Pix {
			sum.Pix[i] += v
		}
	}

	n := float64(len(paths))
	for i := range sum.Pix {
		sum.Pix[i] /= n
	}
	return sum, nil
}

// WriteGray16TIFF stores grey as a deflate-compressed 16-bit TIFF, rounding
// to the nearest grey level.
func WriteGray16TIFF(path string, grey *models.GreyImage) error {
	img := image.NewGray16(image.Rect(0, 0, grey.Width, grey.Height))
	for r := 0; r < grey.Height; r++ {
		for c := 0; c < grey.Width; c++ {
			v := math.Round(grey.At(r, c))
			v = math.Max(0, math.Min(models.MaxGrey, v))
			img.SetGray16(c, r, color.Gray16{Y: uint16(v)})
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

	return tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// BuildReference averages the frames of one field kind ("flatfield" or
// "darkfield") found in dir and writes "<stem>_<kind>.tif" to outDir, where
// stem is the key-value pairs of the first frame without the kind key.
// extensions restricts the frames considered.
func (d *Decoder) BuildReference(dir, kind string, extensions []string, outDir string) (string, error) {
	var frames []string
	for _, ext := range extensions {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+kind+"*"+ext))
		if err != nil {
			return "", err
		}
		frames = append(frames, matches...)
	}
	if len(frames) == 0 {
		return "", fmt.Errorf("no %s frames found in %s", kind, dir)
	}
	sort.Strings(frames)

	avg, err := d.AverageFrames(frames)
	if err != nil {
		return "", err
	}

	name := naming.Stem(frames[0])
	var keys []string
	for _, k := range naming.OrderedKeys(name) {
		if !strings.Contains(k, kind) {
			keys = append(keys, k)
		}
	}
	stem := naming.JoinKV(naming.ParseKV(name), keys)
	if stem == "" {
		stem = "reference"
	}

	path := filepath.Join(outDir, stem+"_"+kind+".tif")
	if err := WriteGray16TIFF(path, avg); err != nil {
		return "", err
	}
	return path, nil
}
