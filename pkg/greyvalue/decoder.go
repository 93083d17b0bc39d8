// Package greyvalue turns raw camera exports into single-channel grey-value
// images, with optional flat/dark-field correction, cropping and inversion.
package greyvalue

import (
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"math"
	"os"

	_ "golang.org/x/image/tiff"

	"qarprep/internal/models"
)

// Luminosity weights for the RGB to grey conversion.
const (
	redWeight   = 0.2989
	greenWeight = 0.5870
	blueWeight  = 0.1140
)

// Options controls a single decode.
type Options struct {
	// CropRow and CropCol are the fractions removed from each end of
	// the row and column axes. Zero disables cropping.
	CropRow float64
	CropCol float64

	// Invert maps grey g to 65535-g so that dark film reads high.
	Invert bool

	// Field is the optional flat/dark-field correction.
	Field *models.FlatField
}

// Decoder reads images from disk. The zero value is ready to use.
type Decoder struct{}

// NewDecoder returns a decoder for TIFF and PNG exports.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode reads path and converts it to grey values.
func (d *Decoder) Decode(path string, opts Options) (*models.GreyImage, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	grey := ToGrey(img)
	if opts.Field != nil {
		if err := Correct(grey, opts.Field); err != nil {
			return nil, fmt.Errorf("flat-field correction of %s: %w", path, err)
		}
	}

	grey.Clamp()
	if opts.Invert {
		Invert(grey)
	}

	return Crop(grey, opts.CropRow, opts.CropCol), nil
}

// loadImage opens and decodes any registered image format
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

// ToGrey applies the luminosity conversion to a 16-bit colour image.
func ToGrey(img image.Image) *models.GreyImage {
	bounds := img.Bounds()
	grey := models.NewGreyImage(bounds.Dx(), bounds.Dy())

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			v := redWeight*float64(r) + greenWeight*float64(g) + blueWeight*float64(b)
			grey.Set(y-bounds.Min.Y, x-bounds.Min.X, v)
		}
	}

	return grey
}

// Correct applies (g - dark) * mean(flat - dark) / (flat - dark) in place.
// Pixels where flat equals dark are left uncorrected.
func Correct(grey *models.GreyImage, field *models.FlatField) error {
	if field.Flat == nil || field.Dark == nil {
		return errors.New("flat-field correction needs both flat and dark images")
	}
	if err := grey.SameShape(field.Flat); err != nil {
		return err
	}
	if err := grey.SameShape(field.Dark); err != nil {
		return err
	}

	var gain float64
	for i := range field.Flat.Pix {
		gain += field.Flat.Pix[i] - field.Dark.Pix[i]
	}
	gain /= float64(len(field.Flat.Pix))

	for i, g := range grey.Pix {
		denom := field.Flat.Pix[i] - field.Dark.Pix[i]
		if denom == 0 {
			continue
		}
		grey.Pix[i] = (g - field.Dark.Pix[i]) * gain / denom
	}
	return nil
}

// Invert maps every value v to 65535 - uint16(v).
func Invert(grey *models.GreyImage) {
	for i, v := range grey.Pix {
		grey.Pix[i] = models.MaxGrey - math.Trunc(v)
	}
}

// SymmetricalCrop returns the number of pixels removed from each end of
// an axis of length n when cropping the fraction q.
func SymmetricalCrop(n int, q float64) int {
	if n < 1 || q <= 0 {
		return 0
	}
	return int(math.Floor(q * float64(n-1)))
}

// Crop removes the row and column fractions from each end. A crop that
// would leave nothing is ignored.
func Crop(grey *models.GreyImage, cropRow, cropCol float64) *models.GreyImage {
	rowLim := SymmetricalCrop(grey.Height, cropRow)
	colLim := SymmetricalCrop(grey.Width, cropCol)
	if 2*rowLim >= grey.Height {
		rowLim = 0
	}
	if 2*colLim >= grey.Width {
		colLim = 0
	}
	if rowLim == 0 && colLim == 0 {
		return grey
	}

	out := models.NewGreyImage(grey.Width-2*colLim, grey.Height-2*rowLim)
	for r := 0; r < out.Height; r++ {
		src := grey.Pix[(r+rowLim)*grey.Width+colLim : (r+rowLim)*grey.Width+colLim+out.Width]
		copy(out.Pix[r*out.Width:(r+1)*out.Width], src)
	}
	return out
}
