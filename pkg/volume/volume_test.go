package volume

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"qarprep/internal/models"
)

// createTestVolume fills each voxel with a value encoding its position
func createTestVolume(rows, cols, slices int) *models.Volume {
	v := models.NewVolume(rows, cols, slices)
	for s := 0; s < slices; s++ {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				v.Data[v.Index(r, c, s)] = float64(100*s + 10*r + c)
			}
		}
	}
	return v
}

// TestExtractSlice verifies that planes are cut along every axis
func TestExtractSlice(t *testing.T) {
	v := createTestVolume(4, 5, 3)

	z, err := ExtractSlice(v, "z", 2)
	if err != nil {
		t.Fatalf("Failed to extract Z slice: %v", err)
	}
	if z.Rows != 4 || z.Cols != 5 || z.At(3, 4) != 234 {
		t.Errorf("Expected 4x5 plane with corner 234, got %dx%d with %f", z.Rows, z.Cols, z.At(3, 4))
	}

	y, err := ExtractSlice(v, "y", 1)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if y.Rows != 3 || y.Cols != 5 || y.At(2, 3) != 213 {
		t.Errorf("Expected 3x5 plane with value 213, got %dx%d with %f", y.Rows, y.Cols, y.At(2, 3))
	}

	x, err := ExtractSlice(v, "x", 4)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if x.Rows != 4 || x.Cols != 3 || x.At(1, 2) != 214 {
		t.Errorf("Expected 4x3 plane with value 214, got %dx%d with %f", x.Rows, x.Cols, x.At(1, 2))
	}

	if _, err := ExtractSlice(v, "z", 3); err == nil {
		t.Error("Expected error for out-of-range position")
	}
	if _, err := ExtractSlice(v, "w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := ExtractSlice(v, "z", -1); err == nil {
		t.Error("Expected error for negative position")
	}
}

func TestSelect(t *testing.T) {
	v := createTestVolume(2, 2, 4)
	sel, err := Select(v, []int{3, 1})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if sel.Slices != 2 || sel.At(1, 1, 0) != 311 || sel.At(0, 0, 1) != 100 {
		t.Errorf("Expected slices 3 and 1, got %v", sel.Data)
	}
	if _, err := Select(v, []int{4}); err == nil {
		t.Error("Expected error for out-of-range slice")
	}
}

func TestFloatTIFFRoundTrip(t *testing.T) {
	p := &Plane{Rows: 3, Cols: 4, Data: []float64{
		0, 1.5, -2.25, 1e6,
		3.125, 0.5, 42, 7,
		float64(float32(math.Pi)), 0, 1024.75, 65535,
	}}
	path := filepath.Join(t.TempDir(), "slice.tif")

	if err := WriteFloatTIFF(path, p); err != nil {
		t.Fatalf("WriteFloatTIFF failed: %v", err)
	}

	got, err := ReadFloatTIFF(path)
	if err != nil {
		t.Fatalf("ReadFloatTIFF failed: %v", err)
	}
	if got.Rows != p.Rows || got.Cols != p.Cols {
		t.Fatalf("Expected %dx%d, got %dx%d", p.Rows, p.Cols, got.Rows, got.Cols)
	}
	for i := range p.Data {
		if got.Data[i] != p.Data[i] {
			t.Errorf("pixel %d: Expected %v, got %v", i, p.Data[i], got.Data[i])
		}
	}

	viaImage, err := ReadImage(path)
	if err != nil {
		t.Fatalf("ReadImage failed: %v", err)
	}
	if viaImage.At(2, 2) != 1024.75 {
		t.Errorf("Expected 1024.75, got %f", viaImage.At(2, 2))
	}
}

func TestReadImageFallsBackToIntegerTIFF(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 3, 2))
	img.SetGray16(2, 1, color.Gray16{Y: 4321})

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "grey.tif")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := ReadImage(path)
	if err != nil {
		t.Fatalf("ReadImage failed: %v", err)
	}
	if p.Rows != 2 || p.Cols != 3 || p.At(1, 2) != 4321 {
		t.Errorf("Expected 2x3 with 4321 at (1,2), got %dx%d with %f", p.Rows, p.Cols, p.At(1, 2))
	}

	if _, err := ReadFloatTIFF(path); err == nil {
		t.Error("Expected ReadFloatTIFF to reject an integer TIFF")
	}
}

func TestWriteNIfTIHeader(t *testing.T) {
	v := createTestVolume(3, 2, 2)
	path := filepath.Join(t.TempDir(), "vol.nii")

	if err := WriteNIfTI(path, v, nil); err != nil {
		t.Fatalf("WriteNIfTI failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if want := niftiVoxOffset + 3*2*2*4; len(data) != want {
		t.Fatalf("Expected %d bytes, got %d", want, len(data))
	}
	if size := binary.LittleEndian.Uint32(data[0:4]); size != 348 {
		t.Errorf("Expected header size 348, got %d", size)
	}
	if string(data[344:347]) != "n+1" || data[347] != 0 {
		t.Errorf("Expected magic n+1, got %q", data[344:348])
	}
	if dt := binary.LittleEndian.Uint16(data[70:72]); dt != niftiFloat32 {
		t.Errorf("Expected datatype %d, got %d", niftiFloat32, dt)
	}
	for i, want := range []uint16{3, 3, 2, 2} {
		if got := binary.LittleEndian.Uint16(data[40+2*i:]); got != want {
			t.Errorf("dim[%d]: Expected %d, got %d", i, want, got)
		}
	}
	if q, s := binary.LittleEndian.Uint16(data[252:254]), binary.LittleEndian.Uint16(data[254:256]); q != 1 || s != 1 {
		t.Errorf("Expected qform_code and sform_code 1, got %d and %d", q, s)
	}
	for i, want := range []float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0} {
		if got := math.Float32frombits(binary.LittleEndian.Uint32(data[280+4*i:])); got != want {
			t.Errorf("srow[%d]: Expected %g, got %g", i, want, got)
		}
	}

	// rows vary fastest: the second voxel is (1, 0, 0)
	second := math.Float32frombits(binary.LittleEndian.Uint32(data[niftiVoxOffset+4:]))
	if second != 10 {
		t.Errorf("Expected second voxel 10, got %f", second)
	}
}

func TestWriteNIfTIGzipRoundTrip(t *testing.T) {
	v := createTestVolume(4, 3, 5)
	path := filepath.Join(t.TempDir(), "sub-01_slide-01_desc-preproc_ARG.nii.gz")

	if err := WriteNIfTI(path, v, []int{1, 4}); err != nil {
		t.Fatalf("WriteNIfTI failed: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("Expected gzip stream: %v", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != niftiVoxOffset+4*3*2*4 {
		t.Errorf("Expected %d decompressed bytes, got %d", niftiVoxOffset+4*3*2*4, len(raw))
	}

	got, err := ReadNIfTI(path)
	if err != nil {
		t.Fatalf("ReadNIfTI failed: %v", err)
	}
	if got.Rows != 4 || got.Cols != 3 || got.Slices != 2 {
		t.Fatalf("Expected 4x3x2, got %dx%dx%d", got.Rows, got.Cols, got.Slices)
	}
	if got.At(3, 2, 1) != 432 || got.At(0, 1, 0) != 101 {
		t.Errorf("Expected selected slices 1 and 4, got %v", got.Data)
	}
}
