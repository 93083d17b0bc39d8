package volume

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"qarprep/internal/models"
)

// NIfTI-1 constants
const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352
	niftiFloat32    = 16
)

// niftiHeader is the 348-byte NIfTI-1 header, field for field.
type niftiHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

func newNiftiHeader(v *models.Volume) niftiHeader {
	h := niftiHeader{
		SizeofHdr: niftiHeaderSize,
		Regular:   'r',
		Dim:       [8]int16{3, int16(v.Rows), int16(v.Cols), int16(v.Slices), 1, 1, 1, 1},
		Datatype:  niftiFloat32,
		Bitpix:    32,
		Pixdim:    [8]float32{1, 1, 1, 1, 1, 1, 1, 1},
		VoxOffset: niftiVoxOffset,
		SclSlope:  1,
		// identity voxel-to-world transform, stated both ways
		QformCode: 1,
		SformCode: 1,
		SrowX:     [4]float32{1, 0, 0, 0},
		SrowY:     [4]float32{0, 1, 0, 0},
		SrowZ:     [4]float32{0, 0, 1, 0},
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	copy(h.Descrip[:], "qarprep activity (uCi/g)")
	return h
}

// WriteNIfTI stores the selected slices of v (all of them when indices is
// nil) as a single-file float32 NIfTI-1 volume. Paths ending in ".gz" are
// gzip compressed. Rows run along the first axis.
func WriteNIfTI(path string, v *models.Volume, indices []int) error {
	if indices != nil {
		sel, err := Select(v, indices)
		if err != nil {
			return err
		}
		v = sel
	}
	if v.Rows > 32767 || v.Cols > 32767 || v.Slices > 32767 {
		return fmt.Errorf("volume %dx%dx%d exceeds NIfTI-1 dimension limits", v.Rows, v.Cols, v.Slices)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var w io.Writer = file
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(file)
		w = gz
	}
	bw := bufio.NewWriter(w)

	if err := encodeNIfTI(bw, v); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return file.Close()
}

func encodeNIfTI(w io.Writer, v *models.Volume) error {
	if err := binary.Write(w, binary.LittleEndian, newNiftiHeader(v)); err != nil {
		return err
	}
	// empty extension block
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	// first axis varies fastest
	buf := make([]float32, v.Rows)
	for s := 0; s < v.Slices; s++ {
		for c := 0; c < v.Cols; c++ {
			for r := 0; r < v.Rows; r++ {
				buf[r] = float32(v.At(r, c, s))
			}
			if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadNIfTI reads a float32 volume written by WriteNIfTI.
func ReadNIfTI(path string) (*models.Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = bufio.NewReader(file)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	var h niftiHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("error reading NIfTI header: %w", err)
	}
	if h.SizeofHdr != niftiHeaderSize || h.Magic != [4]byte{'n', '+', '1', 0} {
		return nil, fmt.Errorf("%s is not a single-file NIfTI-1 volume", path)
	}
	if h.Datatype != niftiFloat32 {
		return nil, fmt.Errorf("unsupported NIfTI datatype %d", h.Datatype)
	}
	if _, err := io.CopyN(io.Discard, r, int64(h.VoxOffset)-niftiHeaderSize); err != nil {
		return nil, err
	}

	v := models.NewVolume(int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3]))
	buf := make([]float32, v.Rows)
	for s := 0; s < v.Slices; s++ {
		for c := 0; c < v.Cols; c++ {
			if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
				return nil, fmt.Errorf("error reading NIfTI data: %w", err)
			}
			for row, val := range buf {
				v.Data[v.Index(row, c, s)] = float64(val)
			}
		}
	}
	return v, nil
}
