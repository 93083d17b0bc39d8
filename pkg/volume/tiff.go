package volume

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"
)

// TIFF tags and field types used by the float codec
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339

	typeShort = 3
	typeLong  = 4

	sampleFormatFloat = 3
)

var errNotFloat = errors.New("not a 32-bit float TIFF")

type ifdEntry struct {
	Tag   uint16
	Type  uint16
	Count uint32
	Value uint32
}

// WriteFloatTIFF stores p as an uncompressed single-strip 32-bit float
// grayscale TIFF.
func WriteFloatTIFF(path string, p *Plane) error {
	const numEntries = 11
	dataOffset := uint32(8 + 2 + numEntries*12 + 4)
	byteCount := uint32(p.Rows * p.Cols * 4)

	short := func(tag uint16, v uint16) ifdEntry {
		return ifdEntry{Tag: tag, Type: typeShort, Count: 1, Value: uint32(v)}
	}
	long := func(tag uint16, v uint32) ifdEntry {
		return ifdEntry{Tag: tag, Type: typeLong, Count: 1, Value: v}
	}
	entries := [numEntries]ifdEntry{
		long(tagImageWidth, uint32(p.Cols)),
		long(tagImageLength, uint32(p.Rows)),
		short(tagBitsPerSample, 32),
		short(tagCompression, 1),
		short(tagPhotometric, 1),
		long(tagStripOffsets, dataOffset),
		short(tagSamplesPerPixel, 1),
		long(tagRowsPerStrip, uint32(p.Rows)),
		long(tagStripByteCounts, byteCount),
		short(tagPlanarConfig, 1),
		short(tagSampleFormat, sampleFormatFloat),
	}

	var buf bytes.Buffer
	buf.Grow(int(dataOffset + byteCount))
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(8))
	binary.Write(&buf, binary.LittleEndian, uint16(numEntries))
	// a little-endian SHORT sits in the low bytes of the value field
	binary.Write(&buf, binary.LittleEndian, entries)
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	for _, v := range p.Data {
		binary.Write(&buf, binary.LittleEndian, float32(v))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// ReadImage reads a TIFF as a plane. Float TIFFs are read directly; any
// other TIFF is decoded and its grey (red channel, 16-bit) values used.
func ReadImage(path string) (*Plane, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	p, err := decodeFloat(data)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, errNotFloat) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	b := img.Bounds()
	p = &Plane{Rows: b.Dy(), Cols: b.Dx(), Data: make([]float64, b.Dx()*b.Dy())}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			p.Data[(y-b.Min.Y)*p.Cols+(x-b.Min.X)] = float64(r)
		}
	}
	return p, nil
}

// ReadFloatTIFF reads a TIFF written by WriteFloatTIFF or any other
// uncompressed, single-channel 32-bit float TIFF.
func ReadFloatTIFF(path string) (*Plane, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := decodeFloat(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func decodeFloat(data []byte) (*Plane, error) {
	if len(data) < 8 {
		return nil, errors.New("file too short for a TIFF header")
	}

	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errors.New("missing TIFF byte order mark")
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, errors.New("bad TIFF magic number")
	}

	ifd := int(order.Uint32(data[4:8]))
	if ifd+2 > len(data) {
		return nil, errors.New("IFD offset out of range")
	}
	n := int(order.Uint16(data[ifd : ifd+2]))
	if ifd+2+n*12 > len(data) {
		return nil, errors.New("IFD truncated")
	}

	fields := make(map[uint16][]uint32, n)
	for i := 0; i < n; i++ {
		e := data[ifd+2+i*12 : ifd+2+(i+1)*12]
		vals, err := fieldValues(data, order, order.Uint16(e[2:4]), order.Uint32(e[4:8]), e[8:12])
		if err != nil {
			return nil, err
		}
		fields[order.Uint16(e[0:2])] = vals
	}

	single := func(tag uint16, def uint32) uint32 {
		if v, ok := fields[tag]; ok && len(v) > 0 {
			return v[0]
		}
		return def
	}
	if single(tagSampleFormat, 1) != sampleFormatFloat || single(tagBitsPerSample, 0) != 32 {
		return nil, errNotFloat
	}
	if single(tagCompression, 1) != 1 {
		return nil, errors.New("compressed float TIFFs are not supported")
	}
	if single(tagSamplesPerPixel, 1) != 1 {
		return nil, errors.New("multi-channel float TIFFs are not supported")
	}

	cols := int(single(tagImageWidth, 0))
	rows := int(single(tagImageLength, 0))
	offsets, counts := fields[tagStripOffsets], fields[tagStripByteCounts]
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, errors.New("missing or inconsistent strip layout")
	}

	raw := make([]byte, 0, rows*cols*4)
	for i, off := range offsets {
		end := int(off) + int(counts[i])
		if end > len(data) {
			return nil, errors.New("strip out of range")
		}
		raw = append(raw, data[off:end]...)
	}
	if len(raw) < rows*cols*4 {
		return nil, fmt.Errorf("expected %d bytes of pixel data, got %d", rows*cols*4, len(raw))
	}

	p := &Plane{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
	for i := range p.Data {
		p.Data[i] = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
	}
	return p, nil
}

// fieldValues returns the SHORT or LONG values of an IFD entry, following
// the offset when they do not fit in the 4-byte value field.
func fieldValues(data []byte, order binary.ByteOrder, typ uint16, count uint32, field []byte) ([]uint32, error) {
	var size int
	switch typ {
	case typeShort:
		size = 2
	case typeLong:
		size = 4
	default:
		return nil, nil
	}

	src := field
	if total := int(count) * size; total > 4 {
		off := int(order.Uint32(field))
		if off+total > len(data) {
			return nil, errors.New("IFD value out of range")
		}
		src = data[off : off+total]
	}

	vals := make([]uint32, count)
	for i := range vals {
		if size == 2 {
			vals[i] = uint32(order.Uint16(src[i*2:]))
		} else {
			vals[i] = order.Uint32(src[i*4:])
		}
	}
	return vals, nil
}
