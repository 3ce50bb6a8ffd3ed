// Package geotest builds small GeoTIFF and shapefile fixtures for tests.
package geotest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
)

const (
	SampleUint  = 1
	SampleInt   = 2
	SampleFloat = 3

	CompressionNone    = 1
	CompressionDeflate = 8

	PredictorHorizontal = 2
	PredictorFloat      = 3
)

// GeoTIFF describes a single band, little-endian GeoTIFF.
type GeoTIFF struct {
	Width, Height int
	// Pixels are band 1 values in row-major order.
	Pixels []uint16
	// Samples replace Pixels for signed or floating point rasters.
	Samples []float64
	// Bits is 8, 16, 32 or 64. Zero means 8.
	Bits int
	// SampleFormat of zero writes no SampleFormat tag (unsigned).
	SampleFormat int
	// Compression of zero means none.
	Compression int
	Predictor   int
	// TileSize writes square tiles instead of a single strip.
	TileSize int

	// EPSG of zero writes no GeoKeyDirectory.
	EPSG       int
	Geographic bool

	// OriginX/OriginY is the upper-left corner of the upper-left pixel.
	OriginX, OriginY        float64
	PixelWidth, PixelHeight float64

	NoData string
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

func shorts(vals ...uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out
}

func longs(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

func doubles(vals ...float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func (g GeoTIFF) bits() int {
	if g.Bits == 0 {
		return 8
	}
	return g.Bits
}

func (g GeoTIFF) format() int {
	if g.SampleFormat == 0 {
		return SampleUint
	}
	return g.SampleFormat
}

func (g GeoTIFF) values() ([]float64, error) {
	n := g.Width * g.Height
	if g.Samples != nil {
		if len(g.Samples) != n {
			return nil, fmt.Errorf("expected %d samples, got %d", n, len(g.Samples))
		}
		return g.Samples, nil
	}
	if len(g.Pixels) != n {
		return nil, fmt.Errorf("expected %d pixels, got %d", n, len(g.Pixels))
	}
	out := make([]float64, n)
	for i, p := range g.Pixels {
		out[i] = float64(p)
	}
	return out, nil
}

// putSample writes v at the start of b in the fixture's sample encoding.
func (g GeoTIFF) putSample(b []byte, v float64) error {
	le := binary.LittleEndian
	switch g.format() {
	case SampleFloat:
		switch g.bits() {
		case 32:
			le.PutUint32(b, math.Float32bits(float32(v)))
		case 64:
			le.PutUint64(b, math.Float64bits(v))
		default:
			return fmt.Errorf("unsupported float bit depth %d", g.bits())
		}
	case SampleInt:
		switch g.bits() {
		case 8:
			b[0] = byte(int8(v))
		case 16:
			le.PutUint16(b, uint16(int16(v)))
		case 32:
			le.PutUint32(b, uint32(int32(v)))
		default:
			return fmt.Errorf("unsupported integer bit depth %d", g.bits())
		}
	default:
		switch g.bits() {
		case 8:
			if v < 0 || v > 255 {
				return fmt.Errorf("value %v does not fit in 8 bits", v)
			}
			b[0] = byte(v)
		case 16:
			le.PutUint16(b, uint16(v))
		case 32:
			le.PutUint32(b, uint32(v))
		default:
			return fmt.Errorf("unsupported bit depth %d", g.bits())
		}
	}
	return nil
}

// predict applies the configured predictor to one row of encoded samples.
func (g GeoTIFF) predict(row []byte, samples int) {
	size := g.bits() / 8
	le := binary.LittleEndian
	switch g.Predictor {
	case PredictorHorizontal:
		for i := samples - 1; i > 0; i-- {
			at, prev := i*size, (i-1)*size
			switch size {
			case 1:
				row[at] -= row[prev]
			case 2:
				le.PutUint16(row[at:], le.Uint16(row[at:])-le.Uint16(row[prev:]))
			case 4:
				le.PutUint32(row[at:], le.Uint32(row[at:])-le.Uint32(row[prev:]))
			}
		}
	case PredictorFloat:
		planes := make([]byte, len(row))
		for s := 0; s < samples; s++ {
			for b := 0; b < size; b++ {
				planes[b*samples+s] = row[s*size+size-1-b]
			}
		}
		for i := len(planes) - 1; i > 0; i-- {
			planes[i] -= planes[i-1]
		}
		copy(row, planes)
	}
}

// chunk encodes the w*h block at (x0, y0), padding past the raster edge
// with zeros.
func (g GeoTIFF) chunk(values []float64, x0, y0, w, h int) ([]byte, error) {
	size := g.bits() / 8
	out := make([]byte, w*h*size)
	for y := 0; y < h; y++ {
		row := out[y*w*size : (y+1)*w*size]
		for x := 0; x < w; x++ {
			px, py := x0+x, y0+y
			if px >= g.Width || py >= g.Height {
				continue
			}
			if err := g.putSample(row[x*size:], values[py*g.Width+px]); err != nil {
				return nil, err
			}
		}
		g.predict(row, w)
	}

	if g.Compression != CompressionDeflate {
		return out, nil
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(out); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g GeoTIFF) chunks() ([][]byte, error) {
	values, err := g.values()
	if err != nil {
		return nil, err
	}

	if g.TileSize == 0 {
		c, err := g.chunk(values, 0, 0, g.Width, g.Height)
		if err != nil {
			return nil, err
		}
		return [][]byte{c}, nil
	}

	var out [][]byte
	for y := 0; y < g.Height; y += g.TileSize {
		for x := 0; x < g.Width; x += g.TileSize {
			c, err := g.chunk(values, x, y, g.TileSize, g.TileSize)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// Encode returns the file contents.
func (g GeoTIFF) Encode() ([]byte, error) {
	chunks, err := g.chunks()
	if err != nil {
		return nil, err
	}

	compression := uint16(CompressionNone)
	if g.Compression != 0 {
		compression = uint16(g.Compression)
	}

	n := uint32(len(chunks))
	counts := make([]uint32, n)
	for i, c := range chunks {
		counts[i] = uint32(len(c))
	}

	offsetTag, countTag := uint16(273), uint16(279)
	entries := []entry{
		{tag: 256, typ: typeLong, count: 1, value: longs(uint32(g.Width))},
		{tag: 257, typ: typeLong, count: 1, value: longs(uint32(g.Height))},
		{tag: 258, typ: typeShort, count: 1, value: shorts(uint16(g.bits()))},
		{tag: 259, typ: typeShort, count: 1, value: shorts(compression)},
		{tag: 262, typ: typeShort, count: 1, value: shorts(1)},
		{tag: 277, typ: typeShort, count: 1, value: shorts(1)},
	}
	if g.TileSize == 0 {
		entries = append(entries, entry{tag: 278, typ: typeLong, count: 1, value: longs(uint32(g.Height))})
	} else {
		offsetTag, countTag = 324, 325
		entries = append(entries,
			entry{tag: 322, typ: typeLong, count: 1, value: longs(uint32(g.TileSize))},
			entry{tag: 323, typ: typeLong, count: 1, value: longs(uint32(g.TileSize))},
		)
	}
	entries = append(entries,
		// Offsets are patched once the layout is known.
		entry{tag: offsetTag, typ: typeLong, count: n, value: make([]byte, 4*n)},
		entry{tag: countTag, typ: typeLong, count: n, value: longs(counts...)},
	)
	if g.Predictor != 0 {
		entries = append(entries, entry{tag: 317, typ: typeShort, count: 1, value: shorts(uint16(g.Predictor))})
	}
	if g.SampleFormat != 0 {
		entries = append(entries, entry{tag: 339, typ: typeShort, count: 1, value: shorts(uint16(g.SampleFormat))})
	}

	if g.PixelWidth != 0 || g.PixelHeight != 0 {
		entries = append(entries,
			entry{tag: 33550, typ: typeDouble, count: 3, value: doubles(g.PixelWidth, g.PixelHeight, 0)},
			entry{tag: 33922, typ: typeDouble, count: 6, value: doubles(0, 0, 0, g.OriginX, g.OriginY, 0)},
		)
	}

	if g.EPSG != 0 {
		modelType, crsKey := uint16(1), uint16(3072)
		if g.Geographic {
			modelType, crsKey = 2, 2048
		}
		keys := shorts(
			1, 1, 0, 3,
			1024, 0, 1, modelType,
			1025, 0, 1, 1,
			crsKey, 0, 1, uint16(g.EPSG),
		)
		entries = append(entries, entry{tag: 34735, typ: typeShort, count: uint32(len(keys) / 2), value: keys})
	}

	if g.NoData != "" {
		value := append([]byte(g.NoData), 0)
		entries = append(entries, entry{tag: 42113, typ: typeASCII, count: uint32(len(value)), value: value})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: header, IFD, out-of-line values, pixel chunks.
	ifdSize := 2 + 12*len(entries) + 4
	next := uint32(8 + ifdSize)
	valueAt := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.value) > 4 {
			valueAt[i] = next
			next += uint32(len(e.value))
			next += next % 2
		}
	}

	chunkAt := make([]uint32, n)
	for i, c := range chunks {
		chunkAt[i] = next
		next += uint32(len(c))
	}
	for i := range entries {
		if entries[i].tag == offsetTag {
			entries[i].value = longs(chunkAt...)
		}
	}

	buf := make([]byte, next)
	copy(buf[0:2], "II")
	binary.LittleEndian.PutUint16(buf[2:], 42)
	binary.LittleEndian.PutUint32(buf[4:], 8)
	binary.LittleEndian.PutUint16(buf[8:], uint16(len(entries)))

	for i, e := range entries {
		at := 10 + 12*i
		binary.LittleEndian.PutUint16(buf[at:], e.tag)
		binary.LittleEndian.PutUint16(buf[at+2:], e.typ)
		binary.LittleEndian.PutUint32(buf[at+4:], e.count)
		if len(e.value) > 4 {
			binary.LittleEndian.PutUint32(buf[at+8:], valueAt[i])
			copy(buf[valueAt[i]:], e.value)
		} else {
			copy(buf[at+8:at+12], e.value)
		}
	}
	for i, c := range chunks {
		copy(buf[chunkAt[i]:], c)
	}

	return buf, nil
}

func (g GeoTIFF) Write(path string) error {
	data, err := g.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Ramp returns width*height values counting up from start.
func Ramp(width, height int, start uint16) []uint16 {
	out := make([]uint16, width*height)
	for i := range out {
		out[i] = start + uint16(i)
	}
	return out
}

// Fill returns width*height copies of v.
func Fill(width, height int, v uint16) []uint16 {
	out := make([]uint16, width*height)
	for i := range out {
		out[i] = v
	}
	return out
}
